package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/company"
	"github.com/sells-group/finrisk/internal/config"
	"github.com/sells-group/finrisk/internal/db"
	"github.com/sells-group/finrisk/internal/metric"
	"github.com/sells-group/finrisk/internal/report"
	"github.com/sells-group/finrisk/internal/resilience"
	"github.com/sells-group/finrisk/internal/risk"
	"github.com/sells-group/finrisk/pkg/aiclient"
	"github.com/sells-group/finrisk/pkg/docstore"
)

// appEnv holds the pool, stores and services shared by the commands.
type appEnv struct {
	Pool      *pgxpool.Pool
	Catalog   *metric.CachedCatalog
	Companies *company.PostgresStore
	Reports   *report.PostgresStore
	ReportSvc *report.Service
	RiskStore *risk.PostgresStore
	Engine    *risk.Engine
}

// Close releases the pool.
func (e *appEnv) Close() {
	if e.Pool != nil {
		e.Pool.Close()
	}
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Open(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open database")
	}
	return pool, nil
}

// initEnv opens the database, loads the metric catalog and wires the
// report service and risk engine. The engine is registered as the publish
// listener so ACTUAL publishes rescore immediately. Callers should defer
// env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	pool, err := openPool(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Pool: pool}

	env.Catalog = metric.NewCachedCatalog(metric.NewPostgresStore(pool))
	if err := env.Catalog.Load(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "load metric catalog")
	}

	env.Companies = company.NewPostgresStore(pool)
	env.Reports = report.NewPostgresStore(pool)
	env.RiskStore = risk.NewPostgresStore(pool)

	docs := docstore.NewLocalStore(cfg.Docs.Dir, docstore.WithBaseURL(cfg.Docs.BaseURL))
	env.ReportSvc = report.NewService(env.Reports, env.Catalog, env.Companies, docs)

	env.Engine, err = newEngine(cfg.Risk, env.Reports, env.RiskStore)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.ReportSvc.SetListener(env.Engine)

	zap.L().Debug("environment ready", zap.Int("metrics", env.Catalog.Len()))
	return env, nil
}

func newEngine(rc config.RiskConfig, versions risk.VersionSource, store risk.Store) (*risk.Engine, error) {
	warn, danger := rc.Thresholds()
	e, err := risk.NewEngine(versions, store,
		risk.WithThresholds(risk.Thresholds{Warn: warn, Risk: danger}),
		risk.WithConcurrency(rc.Concurrency),
		risk.WithPageSize(rc.PageSize),
	)
	if err != nil {
		return nil, eris.Wrap(err, "build risk engine")
	}
	return e, nil
}

func newAIClient(ac config.AIConfig) aiclient.Client {
	retry := resilience.DefaultRetryConfig()
	if ac.MaxAttempts > 0 {
		retry.MaxAttempts = ac.MaxAttempts
	}
	if ac.InitialBackoffMs > 0 {
		retry.InitialBackoff = time.Duration(ac.InitialBackoffMs) * time.Millisecond
	}
	breaker := resilience.BreakerConfig{
		FailureThreshold: ac.FailureThreshold,
		ResetTimeout:     time.Duration(ac.ResetTimeoutSecs) * time.Second,
	}

	opts := []aiclient.Option{
		aiclient.WithBaseURL(ac.BaseURL),
		aiclient.WithPolicy(resilience.NewPolicy("ai", retry, breaker)),
	}
	if ac.RateLimit > 0 {
		burst := ac.RateBurst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, aiclient.WithRateLimit(ac.RateLimit, burst))
	}
	if ac.TimeoutSecs > 0 {
		opts = append(opts, aiclient.WithHTTPClient(&http.Client{Timeout: ac.Timeout()}))
	}
	return aiclient.NewClient(ac.Key, opts...)
}
