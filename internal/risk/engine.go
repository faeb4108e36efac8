package risk

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/report"
)

// VersionSource is the slice of the report store the engine reads.
type VersionSource interface {
	GetVersion(ctx context.Context, versionID int64) (*report.ReportVersion, error)
	RiskIndicatorValues(ctx context.Context, versionID int64, q quarter.Key) ([]decimal.Decimal, error)
	ListLatestVersions(ctx context.Context, afterReportID int64, limit int) ([]report.LatestVersion, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithThresholds overrides the default banding.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) {
		e.thresholds = t
	}
}

// WithConcurrency bounds the units processed in parallel within a page.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithPageSize sets the batch keyset page size.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// Engine computes and persists risk summaries.
type Engine struct {
	versions    VersionSource
	store       Store
	thresholds  Thresholds
	concurrency int
	pageSize    int
	log         *zap.Logger
}

// NewEngine creates an Engine. Thresholds are validated here.
func NewEngine(versions VersionSource, store Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		versions:    versions,
		store:       store,
		thresholds:  DefaultThresholds(),
		concurrency: 8,
		pageSize:    200,
		log:         zap.L().With(zap.String("component", "risk.engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.thresholds.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Thresholds returns the active banding.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// CalculateAndUpsert aggregates the non-null ACTUAL risk-indicator values of
// exactly one version and value quarter. With no inputs the level is
// UNDEFINED and avg/score are null. The summary is upserted, then the
// company's key-metric row for the quarter. An UNDEFINED result only fills a
// key-metric row that has no defined level yet, so a newer document-only
// version leaves the dashboard level of its quarter intact.
func (e *Engine) CalculateAndUpsert(ctx context.Context, companyID int64, q quarter.Key, versionID int64) (*Summary, error) {
	v, err := e.versions.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, eris.Wrapf(report.ErrVersionNotFound, "risk: calculate version %d", versionID)
	}

	values, err := e.versions.RiskIndicatorValues(ctx, versionID, q)
	if err != nil {
		return nil, err
	}

	avg := Average(values)
	sum := &Summary{
		CompanyID:        companyID,
		Quarter:          q,
		VersionID:        versionID,
		RiskMetricsCount: len(values),
		RiskMetricsAvg:   avg,
		RiskScore:        avg,
		RiskLevel:        e.thresholds.Band(avg),
	}
	if err := e.store.UpsertSummary(ctx, sum); err != nil {
		return nil, err
	}
	summariesComputed.WithLabelValues(string(sum.RiskLevel)).Inc()

	applied, err := e.store.UpsertKeyMetric(ctx, &KeyMetric{
		CompanyID:           companyID,
		Quarter:             q,
		VersionNo:           v.VersionNo,
		RiskLevel:           sum.RiskLevel,
		InternalHealthScore: HealthScore(sum.RiskScore),
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		e.log.Debug("key metric kept",
			zap.Int64("company_id", companyID), zap.Int("quarter", int(q)), zap.Int("version_no", v.VersionNo))
	}
	return sum, nil
}

// ActualPublished recomputes the summary for a freshly published version.
func (e *Engine) ActualPublished(ctx context.Context, companyID int64, q quarter.Key, versionID int64) error {
	_, err := e.CalculateAndUpsert(ctx, companyID, q, versionID)
	return err
}

// CalculateAndUpsertAllLatest recomputes every report against its globally
// latest version, whether or not that version carries data. Reports are read
// in keyset pages; each page runs on a bounded errgroup. Unit failures are
// logged and counted, and cancellation is checked between pages.
func (e *Engine) CalculateAndUpsertAllLatest(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	var (
		after     int64
		pages     int
		processed atomic.Int64
		failed    atomic.Int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return int(processed.Load()), eris.Wrap(err, "risk: batch cancelled")
		}

		page, err := e.versions.ListLatestVersions(ctx, after, e.pageSize)
		if err != nil {
			return int(processed.Load()), err
		}
		if len(page) == 0 {
			break
		}
		pages++

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency)
		for _, lv := range page {
			g.Go(func() error {
				if _, err := e.CalculateAndUpsert(gctx, lv.CompanyID, lv.Quarter, lv.VersionID); err != nil {
					failed.Add(1)
					batchFailures.Inc()
					e.log.Warn("recompute failed",
						zap.Int64("report_id", lv.ReportID),
						zap.Int64("company_id", lv.CompanyID),
						zap.Int("quarter", int(lv.Quarter)),
						zap.Error(err))
					return nil
				}
				processed.Add(1)
				return nil
			})
		}
		_ = g.Wait()

		after = page[len(page)-1].ReportID
		e.log.Debug("batch page done", zap.Int("page", pages), zap.Int64("after_report_id", after))
		if len(page) < e.pageSize {
			break
		}
	}

	e.log.Info("risk batch complete",
		zap.Int("pages", pages),
		zap.Int64("processed", processed.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)))
	return int(processed.Load()), nil
}
