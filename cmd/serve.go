package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/api"
	"github.com/sells-group/finrisk/internal/config"
	"github.com/sells-group/finrisk/internal/dashboard"
	"github.com/sells-group/finrisk/internal/risk"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API and run scheduled risk jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sched, err := buildScheduler(cfg.Scheduler, env.Engine, env.ReportSvc)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		dash := dashboard.NewService(env.Companies, env.Companies, env.Reports, env.RiskStore, dashboard.Config{
			DwellLookback:       cfg.Dashboard.DwellLookback,
			DefaultRecordsLimit: cfg.Dashboard.DefaultRecordsLimit,
			MaxRecordsLimit:     cfg.Dashboard.MaxRecordsLimit,
		})
		server := api.NewServer(env.ReportSvc, env.RiskStore, dash, api.Config{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RequestTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Second,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.Router(map[string]http.Handler{"/metrics": promhttp.Handler()}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

type averagesRecomputer interface {
	RecomputeAverages(ctx context.Context, pageSize int) (int, error)
}

type latestRecomputer interface {
	CalculateAndUpsertAllLatest(ctx context.Context) (int, error)
}

// buildScheduler registers the risk recompute and averages jobs. A job with
// an empty schedule can still be triggered with RunNow.
func buildScheduler(sc config.SchedulerConfig, engine latestRecomputer, averages averagesRecomputer) (*risk.Scheduler, error) {
	sched := risk.NewScheduler(time.Duration(sc.TimeoutMins) * time.Minute)

	if err := sched.Add("risk-recompute", sc.RiskRecompute, func(ctx context.Context) error {
		_, err := engine.CalculateAndUpsertAllLatest(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	if err := sched.Add("averages", sc.Averages, func(ctx context.Context) error {
		_, err := averages.RecomputeAverages(ctx, 0)
		return err
	}); err != nil {
		return nil, err
	}
	return sched, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
