package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/db"
	"github.com/sells-group/finrisk/internal/metric"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			return eris.Wrap(err, "migrate")
		}
		zap.L().Info("migrations applied")
		return nil
	},
}

var seedMetricsCmd = &cobra.Command{
	Use:   "seed-metrics",
	Short: "Upsert the built-in metric catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("seed-metrics"); err != nil {
			return err
		}
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		n, err := metric.Seed(ctx, pool)
		if err != nil {
			return err
		}
		zap.L().Info("metric catalog seeded", zap.Int64("rows", n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedMetricsCmd)
}
