package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/quarter"
)

var (
	riskCompanyID int64
	riskQuarter   string
	riskVersionID int64
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Recompute risk summaries",
	Long:  "Without flags, recomputes the summary of every report's latest version. With --company, --quarter and --version, recomputes one summary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("risk"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if riskCompanyID == 0 && riskQuarter == "" && riskVersionID == 0 {
			n, err := env.Engine.CalculateAndUpsertAllLatest(ctx)
			if err != nil {
				return eris.Wrap(err, "risk recompute")
			}
			zap.L().Info("risk recompute complete", zap.Int("processed", n))
			return nil
		}

		if riskCompanyID == 0 || riskQuarter == "" || riskVersionID == 0 {
			return eris.New("--company, --quarter and --version must be given together")
		}
		q, err := quarter.ParseText(riskQuarter)
		if err != nil {
			return err
		}
		sum, err := env.Engine.CalculateAndUpsert(ctx, riskCompanyID, q, riskVersionID)
		if err != nil {
			return err
		}
		zap.L().Info("risk summary updated",
			zap.Int64("company_id", sum.CompanyID),
			zap.Int("quarter", int(sum.Quarter)),
			zap.Int64("version_id", sum.VersionID),
			zap.String("level", string(sum.RiskLevel)),
			zap.Int("risk_metrics", sum.RiskMetricsCount),
		)
		return nil
	},
}

var averagesPageSize int

var averagesCmd = &cobra.Command{
	Use:   "averages",
	Short: "Recompute per-quarter metric averages",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("averages"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.ReportSvc.RecomputeAverages(ctx, averagesPageSize)
		if err != nil {
			return eris.Wrap(err, "recompute averages")
		}
		zap.L().Info("averages recomputed", zap.Int("quarters", n))
		return nil
	},
}

func init() {
	riskCmd.Flags().Int64Var(&riskCompanyID, "company", 0, "company id")
	riskCmd.Flags().StringVar(&riskQuarter, "quarter", "", "quarter, e.g. 20243 or 2024Q3")
	riskCmd.Flags().Int64Var(&riskVersionID, "version", 0, "report version id")
	averagesCmd.Flags().IntVar(&averagesPageSize, "page-size", 100, "quarters per page")
	rootCmd.AddCommand(riskCmd)
	rootCmd.AddCommand(averagesCmd)
}
