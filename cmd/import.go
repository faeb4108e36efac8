package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/ingest"
	"github.com/sells-group/finrisk/internal/report"
)

var (
	importXLSXPath string
	importType     string
	importSheet    string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import metric values from an Excel workbook",
	Long:  "Reads a sheet laid out as stock_code | quarter | <metric code>... and publishes each row into the company's current draft report version.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("import"); err != nil {
			return err
		}
		vt, err := report.ParseValueType(importType)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		im := ingest.NewImporter(env.ReportSvc, ingest.SheetOptions{SheetName: importSheet})
		sum, err := im.ImportXLSX(ctx, importXLSXPath, vt)
		if err != nil {
			return eris.Wrap(err, "import xlsx")
		}

		zap.L().Info("import complete",
			zap.String("xlsx", importXLSXPath),
			zap.Int("rows", sum.Rows),
			zap.Int("saved_values", sum.SavedValues),
			zap.Int("skipped_metrics", sum.SkippedMetrics),
			zap.Int("skipped_companies", sum.SkippedCompanies),
			zap.Int("skipped_rows", sum.SkippedRows),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importXLSXPath, "xlsx", "", "path to the workbook (required)")
	importCmd.Flags().StringVar(&importType, "type", string(report.Actual), "value type: ACTUAL or PREDICTED")
	importCmd.Flags().StringVar(&importSheet, "sheet", "", "sheet name (default first sheet)")
	_ = importCmd.MarkFlagRequired("xlsx")
	rootCmd.AddCommand(importCmd)
}
