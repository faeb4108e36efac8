package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/report"
)

var (
	docStock   string
	docQuarter string
	docFile    string
	docVersion int64
	docAttach  string
)

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Publish report documents and finalize draft versions",
}

var documentPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Store a report document and publish it as a new version",
	Long:  "Stores the file in the document store and issues the next published version of the company's report for the quarter, pointing at the stored document.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("document"); err != nil {
			return err
		}
		q, err := quarter.ParseText(docQuarter)
		if err != nil {
			return err
		}
		data, err := readDocument(docFile)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		v, err := env.ReportSvc.PublishDocument(ctx, docStock, q, data)
		if err != nil {
			return eris.Wrap(err, "publish document")
		}
		logVersion("document published", v, zap.String("stock", docStock), zap.Int("quarter", int(q)))
		return nil
	},
}

var documentFinalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Publish a draft version, optionally attaching a document",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("document"); err != nil {
			return err
		}
		var data []byte
		if docAttach != "" {
			var err error
			if data, err = readDocument(docAttach); err != nil {
				return err
			}
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		v, err := env.ReportSvc.FinalizeVersion(ctx, docVersion, data)
		if err != nil {
			return eris.Wrap(err, "finalize version")
		}
		logVersion("version finalized", v, zap.Bool("attached", data != nil))
		return nil
	},
}

// readDocument loads a document file. Empty files are refused.
func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read document %s", path)
	}
	if len(data) == 0 {
		return nil, eris.Errorf("document %s is empty", path)
	}
	return data, nil
}

func logVersion(msg string, v *report.ReportVersion, fields ...zap.Field) {
	fields = append(fields,
		zap.Int64("version_id", v.ID),
		zap.Int64("report_id", v.ReportID),
		zap.Int("version_no", v.VersionNo),
		zap.Bool("published", v.Published),
	)
	if v.DocumentID != nil {
		fields = append(fields, zap.Int64("document_id", *v.DocumentID))
	}
	zap.L().Info(msg, fields...)
}

func init() {
	documentPublishCmd.Flags().StringVar(&docStock, "stock", "", "company stock code (required)")
	documentPublishCmd.Flags().StringVar(&docQuarter, "quarter", "", "report quarter as YYYYQ, e.g. 20243 (required)")
	documentPublishCmd.Flags().StringVar(&docFile, "file", "", "path to the document (required)")
	_ = documentPublishCmd.MarkFlagRequired("stock")
	_ = documentPublishCmd.MarkFlagRequired("quarter")
	_ = documentPublishCmd.MarkFlagRequired("file")

	documentFinalizeCmd.Flags().Int64Var(&docVersion, "version", 0, "draft version id (required)")
	documentFinalizeCmd.Flags().StringVar(&docAttach, "file", "", "document to attach before publishing")
	_ = documentFinalizeCmd.MarkFlagRequired("version")

	documentCmd.AddCommand(documentPublishCmd, documentFinalizeCmd)
	rootCmd.AddCommand(documentCmd)
}
