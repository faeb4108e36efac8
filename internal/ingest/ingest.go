// Package ingest loads metric values from Excel workbooks into versioned
// company reports.
package ingest

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/report"
)

// Publisher writes one company-quarter of values.
type Publisher interface {
	Publish(ctx context.Context, stockCode string, q quarter.Key, vt report.ValueType, values map[string]decimal.NullDecimal) (report.PublishResult, error)
}

// Summary aggregates an import run.
type Summary struct {
	Rows             int `json:"rows"`
	SavedValues      int `json:"saved_values"`
	SkippedMetrics   int `json:"skipped_metrics"`
	SkippedCompanies int `json:"skipped_companies"`
	SkippedRows      int `json:"skipped_rows"`
}

// Importer reads sheets laid out as `stock_code | quarter | <metric code>...`
// with the header row naming the metric codes.
type Importer struct {
	pub   Publisher
	sheet SheetOptions
	log   *zap.Logger
}

// NewImporter creates an Importer that publishes through pub.
func NewImporter(pub Publisher, sheet SheetOptions) *Importer {
	return &Importer{
		pub:   pub,
		sheet: sheet,
		log:   zap.L().With(zap.String("component", "ingest")),
	}
}

// ImportXLSX publishes every data row of the workbook at path as values of
// type vt. Blank cells are stored as missing values. Cells that do not parse
// as numbers are counted as skipped metrics, and rows with an invalid quarter
// or stock code are counted as skipped rows.
func (im *Importer) ImportXLSX(ctx context.Context, path string, vt report.ValueType) (Summary, error) {
	rows, err := readSheet(path, im.sheet)
	if err != nil {
		return Summary{}, err
	}
	if len(rows) == 0 {
		return Summary{}, eris.Errorf("ingest: %s has no header row", path)
	}

	codes, err := headerCodes(rows[0])
	if err != nil {
		return Summary{}, eris.Wrapf(err, "ingest: %s", path)
	}

	var sum Summary
	for i, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "ingest: context cancelled")
		}
		line := i + 2
		if blankRow(row) {
			continue
		}
		sum.Rows++

		stockCode := strings.TrimSpace(cell(row, 0))
		q, err := quarter.ParseText(cell(row, 1))
		if stockCode == "" || err != nil {
			im.log.Warn("skipping row",
				zap.Int("line", line),
				zap.String("stock_code", stockCode),
				zap.String("quarter", cell(row, 1)))
			sum.SkippedRows++
			continue
		}

		values, bad := parseValues(row, codes)
		for _, code := range bad {
			im.log.Warn("unparseable value",
				zap.Int("line", line), zap.String("metric", code), zap.String("stock_code", stockCode))
		}
		sum.SkippedMetrics += len(bad)

		res, err := im.pub.Publish(ctx, stockCode, q, vt, values)
		if err != nil {
			return sum, eris.Wrapf(err, "ingest: line %d", line)
		}
		sum.SavedValues += res.SavedValues
		sum.SkippedMetrics += res.SkippedMetrics
		sum.SkippedCompanies += res.SkippedCompanies
	}

	im.log.Info("import complete",
		zap.String("path", path),
		zap.String("value_type", string(vt)),
		zap.Int("rows", sum.Rows),
		zap.Int("saved", sum.SavedValues),
		zap.Int("skipped_metrics", sum.SkippedMetrics),
		zap.Int("skipped_companies", sum.SkippedCompanies),
		zap.Int("skipped_rows", sum.SkippedRows))
	return sum, nil
}

func headerCodes(header []string) ([]string, error) {
	if len(header) < 3 {
		return nil, eris.New("header needs stock_code, quarter and at least one metric column")
	}
	codes := make([]string, len(header)-2)
	for i, h := range header[2:] {
		codes[i] = strings.TrimSpace(h)
	}
	return codes, nil
}

// parseValues maps metric codes to cell values. Columns with a blank header
// are ignored; bad lists codes whose cell is not a number.
func parseValues(row, codes []string) (values map[string]decimal.NullDecimal, bad []string) {
	values = make(map[string]decimal.NullDecimal, len(codes))
	for i, code := range codes {
		if code == "" {
			continue
		}
		raw := strings.TrimSpace(cell(row, i+2))
		if raw == "" {
			values[code] = decimal.NullDecimal{}
			continue
		}
		d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
		if err != nil {
			bad = append(bad, code)
			continue
		}
		values[code] = decimal.NewNullDecimal(d)
	}
	return values, bad
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
