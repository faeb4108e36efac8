package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/finrisk/internal/company"
	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/report"
)

type publishCall struct {
	stockCode string
	q         quarter.Key
	vt        report.ValueType
	values    map[string]decimal.NullDecimal
}

type fakePublisher struct {
	mu      sync.Mutex
	calls   []publishCall
	known   map[string]bool
	catalog map[string]bool
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, stockCode string, q quarter.Key, vt report.ValueType, values map[string]decimal.NullDecimal) (report.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return report.PublishResult{}, f.err
	}
	f.calls = append(f.calls, publishCall{stockCode, q, vt, values})
	if !f.known[company.NormalizeStockCode(stockCode)] {
		return report.PublishResult{SkippedCompanies: 1}, nil
	}
	var res report.PublishResult
	for code := range values {
		if f.catalog[code] {
			res.SavedValues++
		} else {
			res.SkippedMetrics++
		}
	}
	return res, nil
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		known:   map[string]bool{"005930": true, "000660": true},
		catalog: map[string]bool{"debt_ratio": true, "current_ratio": true},
	}
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "metrics.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestImportXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"stock_code", "quarter", "debt_ratio", "current_ratio"},
			{"5930", "2024Q3", "1,250.5", ""},
			{"000660", "20243", "0", "n/a"},
			{"999999", "20243", "10", "20"},
			{"000660", "2024Q9", "10", "20"},
			{"", "", "", ""},
		},
	})

	pub := newFakePublisher()
	sum, err := NewImporter(pub, SheetOptions{}).ImportXLSX(context.Background(), path, report.Actual)
	require.NoError(t, err)

	assert.Equal(t, Summary{
		Rows:             4,
		SavedValues:      3,
		SkippedMetrics:   1,
		SkippedCompanies: 1,
		SkippedRows:      1,
	}, sum)

	require.Len(t, pub.calls, 3)
	first := pub.calls[0]
	assert.Equal(t, "5930", first.stockCode)
	assert.Equal(t, quarter.Key(20243), first.q)
	assert.Equal(t, report.Actual, first.vt)
	assert.True(t, first.values["debt_ratio"].Valid)
	assert.True(t, decimal.RequireFromString("1250.5").Equal(first.values["debt_ratio"].Decimal))
	assert.False(t, first.values["current_ratio"].Valid, "blank cell is missing, not zero")

	second := pub.calls[1]
	assert.True(t, second.values["debt_ratio"].Valid)
	assert.True(t, second.values["debt_ratio"].Decimal.IsZero())
	_, ok := second.values["current_ratio"]
	assert.False(t, ok, "unparseable cell is not published")
}

func TestImportXLSX_SheetName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Notes":   {{"ignored"}},
		"Metrics": {{"stock_code", "quarter", "debt_ratio"}, {"005930", "20251", "42"}},
	})

	pub := newFakePublisher()
	sum, err := NewImporter(pub, SheetOptions{SheetName: "Metrics"}).ImportXLSX(context.Background(), path, report.Predicted)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SavedValues)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, report.Predicted, pub.calls[0].vt)
}

func TestImportXLSX_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := NewImporter(newFakePublisher(), SheetOptions{}).ImportXLSX(context.Background(), filepath.Join(t.TempDir(), "nope.xlsx"), report.Actual)
		require.Error(t, err)
	})

	t.Run("missing sheet", func(t *testing.T) {
		path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})
		_, err := NewImporter(newFakePublisher(), SheetOptions{SheetName: "Other"}).ImportXLSX(context.Background(), path, report.Actual)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("short header", func(t *testing.T) {
		path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"stock_code", "quarter"}}})
		_, err := NewImporter(newFakePublisher(), SheetOptions{}).ImportXLSX(context.Background(), path, report.Actual)
		require.Error(t, err)
	})

	t.Run("publish failure", func(t *testing.T) {
		path := createTestXLSX(t, map[string][][]string{
			"Sheet1": {{"stock_code", "quarter", "debt_ratio"}, {"005930", "20251", "1"}},
		})
		pub := newFakePublisher()
		pub.err = errors.New("db down")
		_, err := NewImporter(pub, SheetOptions{}).ImportXLSX(context.Background(), path, report.Actual)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("cancelled", func(t *testing.T) {
		path := createTestXLSX(t, map[string][][]string{
			"Sheet1": {{"stock_code", "quarter", "debt_ratio"}, {"005930", "20251", "1"}},
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewImporter(newFakePublisher(), SheetOptions{}).ImportXLSX(ctx, path, report.Actual)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestParseValues(t *testing.T) {
	values, bad := parseValues([]string{"x", "y", " 3.5 ", "", "abc"}, []string{"a", "", "c", "d"})
	assert.Equal(t, []string{"c"}, bad)
	assert.True(t, values["a"].Valid)
	_, ok := values["d"]
	assert.True(t, ok)
	assert.False(t, values["d"].Valid)
	assert.Len(t, values, 2)
}
