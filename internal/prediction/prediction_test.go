package prediction

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/company"
	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/report"
	"github.com/sells-group/finrisk/internal/risk"
	"github.com/sells-group/finrisk/pkg/aiclient"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeAI struct {
	prediction *aiclient.Prediction
	health     *aiclient.HealthScore
	signals    *aiclient.Signals
	comment    *aiclient.Comment
	err        error
	calls      int
}

func (f *fakeAI) GetPrediction(context.Context, string) (*aiclient.Prediction, error) {
	f.calls++
	return f.prediction, f.err
}

func (f *fakeAI) GetHealthScore(context.Context, string) (*aiclient.HealthScore, error) {
	f.calls++
	return f.health, f.err
}

func (f *fakeAI) GetSignals(context.Context, string) (*aiclient.Signals, error) {
	f.calls++
	return f.signals, f.err
}

func (f *fakeAI) GetAiComment(context.Context, string) (*aiclient.Comment, error) {
	f.calls++
	return f.comment, f.err
}

type fakeCompanies struct{}

func (fakeCompanies) FindByStockCode(_ context.Context, code string) (*company.Company, error) {
	if company.NormalizeStockCode(code) == "005930" {
		return &company.Company{ID: 1, StockCode: "005930", Name: "Samsung Electronics"}, nil
	}
	return nil, nil
}

func (fakeCompanies) FindByID(context.Context, int64) (*company.Company, error) { return nil, nil }

func (fakeCompanies) FindByIDs(context.Context, []int64) ([]company.Company, error) { return nil, nil }

type publishCall struct {
	base   quarter.Key
	values map[string]decimal.NullDecimal
}

type fakePublisher struct {
	calls []publishCall
}

func (f *fakePublisher) PublishPredictions(_ context.Context, _ string, base quarter.Key, values map[string]decimal.NullDecimal) (report.PublishResult, error) {
	f.calls = append(f.calls, publishCall{base, values})
	return report.PublishResult{SavedValues: len(values)}, nil
}

// fakeReports implements the report.Store methods the service uses.
type fakeReports struct {
	report.Store
	latest     map[int64]quarter.Key
	report     *report.CompanyReport
	withData   map[report.ValueType]*report.ReportVersion
	rows       []report.MetricRow
	signalsSet map[string]string
	signalsVer int64
}

func (f *fakeReports) LatestActualQuarters(_ context.Context, ids []int64) (map[int64]quarter.Key, error) {
	out := make(map[int64]quarter.Key)
	for _, id := range ids {
		if q, ok := f.latest[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func (f *fakeReports) FindReport(context.Context, int64, quarter.Key) (*report.CompanyReport, error) {
	return f.report, nil
}

func (f *fakeReports) ResolveLatestVersionWithData(_ context.Context, _ int64, vt report.ValueType) (*report.ReportVersion, error) {
	return f.withData[vt], nil
}

func (f *fakeReports) CandidateRows(context.Context, int64, quarter.Key, quarter.Key, report.ValueType) ([]report.MetricRow, error) {
	return f.rows, nil
}

func (f *fakeReports) UpdateSignals(_ context.Context, versionID int64, _ report.ValueType, signals map[string]string) (int64, error) {
	f.signalsVer = versionID
	f.signalsSet = signals
	return int64(len(signals)), nil
}

type fakeRisk struct {
	risk.Store
	rows    []risk.KeyMetric
	score   decimal.NullDecimal
	comment string
	q       quarter.Key
}

func (f *fakeRisk) ListKeyMetrics(context.Context, []int64, quarter.Key, quarter.Key) ([]risk.KeyMetric, error) {
	return f.rows, nil
}

func (f *fakeRisk) SetExternalHealthScore(_ context.Context, _ int64, q quarter.Key, score decimal.NullDecimal) error {
	f.q, f.score = q, score
	return nil
}

func (f *fakeRisk) SetAIComment(_ context.Context, _ int64, q quarter.Key, comment string) error {
	f.q, f.comment = q, comment
	return nil
}

type fixture struct {
	ai      *fakeAI
	pub     *fakePublisher
	reports *fakeReports
	risk    *fakeRisk
	svc     *Service
}

func newFixture() *fixture {
	f := &fixture{
		ai:  &fakeAI{},
		pub: &fakePublisher{},
		reports: &fakeReports{
			latest:   map[int64]quarter.Key{1: 20252},
			report:   &report.CompanyReport{ID: 10, CompanyID: 1, Quarter: 20252},
			withData: map[report.ValueType]*report.ReportVersion{report.Actual: {ID: 100, ReportID: 10, VersionNo: 1}},
		},
		risk: &fakeRisk{},
	}
	f.svc = NewService(f.ai, fakeCompanies{}, f.pub, f.reports, f.risk)
	return f
}

func TestEnsurePredictionCached(t *testing.T) {
	f := newFixture()
	f.ai.prediction = &aiclient.Prediction{
		BasePeriod:  "2025Q2",
		Predictions: map[string]float64{"debt_ratio": 61.25, "current_ratio": 0},
	}

	out, err := f.svc.EnsurePredictionCached(context.Background(), "5930")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Stored: 2, Quarter: 20253}, out)

	require.Len(t, f.pub.calls, 1)
	call := f.pub.calls[0]
	assert.Equal(t, quarter.Key(20252), call.base)
	assert.True(t, decimal.RequireFromString("61.25").Equal(call.values["debt_ratio"].Decimal))
	assert.True(t, call.values["current_ratio"].Valid, "zero forecast is a value")
}

func TestEnsurePredictionCached_AlreadyCached(t *testing.T) {
	f := newFixture()
	f.reports.withData[report.Predicted] = &report.ReportVersion{ID: 101, ReportID: 10, VersionNo: 2}

	out, err := f.svc.EnsurePredictionCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Zero(t, f.ai.calls)
	assert.Empty(t, f.pub.calls)
}

func TestEnsurePredictionCached_Misses(t *testing.T) {
	tests := []struct {
		name       string
		prediction *aiclient.Prediction
		err        error
	}{
		{"client error", nil, errors.New("503")},
		{"nil payload", nil, nil},
		{"empty predictions", &aiclient.Prediction{BasePeriod: "20252"}, nil},
		{"bad base period", &aiclient.Prediction{BasePeriod: "sometime", Predictions: map[string]float64{"debt_ratio": 1}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.ai.prediction, f.ai.err = tt.prediction, tt.err

			out, err := f.svc.EnsurePredictionCached(context.Background(), "005930")
			require.NoError(t, err)
			assert.True(t, out.CacheMiss)
			assert.Empty(t, f.pub.calls)
		})
	}
}

func TestEnsure_UnknownCompanyIsNoop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for _, fn := range []func(context.Context, string) (Outcome, error){
		f.svc.EnsurePredictionCached,
		f.svc.EnsureHealthScoreCached,
		f.svc.EnsureCommentCached,
		f.svc.EnsureSignalsCached,
	} {
		out, err := fn(ctx, "999999")
		require.NoError(t, err)
		assert.Equal(t, Outcome{}, out)
	}
	assert.Zero(t, f.ai.calls)
}

func TestEnsureHealthScoreCached(t *testing.T) {
	f := newFixture()
	score := 72.456
	f.ai.health = &aiclient.HealthScore{BasePeriod: "202502", Score: &score}

	out, err := f.svc.EnsureHealthScoreCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Stored: 1, Quarter: 20252}, out)
	assert.Equal(t, quarter.Key(20252), f.risk.q)
	assert.Equal(t, "72.46", f.risk.score.Decimal.String())
}

func TestEnsureHealthScoreCached_FallsBackToLatestActual(t *testing.T) {
	f := newFixture()
	score := 50.0
	f.ai.health = &aiclient.HealthScore{Score: &score}

	out, err := f.svc.EnsureHealthScoreCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, quarter.Key(20252), out.Quarter)
}

func TestEnsureHealthScoreCached_CachedAndMiss(t *testing.T) {
	f := newFixture()
	f.risk.rows = []risk.KeyMetric{{CompanyID: 1, Quarter: 20252, ExternalHealthScore: decimal.NewNullDecimal(decimal.NewFromInt(60))}}
	out, err := f.svc.EnsureHealthScoreCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Zero(t, f.ai.calls)

	f = newFixture()
	f.ai.health = &aiclient.HealthScore{BasePeriod: "20252"}
	out, err = f.svc.EnsureHealthScoreCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.True(t, out.CacheMiss)
	assert.False(t, f.risk.score.Valid)
}

func TestEnsureCommentCached(t *testing.T) {
	f := newFixture()
	f.ai.comment = &aiclient.Comment{BasePeriod: "2025Q1", Comment: "leverage rising"}

	out, err := f.svc.EnsureCommentCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Stored: 1, Quarter: 20251}, out)
	assert.Equal(t, "leverage rising", f.risk.comment)

	f = newFixture()
	existing := "already here"
	f.risk.rows = []risk.KeyMetric{{CompanyID: 1, Quarter: 20252, AIComment: &existing}}
	out, err = f.svc.EnsureCommentCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Zero(t, f.ai.calls)
}

func TestEnsureCommentCached_NoQuarter(t *testing.T) {
	f := newFixture()
	f.reports.latest = nil
	f.ai.comment = &aiclient.Comment{Comment: "hello"}

	out, err := f.svc.EnsureCommentCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.True(t, out.CacheMiss)
	assert.Empty(t, f.risk.comment)
}

func TestEnsureSignalsCached(t *testing.T) {
	f := newFixture()
	f.ai.signals = &aiclient.Signals{Signals: map[string]string{"debt_ratio": "DANGER", "current_ratio": "NORMAL"}}

	out, err := f.svc.EnsureSignalsCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, Outcome{Stored: 2, Quarter: 20252}, out)
	assert.Equal(t, int64(100), f.reports.signalsVer)
	assert.Equal(t, "DANGER", f.reports.signalsSet["debt_ratio"])
}

func TestEnsureSignalsCached_AlreadyAnnotated(t *testing.T) {
	f := newFixture()
	sig := "DANGER"
	f.reports.rows = []report.MetricRow{{
		ReportQuarter: 20252, Quarter: 20252, VersionID: 100, VersionNo: 1,
		MetricCode: "debt_ratio", Value: decimal.NewNullDecimal(decimal.NewFromInt(70)),
		ValueType: report.Actual, Signal: &sig,
	}}

	out, err := f.svc.EnsureSignalsCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Zero(t, f.ai.calls)
}

func TestEnsureSignalsCached_Misses(t *testing.T) {
	f := newFixture()
	f.ai.err = errors.New("timeout")
	out, err := f.svc.EnsureSignalsCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.True(t, out.CacheMiss)

	f = newFixture()
	f.reports.withData = map[report.ValueType]*report.ReportVersion{}
	out, err = f.svc.EnsureSignalsCached(context.Background(), "005930")
	require.NoError(t, err)
	assert.True(t, out.CacheMiss)
	assert.Zero(t, f.ai.calls)
}
