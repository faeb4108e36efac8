package metric

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var cols = []string{"id", "code", "display_name", "unit", "is_risk_indicator"}

func TestPostgresStore_FindByCode(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM metrics WHERE code = \\$1").
		WithArgs("ROA").
		WillReturnRows(pgxmock.NewRows(cols).AddRow(int64(1), "ROA", "Return on assets", "%", false))

	m, err := NewPostgresStore(mock).FindByCode(context.Background(), "ROA")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.ID)
	assert.False(t, m.IsRiskIndicator)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByCode_Unknown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM metrics WHERE code").
		WithArgs("NOPE").
		WillReturnError(pgx.ErrNoRows)

	m, err := NewPostgresStore(mock).FindByCode(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestPostgresStore_FindAllByCodes(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("WHERE code = ANY").
		WithArgs([]string{"ROA", "LeverageRisk", "UNKNOWN"}).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(10), "LeverageRisk", "Leverage risk", "score", true).
			AddRow(int64(1), "ROA", "Return on assets", "%", false))

	ms, err := NewPostgresStore(mock).FindAllByCodes(context.Background(), []string{"ROA", "LeverageRisk", "UNKNOWN"})
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.True(t, ms[0].IsRiskIndicator)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindAllByCodes_Empty(t *testing.T) {
	ms, err := NewPostgresStore(nil).FindAllByCodes(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestSeedDefinitions(t *testing.T) {
	defs, err := SeedDefinitions()
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	seen := map[string]bool{}
	var risk int
	for _, d := range defs {
		assert.NotEmpty(t, d.Code)
		assert.NotEmpty(t, d.DisplayName)
		assert.False(t, seen[d.Code], "duplicate code %s", d.Code)
		seen[d.Code] = true
		if d.IsRiskIndicator {
			risk++
		}
	}
	assert.True(t, seen["ROA"])
	assert.True(t, seen["OperatingProfitMargin"])
	assert.Greater(t, risk, 0)
}

func TestSeed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	defs, err := SeedDefinitions()
	require.NoError(t, err)
	n := int64(len(defs))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_metrics"}, []string{"code", "display_name", "unit", "is_risk_indicator"}).
		WillReturnResult(n)
	mock.ExpectExec("INSERT INTO").WillReturnResult(pgxmock.NewResult("INSERT", n))
	mock.ExpectCommit()

	got, err := Seed(context.Background(), mock)
	require.NoError(t, err)
	assert.Equal(t, n, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeLoader struct {
	defs  map[string]Metric
	calls atomic.Int64
	err   error
}

func (f *fakeLoader) FindByCode(_ context.Context, code string) (*Metric, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.defs[code]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeLoader) FindAllByCodes(ctx context.Context, codes []string) ([]Metric, error) {
	var out []Metric
	for _, c := range codes {
		if m, _ := f.FindByCode(ctx, c); m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeLoader) All(_ context.Context) ([]Metric, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Metric
	for _, m := range f.defs {
		out = append(out, m)
	}
	return out, nil
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{defs: map[string]Metric{
		"ROA":          {ID: 1, Code: "ROA"},
		"LeverageRisk": {ID: 2, Code: "LeverageRisk", IsRiskIndicator: true},
	}}
}

func TestCachedCatalog_LoadServesFromCache(t *testing.T) {
	src := newFakeLoader()
	c := NewCachedCatalog(src)
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, 2, c.Len())

	m, err := c.FindByCode(context.Background(), "LeverageRisk")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.True(t, m.IsRiskIndicator)
	assert.Equal(t, int64(0), src.calls.Load())
}

func TestCachedCatalog_ReadThrough(t *testing.T) {
	src := newFakeLoader()
	c := NewCachedCatalog(src)

	m, err := c.FindByCode(context.Background(), "ROA")
	require.NoError(t, err)
	require.NotNil(t, m)
	_, _ = c.FindByCode(context.Background(), "ROA")
	assert.Equal(t, int64(1), src.calls.Load())

	m, err = c.FindByCode(context.Background(), "UNKNOWN_CODE")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestCachedCatalog_BlankCode(t *testing.T) {
	c := NewCachedCatalog(newFakeLoader())
	m, err := c.FindByCode(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestCachedCatalog_FindAllByCodes(t *testing.T) {
	c := NewCachedCatalog(newFakeLoader())
	ms, err := c.FindAllByCodes(context.Background(), []string{"LeverageRisk", "X", "ROA"})
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "LeverageRisk", ms[0].Code)
	assert.Equal(t, "ROA", ms[1].Code)
}

func TestCachedCatalog_LoadError(t *testing.T) {
	src := newFakeLoader()
	src.err = fmt.Errorf("connection refused")
	err := NewCachedCatalog(src).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load catalog")
}

func TestCachedCatalog_Concurrent(t *testing.T) {
	c := NewCachedCatalog(newFakeLoader())
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := c.FindByCode(context.Background(), "ROA")
			assert.NoError(t, err)
			assert.NotNil(t, m)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}
