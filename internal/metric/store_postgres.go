package metric

import (
	"context"
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/finrisk/internal/db"
)

//go:embed metrics.yaml
var seedYAML []byte

const metricColumns = `id, code, display_name, unit, is_risk_indicator`

// PostgresStore reads metric definitions from the metrics table.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// FindByCode fetches a metric by its exact code.
func (s *PostgresStore) FindByCode(ctx context.Context, code string) (*Metric, error) {
	var m Metric
	err := s.pool.QueryRow(ctx, `SELECT `+metricColumns+` FROM metrics WHERE code = $1`, code).
		Scan(&m.ID, &m.Code, &m.DisplayName, &m.Unit, &m.IsRiskIndicator)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "metric: find by code %s", code)
	}
	return &m, nil
}

// FindAllByCodes fetches every known metric among codes.
func (s *PostgresStore) FindAllByCodes(ctx context.Context, codes []string) ([]Metric, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	return s.query(ctx, `SELECT `+metricColumns+` FROM metrics WHERE code = ANY($1) ORDER BY code`, codes)
}

// All returns every metric definition.
func (s *PostgresStore) All(ctx context.Context) ([]Metric, error) {
	return s.query(ctx, `SELECT `+metricColumns+` FROM metrics ORDER BY code`)
}

func (s *PostgresStore) query(ctx context.Context, sql string, args ...any) ([]Metric, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "metric: query")
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.Code, &m.DisplayName, &m.Unit, &m.IsRiskIndicator); err != nil {
			return nil, eris.Wrap(err, "metric: scan")
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SeedDefinitions parses the embedded metrics.yaml.
func SeedDefinitions() ([]Metric, error) {
	var doc struct {
		Metrics []Metric `yaml:"metrics"`
	}
	if err := yaml.Unmarshal(seedYAML, &doc); err != nil {
		return nil, eris.Wrap(err, "metric: parse seed yaml")
	}
	return doc.Metrics, nil
}

// Seed upserts the embedded definitions into the metrics table.
func Seed(ctx context.Context, pool db.Pool) (int64, error) {
	defs, err := SeedDefinitions()
	if err != nil {
		return 0, err
	}

	rows := make([][]any, 0, len(defs))
	for _, m := range defs {
		rows = append(rows, []any{m.Code, m.DisplayName, m.Unit, m.IsRiskIndicator})
	}

	n, err := db.BulkUpsert(ctx, pool, db.UpsertConfig{
		Table:        "metrics",
		Columns:      []string{"code", "display_name", "unit", "is_risk_indicator"},
		ConflictKeys: []string{"code"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "metric: seed")
	}

	zap.L().Info("metric: seeded definitions", zap.Int64("rows", n))
	return n, nil
}
