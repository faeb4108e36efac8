package risk

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/finrisk/internal/db"
	"github.com/sells-group/finrisk/internal/quarter"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// UpsertSummary replaces any previous computation for the same key.
func (s *PostgresStore) UpsertSummary(ctx context.Context, sum *Summary) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO risk_score_summaries
			(company_id, quarter_id, report_version_id, risk_metrics_count, risk_metrics_avg, risk_score, risk_level, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (company_id, quarter_id, report_version_id) DO UPDATE SET
			risk_metrics_count = EXCLUDED.risk_metrics_count,
			risk_metrics_avg = EXCLUDED.risk_metrics_avg,
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			updated_at = EXCLUDED.updated_at
		 RETURNING updated_at`,
		sum.CompanyID, int(sum.Quarter), sum.VersionID, sum.RiskMetricsCount,
		db.Numeric(sum.RiskMetricsAvg), db.Numeric(sum.RiskScore), string(sum.RiskLevel),
	).Scan(&sum.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "risk: upsert summary company=%d quarter=%d version=%d",
			sum.CompanyID, int(sum.Quarter), sum.VersionID)
	}
	return nil
}

// GetSummary fetches one summary.
func (s *PostgresStore) GetSummary(ctx context.Context, companyID int64, q quarter.Key, versionID int64) (*Summary, error) {
	var (
		sum   Summary
		qi    int
		level string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT company_id, quarter_id, report_version_id, risk_metrics_count,
		        risk_metrics_avg, risk_score, risk_level, updated_at
		 FROM risk_score_summaries
		 WHERE company_id = $1 AND quarter_id = $2 AND report_version_id = $3`,
		companyID, int(q), versionID,
	).Scan(&sum.CompanyID, &qi, &sum.VersionID, &sum.RiskMetricsCount,
		&sum.RiskMetricsAvg, &sum.RiskScore, &level, &sum.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "risk: get summary")
	}
	sum.Quarter = quarter.Key(qi)
	sum.RiskLevel = Level(level)
	return &sum, nil
}

// UpsertKeyMetric guards on version_no so a stale recompute cannot regress the
// row, and keeps a defined level when the incoming one is UNDEFINED.
func (s *PostgresStore) UpsertKeyMetric(ctx context.Context, km *KeyMetric) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO company_key_metrics (company_id, quarter_id, version_no, risk_level, internal_health_score, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (company_id, quarter_id) DO UPDATE SET
			version_no = EXCLUDED.version_no,
			risk_level = EXCLUDED.risk_level,
			internal_health_score = EXCLUDED.internal_health_score,
			updated_at = EXCLUDED.updated_at
		 WHERE company_key_metrics.version_no <= EXCLUDED.version_no
		   AND (EXCLUDED.risk_level <> 'UNDEFINED' OR company_key_metrics.risk_level = 'UNDEFINED')`,
		km.CompanyID, int(km.Quarter), km.VersionNo, string(km.RiskLevel), db.Numeric(km.InternalHealthScore),
	)
	if err != nil {
		return false, eris.Wrapf(err, "risk: upsert key metric company=%d quarter=%d", km.CompanyID, int(km.Quarter))
	}
	return tag.RowsAffected() > 0, nil
}

// SetExternalHealthScore records the AI health score, creating a placeholder
// UNDEFINED row when none exists yet.
func (s *PostgresStore) SetExternalHealthScore(ctx context.Context, companyID int64, q quarter.Key, score decimal.NullDecimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO company_key_metrics (company_id, quarter_id, risk_level, external_health_score, updated_at)
		 VALUES ($1, $2, 'UNDEFINED', $3, now())
		 ON CONFLICT (company_id, quarter_id) DO UPDATE SET
			external_health_score = EXCLUDED.external_health_score,
			updated_at = EXCLUDED.updated_at`,
		companyID, int(q), db.Numeric(score),
	)
	if err != nil {
		return eris.Wrap(err, "risk: set external health score")
	}
	return nil
}

// SetAIComment records the AI comment for the quarter.
func (s *PostgresStore) SetAIComment(ctx context.Context, companyID int64, q quarter.Key, comment string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO company_key_metrics (company_id, quarter_id, risk_level, ai_comment, updated_at)
		 VALUES ($1, $2, 'UNDEFINED', $3, now())
		 ON CONFLICT (company_id, quarter_id) DO UPDATE SET
			ai_comment = EXCLUDED.ai_comment,
			updated_at = EXCLUDED.updated_at`,
		companyID, int(q), comment,
	)
	if err != nil {
		return eris.Wrap(err, "risk: set ai comment")
	}
	return nil
}

// ListKeyMetrics returns key-metric rows ordered by quarter then company.
func (s *PostgresStore) ListKeyMetrics(ctx context.Context, companyIDs []int64, from, to quarter.Key) ([]KeyMetric, error) {
	if len(companyIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT company_id, quarter_id, version_no, risk_level,
		        internal_health_score, external_health_score, ai_comment, updated_at
		 FROM company_key_metrics
		 WHERE company_id = ANY($1) AND quarter_id BETWEEN $2 AND $3
		 ORDER BY quarter_id, company_id`,
		companyIDs, int(from), int(to),
	)
	if err != nil {
		return nil, eris.Wrap(err, "risk: list key metrics")
	}
	defer rows.Close()

	var out []KeyMetric
	for rows.Next() {
		var (
			km    KeyMetric
			q     int
			level string
		)
		if err := rows.Scan(&km.CompanyID, &q, &km.VersionNo, &level,
			&km.InternalHealthScore, &km.ExternalHealthScore, &km.AIComment, &km.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "risk: scan key metric")
		}
		km.Quarter = quarter.Key(q)
		km.RiskLevel = ParseLevel(level)
		out = append(out, km)
	}
	return out, rows.Err()
}
