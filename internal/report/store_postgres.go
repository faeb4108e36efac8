package report

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/db"
	"github.com/sells-group/finrisk/internal/quarter"
)

const (
	reportColumns  = `id, company_id, quarter_id, created_at`
	versionColumns = `id, report_id, version_no, generated_at, published, document_id`

	getOrCreateAttempts = 3
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
	log  *zap.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		log:  zap.L().With(zap.String("component", "report.store")),
	}
}

func scanReport(row pgx.Row) (*CompanyReport, error) {
	var (
		r CompanyReport
		q int
	)
	if err := row.Scan(&r.ID, &r.CompanyID, &q, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Quarter = quarter.Key(q)
	return &r, nil
}

func scanVersion(row pgx.Row) (*ReportVersion, error) {
	var v ReportVersion
	if err := row.Scan(&v.ID, &v.ReportID, &v.VersionNo, &v.GeneratedAt, &v.Published, &v.DocumentID); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetOrCreateReport inserts the report if absent. A concurrent creator makes
// the insert return no row, in which case the existing row is read back.
func (s *PostgresStore) GetOrCreateReport(ctx context.Context, companyID int64, q quarter.Key) (*CompanyReport, error) {
	for attempt := 1; attempt <= getOrCreateAttempts; attempt++ {
		r, err := scanReport(s.pool.QueryRow(ctx,
			`INSERT INTO company_reports (company_id, quarter_id) VALUES ($1, $2)
			 ON CONFLICT (company_id, quarter_id) DO NOTHING
			 RETURNING `+reportColumns,
			companyID, int(q),
		))
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(err, "report: create report company=%d quarter=%d", companyID, int(q))
		}

		r, err = s.FindReport(ctx, companyID, q)
		if err != nil {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
		s.log.Debug("report row vanished between insert and select, retrying",
			zap.Int64("company_id", companyID), zap.Int("quarter", int(q)), zap.Int("attempt", attempt))
	}
	return nil, eris.Errorf("report: get or create company=%d quarter=%d: gave up after %d attempts",
		companyID, int(q), getOrCreateAttempts)
}

// FindReport fetches a report by its natural key.
func (s *PostgresStore) FindReport(ctx context.Context, companyID int64, q quarter.Key) (*CompanyReport, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM company_reports WHERE company_id = $1 AND quarter_id = $2`,
		companyID, int(q),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "report: find report")
	}
	return r, nil
}

// lockReport takes the row lock that serializes version issuance per report.
func lockReport(ctx context.Context, tx pgx.Tx, reportID int64) error {
	var id int64
	err := tx.QueryRow(ctx, `SELECT id FROM company_reports WHERE id = $1 FOR UPDATE`, reportID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrReportNotFound, "report: lock report %d", reportID)
	}
	if err != nil {
		return eris.Wrapf(err, "report: lock report %d", reportID)
	}
	return nil
}

// issueNextVersionTx reads the current max and inserts max+1. The caller must
// hold the report row lock.
func (s *PostgresStore) issueNextVersionTx(ctx context.Context, tx pgx.Tx, reportID int64, published bool, documentID *int64) (*ReportVersion, error) {
	var maxNo int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_no), 0) FROM report_versions WHERE report_id = $1`, reportID,
	).Scan(&maxNo); err != nil {
		return nil, eris.Wrap(err, "report: read max version")
	}

	v, err := scanVersion(tx.QueryRow(ctx,
		`INSERT INTO report_versions (report_id, version_no, published, document_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+versionColumns,
		reportID, maxNo+1, published, documentID,
	))
	if err != nil {
		if db.IsUniqueViolation(err) {
			// The row lock makes this unreachable; seeing it means the lock was bypassed.
			s.log.Error("version number conflict under report lock",
				zap.Int64("report_id", reportID), zap.Int("version_no", maxNo+1), zap.Error(err))
			return nil, eris.Wrapf(ErrVersionConflict, "report: issue version %d for report %d", maxNo+1, reportID)
		}
		return nil, eris.Wrap(err, "report: insert version")
	}
	return v, nil
}

// IssueNextVersion appends a new version under the report row lock.
func (s *PostgresStore) IssueNextVersion(ctx context.Context, reportID int64, published bool, documentID *int64) (*ReportVersion, error) {
	var out *ReportVersion
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockReport(ctx, tx, reportID); err != nil {
			return err
		}
		v, err := s.issueNextVersionTx(ctx, tx, reportID, published, documentID)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("issued version",
		zap.Int64("report_id", reportID), zap.Int("version_no", out.VersionNo), zap.Bool("published", published))
	return out, nil
}

// ResolveLatestVersionWithData finds the newest version holding usable values of vt.
func (s *PostgresStore) ResolveLatestVersionWithData(ctx context.Context, reportID int64, vt ValueType) (*ReportVersion, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM report_versions v
		 WHERE v.report_id = $1
		   AND EXISTS (
			SELECT 1 FROM metric_values mv
			WHERE mv.version_id = v.id AND mv.value_type = $2 AND mv.value IS NOT NULL
		   )
		 ORDER BY v.version_no DESC
		 LIMIT 1`,
		reportID, string(vt),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "report: resolve latest version with data")
	}
	return v, nil
}

// resolveDraftTx reuses the latest draft unless it already carries non-null
// values of vt, in which case the next draft is issued. The caller must hold
// the report row lock.
func (s *PostgresStore) resolveDraftTx(ctx context.Context, tx pgx.Tx, reportID int64, vt ValueType) (*ReportVersion, error) {
	draft, err := scanVersion(tx.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM report_versions
		 WHERE report_id = $1 AND NOT published
		 ORDER BY version_no DESC
		 LIMIT 1`,
		reportID,
	))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		draft = nil
	case err != nil:
		return nil, eris.Wrap(err, "report: find latest draft")
	}

	if draft != nil {
		var hasData bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM metric_values
				WHERE version_id = $1 AND value_type = $2 AND value IS NOT NULL
			)`,
			draft.ID, string(vt),
		).Scan(&hasData); err != nil {
			return nil, eris.Wrap(err, "report: check draft data")
		}
		if !hasData {
			return draft, nil
		}
	}
	return s.issueNextVersionTx(ctx, tx, reportID, false, nil)
}

// ResolveOrReuseUnpublishedVersion runs the reuse-or-issue decision under the
// same report row lock as issuance so two importers cannot both create a draft.
func (s *PostgresStore) ResolveOrReuseUnpublishedVersion(ctx context.Context, reportID int64, vt ValueType) (*ReportVersion, error) {
	var out *ReportVersion
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockReport(ctx, tx, reportID); err != nil {
			return err
		}
		v, err := s.resolveDraftTx(ctx, tx, reportID, vt)
		out = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PublishToDraft resolves the draft for vt and writes values into it without
// releasing the report row lock in between. A second publisher blocks on the
// lock, then sees the first one's values and gets the next draft.
func (s *PostgresStore) PublishToDraft(ctx context.Context, reportID int64, vt ValueType, values []MetricValue) (*ReportVersion, int64, error) {
	var (
		out   *ReportVersion
		saved int64
	)
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockReport(ctx, tx, reportID); err != nil {
			return err
		}
		v, err := s.resolveDraftTx(ctx, tx, reportID, vt)
		if err != nil {
			return err
		}
		out = v

		stamped := make([]MetricValue, len(values))
		for i, mv := range values {
			mv.VersionID = v.ID
			stamped[i] = mv
		}
		saved, err = db.UpsertTx(ctx, tx, valueUpsert, valueRows(stamped))
		if err != nil {
			return eris.Wrap(err, "report: insert values")
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, saved, nil
}

// GetVersion fetches a version by ID. Returns nil, nil when not found.
func (s *PostgresStore) GetVersion(ctx context.Context, versionID int64) (*ReportVersion, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM report_versions WHERE id = $1`, versionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "report: get version")
	}
	return v, nil
}

// LatestVersion returns the highest-numbered version of the report.
func (s *PostgresStore) LatestVersion(ctx context.Context, reportID int64) (*ReportVersion, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM report_versions WHERE report_id = $1 ORDER BY version_no DESC LIMIT 1`,
		reportID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "report: latest version")
	}
	return v, nil
}

// PublishVersion finalizes a version. An existing document is kept.
func (s *PostgresStore) PublishVersion(ctx context.Context, versionID int64, documentID *int64) (*ReportVersion, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`UPDATE report_versions
		 SET published = true, document_id = COALESCE(document_id, $2)
		 WHERE id = $1
		 RETURNING `+versionColumns,
		versionID, documentID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrVersionNotFound, "report: publish version %d", versionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "report: publish version")
	}
	return v, nil
}

var valueUpsert = db.UpsertConfig{
	Table:        "metric_values",
	Columns:      []string{"version_id", "metric_id", "quarter_id", "value", "value_type"},
	ConflictKeys: []string{"version_id", "metric_id", "quarter_id", "value_type"},
	UpdateCols:   []string{"value"},
}

func valueRows(values []MetricValue) [][]any {
	rows := make([][]any, len(values))
	for i, v := range values {
		rows[i] = []any{v.VersionID, v.MetricID, int(v.Quarter), db.Numeric(v.Value), string(v.ValueType)}
	}
	return rows
}

// InsertValues upserts values keyed by (version, metric, quarter, type).
func (s *PostgresStore) InsertValues(ctx context.Context, values []MetricValue) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	n, err := db.BulkUpsert(ctx, s.pool, valueUpsert, valueRows(values))
	if err != nil {
		return 0, eris.Wrap(err, "report: insert values")
	}
	return n, nil
}

// UpdateSignals sets the signal annotation on values of one version.
func (s *PostgresStore) UpdateSignals(ctx context.Context, versionID int64, vt ValueType, signals map[string]string) (int64, error) {
	if len(signals) == 0 {
		return 0, nil
	}
	codes := make([]string, 0, len(signals))
	for code := range signals {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var updated int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, code := range codes {
			tag, err := tx.Exec(ctx,
				`UPDATE metric_values mv SET signal = $3
				 FROM metrics m
				 WHERE m.id = mv.metric_id AND mv.version_id = $1 AND mv.value_type = $2 AND m.code = $4`,
				versionID, string(vt), signals[code], code,
			)
			if err != nil {
				return eris.Wrapf(err, "report: update signal %s", code)
			}
			updated += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// CandidateRows loads all rows of vt for the company's reports in range.
func (s *PostgresStore) CandidateRows(ctx context.Context, companyID int64, from, to quarter.Key, vt ValueType) ([]MetricRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.quarter_id, mv.quarter_id, v.id, v.version_no,
		        m.code, m.display_name, m.unit, m.is_risk_indicator,
		        mv.value, mv.value_type, mv.signal
		 FROM metric_values mv
		 JOIN report_versions v ON v.id = mv.version_id
		 JOIN company_reports r ON r.id = v.report_id
		 JOIN metrics m ON m.id = mv.metric_id
		 WHERE r.company_id = $1 AND r.quarter_id BETWEEN $2 AND $3 AND mv.value_type = $4
		 ORDER BY r.quarter_id, v.version_no, m.code, mv.quarter_id`,
		companyID, int(from), int(to), string(vt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "report: candidate rows")
	}
	defer rows.Close()

	var out []MetricRow
	for rows.Next() {
		var (
			r         MetricRow
			rq, vq    int
			valueType string
		)
		if err := rows.Scan(&rq, &vq, &r.VersionID, &r.VersionNo,
			&r.MetricCode, &r.DisplayName, &r.Unit, &r.IsRiskIndicator,
			&r.Value, &valueType, &r.Signal); err != nil {
			return nil, eris.Wrap(err, "report: scan candidate row")
		}
		r.ReportQuarter = quarter.Key(rq)
		r.Quarter = quarter.Key(vq)
		r.ValueType = ValueType(valueType)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RiskIndicatorValues returns the aggregation inputs of one version.
func (s *PostgresStore) RiskIndicatorValues(ctx context.Context, versionID int64, q quarter.Key) ([]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT mv.value
		 FROM metric_values mv
		 JOIN metrics m ON m.id = mv.metric_id
		 WHERE mv.version_id = $1 AND mv.quarter_id = $2
		   AND mv.value_type = 'ACTUAL' AND m.is_risk_indicator AND mv.value IS NOT NULL
		 ORDER BY m.code`,
		versionID, int(q),
	)
	if err != nil {
		return nil, eris.Wrap(err, "report: risk indicator values")
	}
	defer rows.Close()

	var out []decimal.Decimal
	for rows.Next() {
		var d decimal.Decimal
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrap(err, "report: scan risk indicator value")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertDocument stores document metadata and fills in ID and CreatedAt.
func (s *PostgresStore) InsertDocument(ctx context.Context, doc *Document) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO report_documents (object_key, url, size_bytes, content_type)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		doc.ObjectKey, doc.URL, doc.SizeBytes, doc.ContentType,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "report: insert document")
	}
	return nil
}

// GetDocument fetches document metadata. Returns nil, nil when not found.
func (s *PostgresStore) GetDocument(ctx context.Context, id int64) (*Document, error) {
	var d Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, object_key, url, size_bytes, content_type, created_at
		 FROM report_documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.ObjectKey, &d.URL, &d.SizeBytes, &d.ContentType, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "report: get document")
	}
	return &d, nil
}

// ListLatestVersions returns one keyset page ordered by report id.
func (s *PostgresStore) ListLatestVersions(ctx context.Context, afterReportID int64, limit int) ([]LatestVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (r.id) r.id, r.company_id, r.quarter_id, v.id, v.version_no
		 FROM company_reports r
		 JOIN report_versions v ON v.report_id = r.id
		 WHERE r.id > $1
		 ORDER BY r.id, v.version_no DESC
		 LIMIT $2`,
		afterReportID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "report: list latest versions")
	}
	defer rows.Close()

	var out []LatestVersion
	for rows.Next() {
		var (
			lv LatestVersion
			q  int
		)
		if err := rows.Scan(&lv.ReportID, &lv.CompanyID, &q, &lv.VersionID, &lv.VersionNo); err != nil {
			return nil, eris.Wrap(err, "report: scan latest version")
		}
		lv.Quarter = quarter.Key(q)
		out = append(out, lv)
	}
	return out, rows.Err()
}

// LatestActualQuarters returns each company's newest quarter with actual data.
func (s *PostgresStore) LatestActualQuarters(ctx context.Context, companyIDs []int64) (map[int64]quarter.Key, error) {
	out := make(map[int64]quarter.Key)
	if len(companyIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT r.company_id, MAX(mv.quarter_id)
		 FROM metric_values mv
		 JOIN report_versions v ON v.id = mv.version_id
		 JOIN company_reports r ON r.id = v.report_id
		 WHERE r.company_id = ANY($1) AND mv.value_type = 'ACTUAL' AND mv.value IS NOT NULL
		 GROUP BY r.company_id`,
		companyIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "report: latest actual quarters")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			q  int
		)
		if err := rows.Scan(&id, &q); err != nil {
			return nil, eris.Wrap(err, "report: scan latest actual quarter")
		}
		out[id] = quarter.Key(q)
	}
	return out, rows.Err()
}

// ListQuarters pages distinct value quarters in ascending order.
func (s *PostgresStore) ListQuarters(ctx context.Context, after quarter.Key, limit int) ([]quarter.Key, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT quarter_id FROM metric_values WHERE quarter_id > $1 ORDER BY quarter_id LIMIT $2`,
		int(after), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "report: list quarters")
	}
	defer rows.Close()

	var out []quarter.Key
	for rows.Next() {
		var q int
		if err := rows.Scan(&q); err != nil {
			return nil, eris.Wrap(err, "report: scan quarter")
		}
		out = append(out, quarter.Key(q))
	}
	return out, rows.Err()
}

// RecomputeQuarterAverages averages each company's most recent usable value
// per metric and type for the quarter and upserts the results.
func (s *PostgresStore) RecomputeQuarterAverages(ctx context.Context, q quarter.Key) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`WITH latest AS (
			SELECT DISTINCT ON (r.company_id, mv.metric_id, mv.value_type)
			       r.company_id, mv.metric_id, mv.value_type, mv.value
			FROM metric_values mv
			JOIN report_versions v ON v.id = mv.version_id
			JOIN company_reports r ON r.id = v.report_id
			WHERE mv.quarter_id = $1 AND mv.value IS NOT NULL
			ORDER BY r.company_id, mv.metric_id, mv.value_type, r.quarter_id DESC, v.version_no DESC
		)
		INSERT INTO metric_quarter_averages (metric_id, quarter_id, value_type, average, company_count, updated_at)
		SELECT metric_id, $1, value_type, ROUND(AVG(value), 4), COUNT(*), now()
		FROM latest
		GROUP BY metric_id, value_type
		ON CONFLICT (metric_id, quarter_id, value_type) DO UPDATE
		SET average = EXCLUDED.average, company_count = EXCLUDED.company_count, updated_at = EXCLUDED.updated_at`,
		int(q),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "report: recompute averages for %d", int(q))
	}
	return tag.RowsAffected(), nil
}
