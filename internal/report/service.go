package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/company"
	"github.com/sells-group/finrisk/internal/metric"
	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/pkg/docstore"
)

// DocumentStore persists document blobs.
type DocumentStore interface {
	Put(ctx context.Context, data []byte, keyPrefix string) (*docstore.Object, error)
}

// PublishListener is notified after ACTUAL values are saved for a report.
// Errors are logged; the publish itself has already been committed.
type PublishListener interface {
	ActualPublished(ctx context.Context, companyID int64, q quarter.Key, versionID int64) error
}

// Service is the public face of the versioned metric store.
type Service struct {
	store     Store
	catalog   metric.Catalog
	companies company.Directory
	docs      DocumentStore
	listener  PublishListener
	log       *zap.Logger
}

// NewService wires a Service. docs may be nil when documents are not used.
func NewService(store Store, catalog metric.Catalog, companies company.Directory, docs DocumentStore) *Service {
	return &Service{
		store:     store,
		catalog:   catalog,
		companies: companies,
		docs:      docs,
		log:       zap.L().With(zap.String("component", "report.service")),
	}
}

// SetListener registers the publish listener.
func (s *Service) SetListener(l PublishListener) {
	s.listener = l
}

// Store exposes the underlying store for batch consumers.
func (s *Service) Store() Store {
	return s.store
}

// metricValues maps codes to catalog metrics. Blank and unknown codes are
// skipped and counted. VersionID is left for the caller to set.
func (s *Service) metricValues(ctx context.Context, q quarter.Key, vt ValueType, values map[string]decimal.NullDecimal) ([]MetricValue, int, error) {
	codes := make([]string, 0, len(values))
	for code := range values {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var skipped int
	batch := make([]MetricValue, 0, len(codes))
	for _, code := range codes {
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			skipped++
			continue
		}
		m, err := s.catalog.FindByCode(ctx, trimmed)
		if err != nil {
			return nil, skipped, eris.Wrapf(err, "report: resolve metric %s", trimmed)
		}
		if m == nil {
			s.log.Debug("skipping unknown metric code", zap.String("code", trimmed))
			skipped++
			continue
		}
		batch = append(batch, MetricValue{
			MetricID:  m.ID,
			Quarter:   q,
			Value:     values[code],
			ValueType: vt,
		})
	}
	return batch, skipped, nil
}

// PublishValues writes values under an existing version. Blank and unknown
// codes are skipped and counted. A zero value is stored as zero; an invalid
// (missing) value is stored as NULL.
func (s *Service) PublishValues(ctx context.Context, v *ReportVersion, q quarter.Key, vt ValueType, values map[string]decimal.NullDecimal) (PublishResult, error) {
	var res PublishResult
	if v == nil {
		return res, eris.Wrap(ErrVersionNotFound, "report: publish values")
	}
	if !q.Valid() {
		return res, eris.Wrapf(quarter.ErrInvalidQuarterKey, "report: publish values quarter %d", int(q))
	}

	batch, skipped, err := s.metricValues(ctx, q, vt, values)
	res.SkippedMetrics = skipped
	if err != nil {
		return res, err
	}
	for i := range batch {
		batch[i].VersionID = v.ID
	}
	if _, err := s.store.InsertValues(ctx, batch); err != nil {
		return res, err
	}
	res.SavedValues = len(batch)
	res.VersionID = v.ID
	return res, nil
}

// Publish writes values for a stock code and quarter into the current draft
// version for vt, creating the report and version as needed. An unknown stock
// code is a counted no-op, never an error.
func (s *Service) Publish(ctx context.Context, stockCode string, q quarter.Key, vt ValueType, values map[string]decimal.NullDecimal) (PublishResult, error) {
	return s.publish(ctx, stockCode, q, q, vt, values)
}

// PublishPredictions stores forecast values for the quarter after base under
// the base quarter's report.
func (s *Service) PublishPredictions(ctx context.Context, stockCode string, base quarter.Key, values map[string]decimal.NullDecimal) (PublishResult, error) {
	if !base.Valid() {
		return PublishResult{}, eris.Wrapf(quarter.ErrInvalidQuarterKey, "report: publish predictions base %d", int(base))
	}
	return s.publish(ctx, stockCode, base, base.Offset(1), Predicted, values)
}

func (s *Service) publish(ctx context.Context, stockCode string, reportQ, valueQ quarter.Key, vt ValueType, values map[string]decimal.NullDecimal) (PublishResult, error) {
	if !reportQ.Valid() {
		return PublishResult{}, eris.Wrapf(quarter.ErrInvalidQuarterKey, "report: publish quarter %d", int(reportQ))
	}
	if !valueQ.Valid() {
		return PublishResult{}, eris.Wrapf(quarter.ErrInvalidQuarterKey, "report: publish value quarter %d", int(valueQ))
	}

	c, err := s.companies.FindByStockCode(ctx, stockCode)
	if err != nil {
		return PublishResult{}, eris.Wrap(err, "report: publish")
	}
	if c == nil {
		s.log.Info("skipping publish for unknown stock code", zap.String("stock_code", stockCode))
		return PublishResult{SkippedCompanies: 1}, nil
	}

	batch, skipped, err := s.metricValues(ctx, valueQ, vt, values)
	res := PublishResult{SkippedMetrics: skipped}
	if err != nil {
		return res, err
	}

	r, err := s.store.GetOrCreateReport(ctx, c.ID, reportQ)
	if err != nil {
		return res, err
	}
	// Draft choice and value write share the report lock, so concurrent
	// imports of the same type land in separate versions.
	v, _, err := s.store.PublishToDraft(ctx, r.ID, vt, batch)
	if err != nil {
		return res, err
	}
	res.SavedValues = len(batch)
	res.VersionID = v.ID

	s.log.Info("published values",
		zap.String("stock_code", c.StockCode),
		zap.Int("quarter", int(reportQ)),
		zap.String("value_type", string(vt)),
		zap.Int("version_no", v.VersionNo),
		zap.Int("saved", res.SavedValues),
		zap.Int("skipped", res.SkippedMetrics),
	)

	if vt == Actual && res.SavedValues > 0 && s.listener != nil {
		if err := s.listener.ActualPublished(ctx, c.ID, valueQ, v.ID); err != nil {
			s.log.Warn("publish listener failed",
				zap.Int64("company_id", c.ID), zap.Int64("version_id", v.ID), zap.Error(err))
		}
	}
	return res, nil
}

func (s *Service) company(ctx context.Context, stockCode string) (*company.Company, error) {
	c, err := s.companies.FindByStockCode(ctx, stockCode)
	if err != nil {
		return nil, eris.Wrap(err, "report: find company")
	}
	if c == nil {
		return nil, eris.Wrapf(ErrCompanyNotFound, "report: stock code %q", stockCode)
	}
	return c, nil
}

// FindLatestMetricsForQuarterRange resolves, for each report quarter in
// [from, to], the latest version per classification that carries usable
// values of vt. vt defaults to ACTUAL.
func (s *Service) FindLatestMetricsForQuarterRange(ctx context.Context, stockCode string, from, to quarter.Key, vt ValueType) ([]MetricRow, error) {
	if vt == "" {
		vt = Actual
	}
	c, err := s.company(ctx, stockCode)
	if err != nil {
		return nil, err
	}
	if from > to {
		return nil, nil
	}
	candidates, err := s.store.CandidateRows(ctx, c.ID, from, to, vt)
	if err != nil {
		return nil, err
	}
	return ResolveLatest(candidates), nil
}

// FindLatestMetricsForQuarterAndType is the single-quarter form, also
// returning the resolved version's document when one is attached.
func (s *Service) FindLatestMetricsForQuarterAndType(ctx context.Context, stockCode string, q quarter.Key, vt ValueType) ([]MetricRow, *Document, error) {
	rows, err := s.FindLatestMetricsForQuarterRange(ctx, stockCode, q, q, vt)
	if err != nil {
		return nil, nil, err
	}
	id := resolvedVersionID(rows, q)
	if id == 0 {
		return rows, nil, nil
	}
	v, err := s.store.GetVersion(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if v == nil || v.DocumentID == nil {
		return rows, nil, nil
	}
	doc, err := s.store.GetDocument(ctx, *v.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	return rows, doc, nil
}

// MetricSeries accepts free-text quarter bounds (canonical, legacy six-digit
// or labelled) and returns the resolved series.
func (s *Service) MetricSeries(ctx context.Context, stockCode, fromText, toText string, vt ValueType) ([]MetricRow, error) {
	from, err := quarter.ParseText(fromText)
	if err != nil {
		return nil, err
	}
	to, err := quarter.ParseText(toText)
	if err != nil {
		return nil, err
	}
	return s.FindLatestMetricsForQuarterRange(ctx, stockCode, from, to, vt)
}

// ReportCard returns the single-quarter snapshot. ErrQuarterNotFound when no
// version of the quarter carries usable values of vt.
func (s *Service) ReportCard(ctx context.Context, stockCode, quarterText string, vt ValueType) (*ReportCard, error) {
	q, err := quarter.ParseText(quarterText)
	if err != nil {
		return nil, err
	}
	if vt == "" {
		vt = Actual
	}
	rows, doc, err := s.FindLatestMetricsForQuarterAndType(ctx, stockCode, q, vt)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, eris.Wrapf(ErrQuarterNotFound, "report: %s %s %s", stockCode, q, vt)
	}
	return &ReportCard{
		StockCode: company.NormalizeStockCode(stockCode),
		Quarter:   q,
		ValueType: vt,
		Rows:      rows,
		Document:  doc,
	}, nil
}

func (s *Service) storeDocument(ctx context.Context, data []byte, keyPrefix string) (*Document, error) {
	if s.docs == nil {
		return nil, eris.New("report: no document store configured")
	}
	obj, err := s.docs.Put(ctx, data, keyPrefix)
	if err != nil {
		return nil, eris.Wrap(err, "report: store document")
	}
	doc := &Document{
		ObjectKey:   obj.Key,
		URL:         obj.URL,
		SizeBytes:   obj.Size,
		ContentType: obj.ContentType,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// PublishDocument stores a standalone document and issues a version that is
// published from the start and carries it.
func (s *Service) PublishDocument(ctx context.Context, stockCode string, q quarter.Key, data []byte) (*ReportVersion, error) {
	if !q.Valid() {
		return nil, eris.Wrapf(quarter.ErrInvalidQuarterKey, "report: publish document quarter %d", int(q))
	}
	c, err := s.company(ctx, stockCode)
	if err != nil {
		return nil, err
	}
	doc, err := s.storeDocument(ctx, data, fmt.Sprintf("reports/%s/%d", c.StockCode, int(q)))
	if err != nil {
		return nil, err
	}
	r, err := s.store.GetOrCreateReport(ctx, c.ID, q)
	if err != nil {
		return nil, err
	}
	return s.store.IssueNextVersion(ctx, r.ID, true, &doc.ID)
}

// FinalizeVersion attaches a document to a draft and publishes it. A version
// that is already published is returned unchanged.
func (s *Service) FinalizeVersion(ctx context.Context, versionID int64, data []byte) (*ReportVersion, error) {
	v, err := s.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, eris.Wrapf(ErrVersionNotFound, "report: finalize version %d", versionID)
	}
	if v.Published {
		return v, nil
	}

	var docID *int64
	if len(data) > 0 {
		doc, err := s.storeDocument(ctx, data, fmt.Sprintf("reports/versions/%d", versionID))
		if err != nil {
			return nil, err
		}
		docID = &doc.ID
	}
	return s.store.PublishVersion(ctx, versionID, docID)
}

// RecomputeAverages walks every value quarter page by page, rewriting the
// per-metric averages. Cancellation is honored between pages.
func (s *Service) RecomputeAverages(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var (
		after quarter.Key
		done  int
	)
	for {
		if err := ctx.Err(); err != nil {
			return done, eris.Wrap(err, "report: recompute averages cancelled")
		}
		page, err := s.store.ListQuarters(ctx, after, pageSize)
		if err != nil {
			return done, err
		}
		if len(page) == 0 {
			break
		}
		for _, q := range page {
			n, err := s.store.RecomputeQuarterAverages(ctx, q)
			if err != nil {
				return done, err
			}
			s.log.Debug("recomputed averages", zap.Int("quarter", int(q)), zap.Int64("rows", n))
			done++
		}
		after = page[len(page)-1]
		if len(page) < pageSize {
			break
		}
	}
	s.log.Info("averages recomputed", zap.Int("quarters", done))
	return done, nil
}
