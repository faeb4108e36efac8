package report

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/finrisk/internal/company"
	"github.com/sells-group/finrisk/internal/metric"
	"github.com/sells-group/finrisk/internal/quarter"
)

// memStore is an in-memory Store. The mutex plays the role of the report row
// lock so issuance and reuse-or-issue are serialized the same way.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	reports  []CompanyReport
	versions []ReportVersion
	values   []memValue
	docs     []Document
	metrics  map[int64]metric.Metric
	averages map[quarter.Key]int
}

type memValue struct {
	MetricValue
	signal *string
}

func newMemStore(metrics ...metric.Metric) *memStore {
	s := &memStore{metrics: make(map[int64]metric.Metric), averages: make(map[quarter.Key]int)}
	for _, m := range metrics {
		s.metrics[m.ID] = m
	}
	return s
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) GetOrCreateReport(_ context.Context, companyID int64, q quarter.Key) (*CompanyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.CompanyID == companyID && r.Quarter == q {
			r := r
			return &r, nil
		}
	}
	r := CompanyReport{ID: s.id(), CompanyID: companyID, Quarter: q, CreatedAt: time.Now()}
	s.reports = append(s.reports, r)
	return &r, nil
}

func (s *memStore) FindReport(_ context.Context, companyID int64, q quarter.Key) (*CompanyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports {
		if r.CompanyID == companyID && r.Quarter == q {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (s *memStore) issueLocked(reportID int64, published bool, documentID *int64) *ReportVersion {
	maxNo := 0
	for _, v := range s.versions {
		if v.ReportID == reportID && v.VersionNo > maxNo {
			maxNo = v.VersionNo
		}
	}
	v := ReportVersion{
		ID: s.id(), ReportID: reportID, VersionNo: maxNo + 1,
		GeneratedAt: time.Now(), Published: published, DocumentID: documentID,
	}
	s.versions = append(s.versions, v)
	return &v
}

func (s *memStore) IssueNextVersion(_ context.Context, reportID int64, published bool, documentID *int64) (*ReportVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(reportID, published, documentID), nil
}

func (s *memStore) hasDataLocked(versionID int64, vt ValueType) bool {
	for _, v := range s.values {
		if v.VersionID == versionID && v.ValueType == vt && v.Value.Valid {
			return true
		}
	}
	return false
}

func (s *memStore) ResolveLatestVersionWithData(_ context.Context, reportID int64, vt ValueType) (*ReportVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *ReportVersion
	for i := range s.versions {
		v := s.versions[i]
		if v.ReportID == reportID && s.hasDataLocked(v.ID, vt) && (best == nil || v.VersionNo > best.VersionNo) {
			best = &v
		}
	}
	return best, nil
}

func (s *memStore) draftLocked(reportID int64, vt ValueType) *ReportVersion {
	var draft *ReportVersion
	for i := range s.versions {
		v := s.versions[i]
		if v.ReportID == reportID && !v.Published && (draft == nil || v.VersionNo > draft.VersionNo) {
			draft = &v
		}
	}
	if draft != nil && !s.hasDataLocked(draft.ID, vt) {
		return draft
	}
	return s.issueLocked(reportID, false, nil)
}

func (s *memStore) ResolveOrReuseUnpublishedVersion(_ context.Context, reportID int64, vt ValueType) (*ReportVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draftLocked(reportID, vt), nil
}

func (s *memStore) PublishToDraft(_ context.Context, reportID int64, vt ValueType, values []MetricValue) (*ReportVersion, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.draftLocked(reportID, vt)
	for _, mv := range values {
		mv.VersionID = v.ID
		s.insertLocked(mv)
	}
	return v, int64(len(values)), nil
}

func (s *memStore) GetVersion(_ context.Context, versionID int64) (*ReportVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.ID == versionID {
			v := v
			return &v, nil
		}
	}
	return nil, nil
}

func (s *memStore) LatestVersion(_ context.Context, reportID int64) (*ReportVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *ReportVersion
	for i := range s.versions {
		v := s.versions[i]
		if v.ReportID == reportID && (best == nil || v.VersionNo > best.VersionNo) {
			best = &v
		}
	}
	return best, nil
}

func (s *memStore) PublishVersion(_ context.Context, versionID int64, documentID *int64) (*ReportVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.versions {
		if s.versions[i].ID == versionID {
			s.versions[i].Published = true
			if s.versions[i].DocumentID == nil {
				s.versions[i].DocumentID = documentID
			}
			v := s.versions[i]
			return &v, nil
		}
	}
	return nil, ErrVersionNotFound
}

func (s *memStore) insertLocked(nv MetricValue) {
	for i, v := range s.values {
		if v.VersionID == nv.VersionID && v.MetricID == nv.MetricID && v.Quarter == nv.Quarter && v.ValueType == nv.ValueType {
			s.values[i].Value = nv.Value
			return
		}
	}
	s.values = append(s.values, memValue{MetricValue: nv})
}

func (s *memStore) InsertValues(_ context.Context, values []MetricValue) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, nv := range values {
		s.insertLocked(nv)
	}
	return int64(len(values)), nil
}

func (s *memStore) UpdateSignals(_ context.Context, versionID int64, vt ValueType, signals map[string]string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i, v := range s.values {
		sig, ok := signals[s.metrics[v.MetricID].Code]
		if ok && v.VersionID == versionID && v.ValueType == vt {
			sig := sig
			s.values[i].signal = &sig
			n++
		}
	}
	return n, nil
}

func (s *memStore) versionLocked(id int64) ReportVersion {
	for _, v := range s.versions {
		if v.ID == id {
			return v
		}
	}
	return ReportVersion{}
}

func (s *memStore) reportLocked(id int64) CompanyReport {
	for _, r := range s.reports {
		if r.ID == id {
			return r
		}
	}
	return CompanyReport{}
}

func (s *memStore) CandidateRows(_ context.Context, companyID int64, from, to quarter.Key, vt ValueType) ([]MetricRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []MetricRow
	for _, v := range s.values {
		ver := s.versionLocked(v.VersionID)
		r := s.reportLocked(ver.ReportID)
		if r.CompanyID != companyID || r.Quarter < from || r.Quarter > to || v.ValueType != vt {
			continue
		}
		m := s.metrics[v.MetricID]
		out = append(out, MetricRow{
			ReportQuarter: r.Quarter, Quarter: v.Quarter,
			VersionID: ver.ID, VersionNo: ver.VersionNo,
			MetricCode: m.Code, DisplayName: m.DisplayName, Unit: m.Unit, IsRiskIndicator: m.IsRiskIndicator,
			Value: v.Value, ValueType: v.ValueType, Signal: v.signal,
		})
	}
	return out, nil
}

func (s *memStore) RiskIndicatorValues(_ context.Context, versionID int64, q quarter.Key) ([]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []decimal.Decimal
	for _, v := range s.values {
		if v.VersionID == versionID && v.Quarter == q && v.ValueType == Actual && v.Value.Valid && s.metrics[v.MetricID].IsRiskIndicator {
			out = append(out, v.Value.Decimal)
		}
	}
	return out, nil
}

func (s *memStore) InsertDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.ID = s.id()
	doc.CreatedAt = time.Now()
	s.docs = append(s.docs, *doc)
	return nil
}

func (s *memStore) GetDocument(_ context.Context, id int64) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.ID == id {
			d := d
			return &d, nil
		}
	}
	return nil, nil
}

func (s *memStore) ListLatestVersions(_ context.Context, afterReportID int64, limit int) ([]LatestVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LatestVersion
	for _, r := range s.reports {
		if r.ID <= afterReportID {
			continue
		}
		var best *ReportVersion
		for i := range s.versions {
			v := s.versions[i]
			if v.ReportID == r.ID && (best == nil || v.VersionNo > best.VersionNo) {
				best = &v
			}
		}
		if best != nil {
			out = append(out, LatestVersion{r.ID, r.CompanyID, r.Quarter, best.ID, best.VersionNo})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportID < out[j].ReportID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) LatestActualQuarters(_ context.Context, companyIDs []int64) (map[int64]quarter.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]bool)
	for _, id := range companyIDs {
		want[id] = true
	}
	out := make(map[int64]quarter.Key)
	for _, v := range s.values {
		r := s.reportLocked(s.versionLocked(v.VersionID).ReportID)
		if want[r.CompanyID] && v.ValueType == Actual && v.Value.Valid && v.Quarter > out[r.CompanyID] {
			out[r.CompanyID] = v.Quarter
		}
	}
	return out, nil
}

func (s *memStore) ListQuarters(_ context.Context, after quarter.Key, limit int) ([]quarter.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[quarter.Key]bool)
	var out []quarter.Key
	for _, v := range s.values {
		if v.Quarter > after && !seen[v.Quarter] {
			seen[v.Quarter] = true
			out = append(out, v.Quarter)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) RecomputeQuarterAverages(_ context.Context, q quarter.Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.averages[q]++
	return 1, nil
}

var _ Store = (*memStore)(nil)

// fakeCatalog is a fixed metric.Catalog.
type fakeCatalog struct {
	byCode map[string]metric.Metric
}

func newFakeCatalog(metrics ...metric.Metric) *fakeCatalog {
	c := &fakeCatalog{byCode: make(map[string]metric.Metric)}
	for _, m := range metrics {
		c.byCode[m.Code] = m
	}
	return c
}

func (c *fakeCatalog) FindByCode(_ context.Context, code string) (*metric.Metric, error) {
	m, ok := c.byCode[code]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (c *fakeCatalog) FindAllByCodes(ctx context.Context, codes []string) ([]metric.Metric, error) {
	var out []metric.Metric
	for _, code := range codes {
		if m, _ := c.FindByCode(ctx, code); m != nil {
			out = append(out, *m)
		}
	}
	return out, nil
}

// fakeDirectory is a fixed company.Directory.
type fakeDirectory struct {
	companies []company.Company
}

func (d *fakeDirectory) FindByStockCode(_ context.Context, code string) (*company.Company, error) {
	code = company.NormalizeStockCode(strings.TrimSpace(code))
	for _, c := range d.companies {
		if c.StockCode == code {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) FindByID(_ context.Context, id int64) (*company.Company, error) {
	for _, c := range d.companies {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) FindByIDs(ctx context.Context, ids []int64) ([]company.Company, error) {
	var out []company.Company
	for _, id := range ids {
		if c, _ := d.FindByID(ctx, id); c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}
