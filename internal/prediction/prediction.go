// Package prediction caches AI service output (forecasts, health scores,
// signals and comments) into the report and key-metric stores. Every call is
// best-effort: AI failures are logged and reported as cache misses.
package prediction

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/company"
	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/report"
	"github.com/sells-group/finrisk/internal/risk"
	"github.com/sells-group/finrisk/pkg/aiclient"
)

// Publisher stores forecast values under a base quarter's report.
type Publisher interface {
	PublishPredictions(ctx context.Context, stockCode string, base quarter.Key, values map[string]decimal.NullDecimal) (report.PublishResult, error)
}

// Outcome describes what an Ensure call did.
type Outcome struct {
	// Cached is true when the data was already present and the AI service
	// was not called.
	Cached bool `json:"cached"`
	// CacheMiss is true when nothing could be stored this time.
	CacheMiss bool `json:"cache_miss"`
	// Stored counts values or rows written.
	Stored int `json:"stored"`
	// Quarter is the quarter the data was stored against.
	Quarter quarter.Key `json:"quarter,omitempty"`
}

var miss = Outcome{CacheMiss: true}

// Service fills the caches on demand.
type Service struct {
	ai        aiclient.Client
	companies company.Directory
	publisher Publisher
	reports   report.Store
	risk      risk.Store
	log       *zap.Logger
}

// NewService creates a Service.
func NewService(ai aiclient.Client, companies company.Directory, publisher Publisher, reports report.Store, riskStore risk.Store) *Service {
	return &Service{
		ai:        ai,
		companies: companies,
		publisher: publisher,
		reports:   reports,
		risk:      riskStore,
		log:       zap.L().With(zap.String("component", "prediction")),
	}
}

// EnsurePredictionCached stores next-quarter forecasts for the company unless
// its latest actual quarter already has predicted data. Unknown companies are
// a no-op.
func (s *Service) EnsurePredictionCached(ctx context.Context, stockCode string) (Outcome, error) {
	c, err := s.company(ctx, stockCode)
	if err != nil || c == nil {
		return Outcome{}, err
	}

	anchor, err := s.latestActual(ctx, c.ID)
	if err != nil {
		return Outcome{}, err
	}
	if anchor != 0 {
		cached, err := s.hasData(ctx, c.ID, anchor, report.Predicted)
		if err != nil {
			return Outcome{}, err
		}
		if cached {
			return Outcome{Cached: true, Quarter: anchor}, nil
		}
	}

	p, err := s.ai.GetPrediction(ctx, c.StockCode)
	if err != nil {
		s.warnMiss("prediction", c.StockCode, err)
		return miss, nil
	}
	if p == nil || len(p.Predictions) == 0 {
		s.warnMiss("prediction", c.StockCode, errEmpty)
		return miss, nil
	}
	base, err := quarter.ParseText(p.BasePeriod)
	if err != nil {
		s.warnMiss("prediction", c.StockCode, err)
		return miss, nil
	}

	values := make(map[string]decimal.NullDecimal, len(p.Predictions))
	for code, v := range p.Predictions {
		values[code] = decimal.NewNullDecimal(decimal.NewFromFloat(v))
	}
	res, err := s.publisher.PublishPredictions(ctx, c.StockCode, base, values)
	if err != nil {
		return Outcome{}, eris.Wrapf(err, "prediction: publish %s", c.StockCode)
	}

	s.log.Info("cached predictions",
		zap.String("stock_code", c.StockCode),
		zap.Int("base", int(base)),
		zap.Int("saved", res.SavedValues),
		zap.Int("skipped", res.SkippedMetrics))
	return Outcome{Stored: res.SavedValues, CacheMiss: res.SavedValues == 0, Quarter: base.Offset(1)}, nil
}

// EnsureHealthScoreCached stores the external health score on the key-metric
// row of the payload's base quarter, or the latest actual quarter when the
// payload carries none.
func (s *Service) EnsureHealthScoreCached(ctx context.Context, stockCode string) (Outcome, error) {
	c, err := s.company(ctx, stockCode)
	if err != nil || c == nil {
		return Outcome{}, err
	}

	anchor, err := s.latestActual(ctx, c.ID)
	if err != nil {
		return Outcome{}, err
	}
	if km, err := s.keyMetric(ctx, c.ID, anchor); err != nil {
		return Outcome{}, err
	} else if km != nil && km.ExternalHealthScore.Valid {
		return Outcome{Cached: true, Quarter: anchor}, nil
	}

	hs, err := s.ai.GetHealthScore(ctx, c.StockCode)
	if err != nil {
		s.warnMiss("health score", c.StockCode, err)
		return miss, nil
	}
	if hs == nil || hs.Score == nil {
		s.warnMiss("health score", c.StockCode, errEmpty)
		return miss, nil
	}
	q := s.targetQuarter(hs.BasePeriod, anchor)
	if q == 0 {
		s.warnMiss("health score", c.StockCode, errNoQuarter)
		return miss, nil
	}

	score := decimal.NewNullDecimal(decimal.NewFromFloat(*hs.Score).Round(2))
	if err := s.risk.SetExternalHealthScore(ctx, c.ID, q, score); err != nil {
		return Outcome{}, err
	}
	return Outcome{Stored: 1, Quarter: q}, nil
}

// EnsureCommentCached stores the AI comment on the key-metric row.
func (s *Service) EnsureCommentCached(ctx context.Context, stockCode string) (Outcome, error) {
	c, err := s.company(ctx, stockCode)
	if err != nil || c == nil {
		return Outcome{}, err
	}

	anchor, err := s.latestActual(ctx, c.ID)
	if err != nil {
		return Outcome{}, err
	}
	if km, err := s.keyMetric(ctx, c.ID, anchor); err != nil {
		return Outcome{}, err
	} else if km != nil && km.AIComment != nil && *km.AIComment != "" {
		return Outcome{Cached: true, Quarter: anchor}, nil
	}

	cm, err := s.ai.GetAiComment(ctx, c.StockCode)
	if err != nil {
		s.warnMiss("comment", c.StockCode, err)
		return miss, nil
	}
	if cm == nil || cm.Comment == "" {
		s.warnMiss("comment", c.StockCode, errEmpty)
		return miss, nil
	}
	q := s.targetQuarter(cm.BasePeriod, anchor)
	if q == 0 {
		s.warnMiss("comment", c.StockCode, errNoQuarter)
		return miss, nil
	}

	if err := s.risk.SetAIComment(ctx, c.ID, q, cm.Comment); err != nil {
		return Outcome{}, err
	}
	return Outcome{Stored: 1, Quarter: q}, nil
}

// EnsureSignalsCached annotates the ACTUAL values of the latest version with
// actual data at the company's latest actual quarter.
func (s *Service) EnsureSignalsCached(ctx context.Context, stockCode string) (Outcome, error) {
	c, err := s.company(ctx, stockCode)
	if err != nil || c == nil {
		return Outcome{}, err
	}

	anchor, err := s.latestActual(ctx, c.ID)
	if err != nil {
		return Outcome{}, err
	}
	if anchor == 0 {
		s.warnMiss("signals", c.StockCode, errNoQuarter)
		return miss, nil
	}
	rows, err := s.reports.CandidateRows(ctx, c.ID, anchor, anchor, report.Actual)
	if err != nil {
		return Outcome{}, err
	}
	rows = report.ResolveLatest(rows)
	for _, r := range rows {
		if r.Signal != nil {
			return Outcome{Cached: true, Quarter: anchor}, nil
		}
	}

	r, err := s.reports.FindReport(ctx, c.ID, anchor)
	if err != nil {
		return Outcome{}, err
	}
	if r == nil {
		return miss, nil
	}
	v, err := s.reports.ResolveLatestVersionWithData(ctx, r.ID, report.Actual)
	if err != nil {
		return Outcome{}, err
	}
	if v == nil {
		return miss, nil
	}

	sig, err := s.ai.GetSignals(ctx, c.StockCode)
	if err != nil {
		s.warnMiss("signals", c.StockCode, err)
		return miss, nil
	}
	if sig == nil || len(sig.Signals) == 0 {
		s.warnMiss("signals", c.StockCode, errEmpty)
		return miss, nil
	}

	n, err := s.reports.UpdateSignals(ctx, v.ID, report.Actual, sig.Signals)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Stored: int(n), CacheMiss: n == 0, Quarter: anchor}, nil
}

var (
	errEmpty     = errors.New("empty payload")
	errNoQuarter = errors.New("no quarter to attach to")
)

func (s *Service) company(ctx context.Context, stockCode string) (*company.Company, error) {
	c, err := s.companies.FindByStockCode(ctx, stockCode)
	if err != nil {
		return nil, eris.Wrap(err, "prediction: find company")
	}
	if c == nil {
		s.log.Debug("unknown stock code", zap.String("stock_code", stockCode))
	}
	return c, nil
}

// latestActual returns zero when the company has no ACTUAL data.
func (s *Service) latestActual(ctx context.Context, companyID int64) (quarter.Key, error) {
	m, err := s.reports.LatestActualQuarters(ctx, []int64{companyID})
	if err != nil {
		return 0, err
	}
	return m[companyID], nil
}

func (s *Service) hasData(ctx context.Context, companyID int64, q quarter.Key, vt report.ValueType) (bool, error) {
	r, err := s.reports.FindReport(ctx, companyID, q)
	if err != nil || r == nil {
		return false, err
	}
	v, err := s.reports.ResolveLatestVersionWithData(ctx, r.ID, vt)
	return v != nil, err
}

func (s *Service) keyMetric(ctx context.Context, companyID int64, q quarter.Key) (*risk.KeyMetric, error) {
	if q == 0 {
		return nil, nil
	}
	rows, err := s.risk.ListKeyMetrics(ctx, []int64{companyID}, q, q)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].CompanyID == companyID && rows[i].Quarter == q {
			return &rows[i], nil
		}
	}
	return nil, nil
}

// targetQuarter prefers the payload's base period and falls back to the
// latest actual quarter.
func (s *Service) targetQuarter(basePeriod string, fallback quarter.Key) quarter.Key {
	if basePeriod != "" {
		if q, err := quarter.ParseText(basePeriod); err == nil {
			return q
		}
	}
	return fallback
}

func (s *Service) warnMiss(what, stockCode string, err error) {
	s.log.Warn("ai "+what+" unavailable, treating as cache miss",
		zap.String("stock_code", stockCode), zap.Error(err))
}
