package dashboard

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/company"
	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/risk"
)

// ActualSource reports the latest quarter with ACTUAL data per company.
type ActualSource interface {
	LatestActualQuarters(ctx context.Context, companyIDs []int64) (map[int64]quarter.Key, error)
}

// KeyMetricSource lists key-metric rows.
type KeyMetricSource interface {
	ListKeyMetrics(ctx context.Context, companyIDs []int64, from, to quarter.Key) ([]risk.KeyMetric, error)
}

// Config tunes the dashboard.
type Config struct {
	// DwellLookback bounds how many quarters dwell time walks back.
	DwellLookback int `mapstructure:"dwell_lookback"`
	// DefaultRecordsLimit applies when the caller passes no limit; larger
	// requests are capped at MaxRecordsLimit.
	DefaultRecordsLimit int `mapstructure:"default_records_limit"`
	MaxRecordsLimit     int `mapstructure:"max_records_limit"`
}

func (c Config) withDefaults() Config {
	if c.DwellLookback <= 0 {
		c.DwellLookback = 40
	}
	if c.DefaultRecordsLimit <= 0 {
		c.DefaultRecordsLimit = 20
	}
	if c.MaxRecordsLimit <= 0 {
		c.MaxRecordsLimit = 500
	}
	return c
}

// Service computes dashboards for a user's watchlist.
type Service struct {
	watchlists company.WatchlistDirectory
	companies  company.Directory
	actuals    ActualSource
	keyMetrics KeyMetricSource
	cfg        Config
	log        *zap.Logger
}

// NewService creates a Service.
func NewService(watchlists company.WatchlistDirectory, companies company.Directory, actuals ActualSource, keyMetrics KeyMetricSource, cfg Config) *Service {
	return &Service{
		watchlists: watchlists,
		companies:  companies,
		actuals:    actuals,
		keyMetrics: keyMetrics,
		cfg:        cfg.withDefaults(),
		log:        zap.L().With(zap.String("component", "dashboard")),
	}
}

func (s *Service) watchlist(ctx context.Context, userID int64) ([]int64, error) {
	ids, err := s.watchlists.ListActiveWatchlistCompanies(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: list watchlist")
	}
	if len(ids) == 0 {
		return nil, eris.Wrapf(ErrEmptyWatchlist, "dashboard: user %d", userID)
	}
	return ids, nil
}

// LatestActualQuarter is the most advanced latest-ACTUAL quarter across the
// companies. ErrNoActualDataAvailable when none has ACTUAL data.
func (s *Service) LatestActualQuarter(ctx context.Context, ids []int64) (quarter.Key, error) {
	latest, err := s.actuals.LatestActualQuarters(ctx, ids)
	if err != nil {
		return 0, err
	}
	var anchor quarter.Key
	for id, q := range latest {
		if !q.Valid() {
			s.log.Warn("ignoring invalid latest actual quarter",
				zap.Int64("company_id", id), zap.Int("quarter", int(q)))
			continue
		}
		if q > anchor {
			anchor = q
		}
	}
	if anchor == 0 {
		return 0, eris.Wrapf(ErrNoActualDataAvailable, "dashboard: %d companies", len(ids))
	}
	return anchor, nil
}

// Summary builds the dashboard anchored on the latest actual quarter.
func (s *Service) Summary(ctx context.Context, userID int64) (*Summary, error) {
	ids, err := s.watchlist(ctx, userID)
	if err != nil {
		return nil, err
	}
	anchor, err := s.LatestActualQuarter(ctx, ids)
	if err != nil {
		return nil, err
	}

	rows, err := s.keyMetrics.ListKeyMetrics(ctx, ids, anchor.Offset(-s.cfg.DwellLookback), anchor.Offset(1))
	if err != nil {
		return nil, err
	}
	companies, err := s.companies.FindByIDs(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: load companies")
	}

	h := buildHistory(rows)
	tr := trend(h, ids, anchor)

	var current Distribution
	for _, d := range tr {
		if d.Quarter == anchor {
			current = d
		}
	}

	sum := &Summary{
		UserID:              userID,
		LatestActualQuarter: anchor,
		Cards: Cards{
			Companies:        len(ids),
			AtRisk:           current.Warn + current.Risk,
			AverageRiskLevel: averageRiskLevel(rows, anchor),
			RiskIndex:        current.RiskIndex,
		},
		Trend:       tr,
		MajorSector: majorSector(h, companies, anchor),
		DwellTime:   dwellTime(h, ids, anchor, s.cfg.DwellLookback),
	}

	s.log.Debug("dashboard computed",
		zap.Int64("user_id", userID),
		zap.Int("anchor", int(anchor)),
		zap.Int("companies", len(ids)),
		zap.Int("key_metric_rows", len(rows)))
	return sum, nil
}

// RiskRecords pages through (company, quarter, level) rows at or before the
// latest actual quarter, newest quarter first then company id. Every stored
// quarter is eligible. A non-positive limit takes the default; larger limits
// are capped.
func (s *Service) RiskRecords(ctx context.Context, userID int64, limit, offset int) (*RecordsPage, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultRecordsLimit
	}
	if limit > s.cfg.MaxRecordsLimit {
		limit = s.cfg.MaxRecordsLimit
	}
	if offset < 0 {
		offset = 0
	}

	ids, err := s.watchlist(ctx, userID)
	if err != nil {
		return nil, err
	}
	anchor, err := s.LatestActualQuarter(ctx, ids)
	if err != nil {
		return nil, err
	}
	rows, err := s.keyMetrics.ListKeyMetrics(ctx, ids, 0, anchor)
	if err != nil {
		return nil, err
	}
	companies, err := s.companies.FindByIDs(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "dashboard: load companies")
	}
	byID := make(map[int64]company.Company, len(companies))
	for _, c := range companies {
		byID[c.ID] = c
	}

	var all []RiskRecord
	for _, r := range rows {
		if r.RiskLevel == risk.Undefined || r.Quarter > anchor {
			continue
		}
		c := byID[r.CompanyID]
		all = append(all, RiskRecord{
			CompanyID: r.CompanyID,
			StockCode: c.StockCode,
			Name:      c.Name,
			Quarter:   r.Quarter,
			RiskLevel: r.RiskLevel,
		})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Quarter != all[j].Quarter {
			return all[i].Quarter > all[j].Quarter
		}
		return all[i].CompanyID < all[j].CompanyID
	})

	page := &RecordsPage{Records: []RiskRecord{}, Total: len(all), Offset: offset, Limit: limit}
	if offset < len(all) {
		end := min(offset+limit, len(all))
		page.Records = all[offset:end]
		if end < len(all) {
			page.NextOffset = &end
		}
	}
	page.Count = len(page.Records)
	return page, nil
}
