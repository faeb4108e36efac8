// Package dashboard derives read-only watchlist analytics from key-metric
// risk rows: KPI cards, a five-quarter risk distribution trend, sector risk
// concentration and risk dwell time.
package dashboard

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/risk"
)

// Sentinel errors.
var (
	ErrEmptyWatchlist        = eris.New("dashboard: watchlist is empty")
	ErrNoActualDataAvailable = eris.New("dashboard: no actual data available")
)

// Kind tags a trend point as observed or forecast.
type Kind string

// Trend point kinds.
const (
	KindActual   Kind = "ACTUAL"
	KindForecast Kind = "FORECAST"
)

// Distribution counts companies per level for one quarter. Companies without
// a defined level are in none of the buckets.
type Distribution struct {
	Quarter   quarter.Key `json:"quarter"`
	Label     string      `json:"label"`
	Kind      Kind        `json:"kind"`
	Safe      int         `json:"safe"`
	Warn      int         `json:"warn"`
	Risk      int         `json:"risk"`
	Total     int         `json:"total"`
	SafePct   float64     `json:"safe_pct"`
	WarnPct   float64     `json:"warn_pct"`
	RiskPct   float64     `json:"risk_pct"`
	RiskIndex float64     `json:"risk_index"`
}

// SectorRisk is the risk concentration of one industry sector.
type SectorRisk struct {
	Sector    string  `json:"sector"`
	Total     int     `json:"total"`
	Warn      int     `json:"warn"`
	Risk      int     `json:"risk"`
	RiskRatio float64 `json:"risk_ratio"`
	RiskIndex float64 `json:"risk_index"`
}

// DwellTime is the mean number of consecutive at-risk quarters ending at
// Quarter, over companies currently at risk. Average is nil when none are.
// Delta is present only when the previous quarter has any level data.
type DwellTime struct {
	Quarter   quarter.Key `json:"quarter"`
	Average   *float64    `json:"average"`
	Companies int         `json:"companies"`
	Delta     *float64    `json:"delta,omitempty"`
}

// Cards are the headline KPIs at the latest actual quarter.
type Cards struct {
	Companies        int      `json:"companies"`
	AtRisk           int      `json:"at_risk"`
	AverageRiskLevel *float64 `json:"average_risk_level"`
	RiskIndex        float64  `json:"risk_index"`
}

// Summary is the full dashboard for a user.
type Summary struct {
	UserID              int64          `json:"user_id"`
	LatestActualQuarter quarter.Key    `json:"latest_actual_quarter"`
	Cards               Cards          `json:"cards"`
	Trend               []Distribution `json:"trend"`
	MajorSector         *SectorRisk    `json:"major_sector,omitempty"`
	DwellTime           DwellTime      `json:"dwell_time"`
}

// RiskRecord is one (company, quarter, level) row of the records list.
type RiskRecord struct {
	CompanyID int64       `json:"company_id"`
	StockCode string      `json:"stock_code"`
	Name      string      `json:"name"`
	Quarter   quarter.Key `json:"quarter"`
	RiskLevel risk.Level  `json:"risk_level"`
}

// RecordsPage is one page of the risk-records list. NextOffset is nil on the
// last page.
type RecordsPage struct {
	Records    []RiskRecord `json:"records"`
	Count      int          `json:"count"`
	Total      int          `json:"total"`
	Offset     int          `json:"offset"`
	Limit      int          `json:"limit"`
	NextOffset *int         `json:"next_offset,omitempty"`
}
