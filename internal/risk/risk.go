// Package risk aggregates risk-indicator metric values into per-version risk
// scores and levels, and keeps the per-quarter key-metric rows the dashboard
// reads.
package risk

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/finrisk/internal/quarter"
)

// ErrInvalidThresholds is returned when the banding thresholds are not ordered.
var ErrInvalidThresholds = eris.New("risk: invalid thresholds")

// Level is a risk band.
type Level string

// Risk levels. The display aliases are NORMAL, CAUTION and DANGER.
const (
	Undefined Level = "UNDEFINED"
	Safe      Level = "SAFE"
	Warn      Level = "WARN"
	Risk      Level = "RISK"
)

// ParseLevel accepts canonical names and their display aliases.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SAFE", "NORMAL":
		return Safe
	case "WARN", "CAUTION":
		return Warn
	case "RISK", "DANGER":
		return Risk
	}
	return Undefined
}

// Severity orders levels: UNDEFINED < SAFE < WARN < RISK.
func (l Level) Severity() int {
	switch l {
	case Safe:
		return 1
	case Warn:
		return 2
	case Risk:
		return 3
	}
	return 0
}

// Label is the display alias.
func (l Level) Label() string {
	switch l {
	case Safe:
		return "NORMAL"
	case Warn:
		return "CAUTION"
	case Risk:
		return "DANGER"
	}
	return string(Undefined)
}

// AtRisk reports whether the level is WARN or RISK.
func (l Level) AtRisk() bool {
	return l == Warn || l == Risk
}

// Thresholds are the two cutoffs of the banding: avg >= Risk is RISK,
// Warn <= avg < Risk is WARN, anything lower is SAFE.
type Thresholds struct {
	Warn decimal.Decimal
	Risk decimal.Decimal
}

// DefaultThresholds are 40 and 60.
func DefaultThresholds() Thresholds {
	return Thresholds{Warn: decimal.NewFromInt(40), Risk: decimal.NewFromInt(60)}
}

// Validate requires Warn < Risk.
func (t Thresholds) Validate() error {
	if !t.Warn.LessThan(t.Risk) {
		return eris.Wrapf(ErrInvalidThresholds, "risk: warn %s must be below risk %s", t.Warn, t.Risk)
	}
	return nil
}

// Band maps an average to a level. A null average is UNDEFINED.
func (t Thresholds) Band(avg decimal.NullDecimal) Level {
	switch {
	case !avg.Valid:
		return Undefined
	case avg.Decimal.GreaterThanOrEqual(t.Risk):
		return Risk
	case avg.Decimal.GreaterThanOrEqual(t.Warn):
		return Warn
	default:
		return Safe
	}
}

var hundred = decimal.NewFromInt(100)

// Average is the mean rounded half-up to two places. Null when empty.
func Average(values []decimal.Decimal) decimal.NullDecimal {
	if len(values) == 0 {
		return decimal.NullDecimal{}
	}
	sum := decimal.Sum(decimal.Zero, values...)
	return decimal.NewNullDecimal(sum.DivRound(decimal.NewFromInt(int64(len(values))), 2))
}

// HealthScore is 100 - score, null when the score is null.
func HealthScore(score decimal.NullDecimal) decimal.NullDecimal {
	if !score.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(hundred.Sub(score.Decimal))
}

// Summary is the persisted aggregation for one (company, quarter, version).
type Summary struct {
	CompanyID        int64               `json:"company_id"`
	Quarter          quarter.Key         `json:"quarter"`
	VersionID        int64               `json:"report_version_id"`
	RiskMetricsCount int                 `json:"risk_metrics_count"`
	RiskMetricsAvg   decimal.NullDecimal `json:"risk_metrics_avg"`
	RiskScore        decimal.NullDecimal `json:"risk_score"`
	RiskLevel        Level               `json:"risk_level"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// KeyMetric is the per-(company, quarter) row the dashboard consumes. It only
// moves forward: a computation for an older version never replaces it.
type KeyMetric struct {
	CompanyID           int64               `json:"company_id"`
	Quarter             quarter.Key         `json:"quarter"`
	VersionNo           int                 `json:"version_no"`
	RiskLevel           Level               `json:"risk_level"`
	InternalHealthScore decimal.NullDecimal `json:"internal_health_score"`
	ExternalHealthScore decimal.NullDecimal `json:"external_health_score"`
	AIComment           *string             `json:"ai_comment,omitempty"`
	UpdatedAt           time.Time           `json:"updated_at"`
}
