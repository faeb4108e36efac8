// Package report implements the versioned metric store: company reports, their
// append-only versions and the metric values written under them, plus the
// "latest version with data" resolution every read path depends on.
package report

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/finrisk/internal/quarter"
)

// Sentinel errors.
var (
	ErrCompanyNotFound  = eris.New("report: company not found")
	ErrQuarterNotFound  = eris.New("report: quarter not found")
	ErrReportNotFound   = eris.New("report: report not found")
	ErrVersionNotFound  = eris.New("report: version not found")
	ErrVersionConflict  = eris.New("report: version number conflict")
	ErrInvalidValueType = eris.New("report: invalid value type")
)

// ValueType tags a metric value as observed or forecast.
type ValueType string

// Value types.
const (
	Actual    ValueType = "ACTUAL"
	Predicted ValueType = "PREDICTED"
)

// ParseValueType accepts either value type case-insensitively.
func ParseValueType(s string) (ValueType, error) {
	switch ValueType(strings.ToUpper(strings.TrimSpace(s))) {
	case Actual:
		return Actual, nil
	case Predicted:
		return Predicted, nil
	}
	return "", eris.Wrapf(ErrInvalidValueType, "report: parse value type %q", s)
}

// CompanyReport is the unit of one company's filings for one quarter.
type CompanyReport struct {
	ID        int64       `json:"id"`
	CompanyID int64       `json:"company_id"`
	Quarter   quarter.Key `json:"quarter"`
	CreatedAt time.Time   `json:"created_at"`
}

// ReportVersion is an append-only snapshot under a report. VersionNo is
// strictly increasing per report and never reused.
type ReportVersion struct {
	ID          int64     `json:"id"`
	ReportID    int64     `json:"report_id"`
	VersionNo   int       `json:"version_no"`
	GeneratedAt time.Time `json:"generated_at"`
	Published   bool      `json:"published"`
	DocumentID  *int64    `json:"document_id,omitempty"`
}

// MetricValue is one stored value. Quarter is the value's own reporting
// quarter, which for predictions differs from the report's quarter.
type MetricValue struct {
	VersionID int64
	MetricID  int64
	Quarter   quarter.Key
	Value     decimal.NullDecimal
	ValueType ValueType
}

// MetricRow is a resolved read row joining value, version and definition.
type MetricRow struct {
	ReportQuarter   quarter.Key         `json:"report_quarter"`
	Quarter         quarter.Key         `json:"quarter"`
	VersionID       int64               `json:"version_id"`
	VersionNo       int                 `json:"version_no"`
	MetricCode      string              `json:"metric_code"`
	DisplayName     string              `json:"display_name"`
	Unit            string              `json:"unit"`
	IsRiskIndicator bool                `json:"is_risk_indicator"`
	Value           decimal.NullDecimal `json:"value"`
	ValueType       ValueType           `json:"value_type"`
	Signal          *string             `json:"signal,omitempty"`
}

// Document is a stored blob attached to a version.
type Document struct {
	ID          int64     `json:"id"`
	ObjectKey   string    `json:"key"`
	URL         string    `json:"url"`
	SizeBytes   int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// LatestVersion is one row of the batch keyset page: a report and its
// globally latest version, regardless of content.
type LatestVersion struct {
	ReportID  int64
	CompanyID int64
	Quarter   quarter.Key
	VersionID int64
	VersionNo int
}

// PublishResult summarizes a publish call. Bulk publishes never fail per
// entry; bad entries are counted instead.
type PublishResult struct {
	SavedValues      int   `json:"saved_values"`
	SkippedMetrics   int   `json:"skipped_metrics"`
	SkippedCompanies int   `json:"skipped_companies"`
	VersionID        int64 `json:"version_id,omitempty"`
}

// Add accumulates another result into r.
func (r *PublishResult) Add(o PublishResult) {
	r.SavedValues += o.SavedValues
	r.SkippedMetrics += o.SkippedMetrics
	r.SkippedCompanies += o.SkippedCompanies
}

// ReportCard is a single-quarter snapshot with its optional document.
type ReportCard struct {
	StockCode string      `json:"stock_code"`
	Quarter   quarter.Key `json:"quarter"`
	ValueType ValueType   `json:"value_type"`
	Rows      []MetricRow `json:"rows"`
	Document  *Document   `json:"document,omitempty"`
}
