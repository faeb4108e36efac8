package report

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sells-group/finrisk/internal/quarter"
)

// Store persists reports, versions and metric values.
type Store interface {
	// GetOrCreateReport is idempotent and converges concurrent creators on one row.
	GetOrCreateReport(ctx context.Context, companyID int64, q quarter.Key) (*CompanyReport, error)
	// FindReport returns nil, nil when the report does not exist.
	FindReport(ctx context.Context, companyID int64, q quarter.Key) (*CompanyReport, error)

	// IssueNextVersion locks the report row and appends version max+1.
	IssueNextVersion(ctx context.Context, reportID int64, published bool, documentID *int64) (*ReportVersion, error)
	// ResolveLatestVersionWithData returns nil, nil when no version carries
	// a non-null value of vt.
	ResolveLatestVersionWithData(ctx context.Context, reportID int64, vt ValueType) (*ReportVersion, error)
	// ResolveOrReuseUnpublishedVersion reuses the latest draft unless it already
	// carries non-null values of vt, in which case a new draft is issued.
	ResolveOrReuseUnpublishedVersion(ctx context.Context, reportID int64, vt ValueType) (*ReportVersion, error)
	// PublishToDraft resolves the draft like ResolveOrReuseUnpublishedVersion
	// and writes values into it under the same lock. VersionID on the values is
	// ignored and set to the resolved draft.
	PublishToDraft(ctx context.Context, reportID int64, vt ValueType, values []MetricValue) (*ReportVersion, int64, error)
	GetVersion(ctx context.Context, versionID int64) (*ReportVersion, error)
	// LatestVersion returns the globally latest version of a report, or nil.
	LatestVersion(ctx context.Context, reportID int64) (*ReportVersion, error)
	// PublishVersion moves a draft to published. Publishing twice is a no-op
	// that keeps the original document.
	PublishVersion(ctx context.Context, versionID int64, documentID *int64) (*ReportVersion, error)

	InsertValues(ctx context.Context, values []MetricValue) (int64, error)
	// UpdateSignals annotates existing values of a version keyed by metric code.
	UpdateSignals(ctx context.Context, versionID int64, vt ValueType, signals map[string]string) (int64, error)
	// CandidateRows returns every stored row of vt for reports of the company
	// in [from, to], across all versions. Callers resolve with ResolveLatest.
	CandidateRows(ctx context.Context, companyID int64, from, to quarter.Key, vt ValueType) ([]MetricRow, error)
	// RiskIndicatorValues returns the non-null ACTUAL risk-indicator values of
	// exactly one version and value quarter.
	RiskIndicatorValues(ctx context.Context, versionID int64, q quarter.Key) ([]decimal.Decimal, error)

	InsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id int64) (*Document, error)

	// ListLatestVersions pages reports by id, each with its latest version.
	ListLatestVersions(ctx context.Context, afterReportID int64, limit int) ([]LatestVersion, error)
	// LatestActualQuarters maps each company to its highest value quarter
	// with non-null ACTUAL data. Companies without any are absent.
	LatestActualQuarters(ctx context.Context, companyIDs []int64) (map[int64]quarter.Key, error)

	// ListQuarters pages the distinct value quarters after the given key.
	ListQuarters(ctx context.Context, after quarter.Key, limit int) ([]quarter.Key, error)
	// RecomputeQuarterAverages rewrites the per-metric averages of one quarter.
	RecomputeQuarterAverages(ctx context.Context, q quarter.Key) (int64, error)
}
