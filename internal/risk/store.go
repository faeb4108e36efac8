package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sells-group/finrisk/internal/quarter"
)

// Store persists risk summaries and key-metric rows.
type Store interface {
	// UpsertSummary writes the summary keyed by (company, quarter, version)
	// and fills in UpdatedAt.
	UpsertSummary(ctx context.Context, s *Summary) error
	// GetSummary returns nil, nil when no summary exists.
	GetSummary(ctx context.Context, companyID int64, q quarter.Key, versionID int64) (*Summary, error)

	// UpsertKeyMetric writes the risk level and internal health score unless
	// the stored row already reflects a newer version, or the incoming level is
	// UNDEFINED and the stored one is not. Reports whether it applied.
	UpsertKeyMetric(ctx context.Context, km *KeyMetric) (bool, error)
	SetExternalHealthScore(ctx context.Context, companyID int64, q quarter.Key, score decimal.NullDecimal) error
	SetAIComment(ctx context.Context, companyID int64, q quarter.Key, comment string) error
	// ListKeyMetrics returns rows for the companies within [from, to].
	ListKeyMetrics(ctx context.Context, companyIDs []int64, from, to quarter.Key) ([]KeyMetric, error)
}
