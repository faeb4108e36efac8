// Package metric holds the metric definition registry. Definitions are
// reference data: loaded once, looked up by exact code, never derived.
package metric

import "context"

// Metric is a single metric definition.
type Metric struct {
	ID              int64  `json:"id" yaml:"-"`
	Code            string `json:"code" yaml:"code"`
	DisplayName     string `json:"display_name" yaml:"display_name"`
	Unit            string `json:"unit" yaml:"unit"`
	IsRiskIndicator bool   `json:"is_risk_indicator" yaml:"risk_indicator"`
}

// Catalog looks up metric definitions by code.
type Catalog interface {
	// FindByCode returns nil, nil when the code is unknown.
	FindByCode(ctx context.Context, code string) (*Metric, error)
	// FindAllByCodes returns the known subset of codes; unknown codes are omitted.
	FindAllByCodes(ctx context.Context, codes []string) ([]Metric, error)
}
