// Package company provides the read-only company and watchlist directories
// the metric store and dashboard depend on.
package company

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// UnclassifiedIndustry is the sector label for companies without an industry.
const UnclassifiedIndustry = "unclassified"

// Company is a listed company.
type Company struct {
	ID        int64  `json:"id"`
	StockCode string `json:"stock_code"`
	Name      string `json:"name"`
	Industry  string `json:"industry,omitempty"`
}

// NormalizeStockCode trims s and left-pads it with zeros to six characters.
// Codes longer than six characters are returned trimmed but otherwise unchanged.
func NormalizeStockCode(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) >= 6 {
		return s
	}
	return strings.Repeat("0", 6-len(s)) + s
}

// SectorLabel returns the NFC-normalized industry label used for sector
// grouping, or UnclassifiedIndustry when none is set.
func (c Company) SectorLabel() string {
	return NormalizeIndustry(c.Industry)
}

// NormalizeIndustry collapses whitespace and applies Unicode NFC so the same
// label typed through different input paths groups together.
func NormalizeIndustry(s string) string {
	s = strings.Join(strings.Fields(norm.NFC.String(s)), " ")
	if s == "" {
		return UnclassifiedIndustry
	}
	return s
}
