package report

import (
	"sort"

	"github.com/sells-group/finrisk/internal/quarter"
)

type resolutionKey struct {
	reportQuarter quarter.Key
	risk          bool
}

// ResolveLatest applies latest-with-data resolution to candidate rows of a
// single value type. For every (report quarter, classification) it picks the
// highest version number carrying at least one non-null value and keeps only
// that version's rows; newer versions without usable values never shadow it.
// Risk and non-risk metrics resolve independently and their rows are unioned.
func ResolveLatest(candidates []MetricRow) []MetricRow {
	winners := make(map[resolutionKey]int)
	for _, r := range candidates {
		if !r.Value.Valid {
			continue
		}
		k := resolutionKey{r.ReportQuarter, r.IsRiskIndicator}
		if r.VersionNo > winners[k] {
			winners[k] = r.VersionNo
		}
	}

	var out []MetricRow
	for _, r := range candidates {
		v, ok := winners[resolutionKey{r.ReportQuarter, r.IsRiskIndicator}]
		if ok && r.VersionNo == v {
			out = append(out, r)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ReportQuarter != b.ReportQuarter {
			return a.ReportQuarter < b.ReportQuarter
		}
		if a.IsRiskIndicator != b.IsRiskIndicator {
			return !a.IsRiskIndicator
		}
		if a.MetricCode != b.MetricCode {
			return a.MetricCode < b.MetricCode
		}
		return a.Quarter < b.Quarter
	})
	return out
}

// resolvedVersionID returns the version that won resolution for the report
// quarter, preferring the non-risk classification. Zero when nothing resolved.
func resolvedVersionID(rows []MetricRow, reportQuarter quarter.Key) int64 {
	var id int64
	for _, r := range rows {
		if r.ReportQuarter != reportQuarter {
			continue
		}
		if !r.IsRiskIndicator {
			return r.VersionID
		}
		if id == 0 {
			id = r.VersionID
		}
	}
	return id
}
