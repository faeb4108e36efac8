package dashboard

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sells-group/finrisk/internal/company"
	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/risk"
)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.RequireFromString("0.5")
)

// history indexes defined risk levels by company and quarter. UNDEFINED rows
// count as missing.
type history map[int64]map[quarter.Key]risk.Level

func buildHistory(rows []risk.KeyMetric) history {
	h := make(history)
	for _, r := range rows {
		if r.RiskLevel == risk.Undefined {
			continue
		}
		byQ, ok := h[r.CompanyID]
		if !ok {
			byQ = make(map[quarter.Key]risk.Level)
			h[r.CompanyID] = byQ
		}
		byQ[r.Quarter] = r.RiskLevel
	}
	return h
}

func (h history) level(companyID int64, q quarter.Key) (risk.Level, bool) {
	l, ok := h[companyID][q]
	return l, ok
}

func (h history) hasAny(ids []int64, q quarter.Key) bool {
	for _, id := range ids {
		if _, ok := h.level(id, q); ok {
			return true
		}
	}
	return false
}

func round1(d decimal.Decimal) float64 {
	f, _ := d.Round(1).Float64()
	return f
}

// percent is n/total as a percentage rounded to one place; zero when total is zero.
func percent(n, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(n)).Mul(hundred).Div(decimal.NewFromInt(int64(total))).Round(1)
}

// riskIndex blends partial and full risk: warn% * 0.5 + risk%.
func riskIndex(warnPct, riskPct decimal.Decimal) decimal.Decimal {
	return warnPct.Mul(half).Add(riskPct).Round(1)
}

// window returns the fixed five-quarter window around the anchor: three
// quarters back, the anchor, and one forecast quarter.
func window(anchor quarter.Key) []quarter.Key {
	return quarter.Range(anchor.Offset(-3), anchor.Offset(1))
}

func distribution(h history, ids []int64, q quarter.Key, kind Kind) Distribution {
	d := Distribution{Quarter: q, Label: q.String(), Kind: kind}
	for _, id := range ids {
		l, ok := h.level(id, q)
		if !ok {
			continue
		}
		switch l {
		case risk.Safe:
			d.Safe++
		case risk.Warn:
			d.Warn++
		case risk.Risk:
			d.Risk++
		}
	}
	d.Total = d.Safe + d.Warn + d.Risk

	safePct, warnPct, riskPct := percent(d.Safe, d.Total), percent(d.Warn, d.Total), percent(d.Risk, d.Total)
	d.SafePct = round1(safePct)
	d.WarnPct = round1(warnPct)
	d.RiskPct = round1(riskPct)
	d.RiskIndex = round1(riskIndex(warnPct, riskPct))
	return d
}

// trend builds the distribution for every quarter of the window, tagging
// quarters after the anchor as forecast.
func trend(h history, ids []int64, anchor quarter.Key) []Distribution {
	var out []Distribution
	for _, q := range window(anchor) {
		kind := KindActual
		if q > anchor {
			kind = KindForecast
		}
		out = append(out, distribution(h, ids, q, kind))
	}
	return out
}

// dwell counts consecutive WARN/RISK quarters walking back from base. It
// stops at the first SAFE or missing quarter and never walks below floor.
func dwell(h history, companyID int64, base, floor quarter.Key) int {
	n := 0
	for q := base; q >= floor; q = q.Offset(-1) {
		l, ok := h.level(companyID, q)
		if !ok || !l.AtRisk() {
			break
		}
		n++
	}
	return n
}

// meanDwell averages dwell over companies at risk at base. ok is false when
// no company is at risk there.
func meanDwell(h history, ids []int64, base, floor quarter.Key) (avg decimal.Decimal, companies int, ok bool) {
	total := 0
	for _, id := range ids {
		l, found := h.level(id, base)
		if !found || !l.AtRisk() {
			continue
		}
		total += dwell(h, id, base, floor)
		companies++
	}
	if companies == 0 {
		return decimal.Zero, 0, false
	}
	return decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(int64(companies))), companies, true
}

func dwellTime(h history, ids []int64, base quarter.Key, lookback int) DwellTime {
	floor := base.Offset(-lookback)
	dt := DwellTime{Quarter: base}

	cur, n, ok := meanDwell(h, ids, base, floor)
	dt.Companies = n
	if ok {
		v := round1(cur)
		dt.Average = &v
	}

	prevQ := base.Offset(-1)
	if h.hasAny(ids, prevQ) {
		prev, _, _ := meanDwell(h, ids, prevQ, floor)
		delta := round1(cur.Round(1).Sub(prev.Round(1)))
		dt.Delta = &delta
	}
	return dt
}

// majorSector picks the sector with the highest warn + 2*risk score among
// sectors with any at-risk company, breaking ties by at-risk count, then
// sector size, then sector name.
func majorSector(h history, companies []company.Company, q quarter.Key) *SectorRisk {
	bySector := make(map[string]*SectorRisk)
	for _, c := range companies {
		label := c.SectorLabel()
		s, ok := bySector[label]
		if !ok {
			s = &SectorRisk{Sector: label}
			bySector[label] = s
		}
		s.Total++
		switch l, _ := h.level(c.ID, q); l {
		case risk.Warn:
			s.Warn++
		case risk.Risk:
			s.Risk++
		}
	}

	var candidates []*SectorRisk
	for _, s := range bySector {
		if s.Warn+s.Risk > 0 {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if sa, sb := a.Warn+2*a.Risk, b.Warn+2*b.Risk; sa != sb {
			return sa > sb
		}
		if ca, cb := a.Warn+a.Risk, b.Warn+b.Risk; ca != cb {
			return ca > cb
		}
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Sector < b.Sector
	})

	top := *candidates[0]
	total := decimal.NewFromInt(int64(top.Total))
	top.RiskRatio = round1(decimal.NewFromInt(int64(top.Warn + top.Risk)).Mul(hundred).Div(total))
	weighted := decimal.NewFromInt(int64(top.Warn)).Mul(half).Add(decimal.NewFromInt(int64(top.Risk)))
	top.RiskIndex = round1(weighted.Div(total).Mul(hundred))
	return &top
}

// averageRiskLevel is 100 - mean internal health score at q over rows with a
// score. Nil when no row has one.
func averageRiskLevel(rows []risk.KeyMetric, q quarter.Key) *float64 {
	var (
		sum decimal.Decimal
		n   int64
	)
	for _, r := range rows {
		if r.Quarter != q || !r.InternalHealthScore.Valid {
			continue
		}
		sum = sum.Add(r.InternalHealthScore.Decimal)
		n++
	}
	if n == 0 {
		return nil
	}
	v := round1(hundred.Sub(sum.Div(decimal.NewFromInt(n))))
	return &v
}
