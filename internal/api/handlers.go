package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/report"
)

func valueType(r *http.Request) (report.ValueType, error) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		return report.Actual, nil
	}
	return report.ParseValueType(raw)
}

func int64Param(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, eris.Wrapf(errBadRequest, "api: %s %q", key, raw)
	}
	return n, nil
}

// intQuery reads an optional non-negative query parameter; absent means 0.
func intQuery(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, eris.Wrapf(errBadRequest, "api: %s %q", key, raw)
	}
	return n, nil
}

func (s *Server) metricSeries(w http.ResponseWriter, r *http.Request) {
	vt, err := valueType(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" || to == "" {
		s.writeError(w, r, eris.Wrap(errBadRequest, "api: from and to are required"))
		return
	}

	rows, err := s.reports.MetricSeries(r.Context(), chi.URLParam(r, "stockCode"), from, to, vt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []report.MetricRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) reportCard(w http.ResponseWriter, r *http.Request) {
	vt, err := valueType(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	card, err := s.reports.ReportCard(r.Context(), chi.URLParam(r, "stockCode"), chi.URLParam(r, "quarter"), vt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) riskSummary(w http.ResponseWriter, r *http.Request) {
	companyID, err := int64Param(r, "companyID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	versionID, err := int64Param(r, "versionID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := quarter.ParseText(chi.URLParam(r, "quarter"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sum, err := s.summaries.GetSummary(r.Context(), companyID, q, versionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sum == nil {
		s.writeError(w, r, eris.Wrapf(errNotFound, "api: no risk summary for company %d %s version %d", companyID, q, versionID))
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := int64Param(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.dashboards.Summary(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) riskRecords(w http.ResponseWriter, r *http.Request) {
	userID, err := int64Param(r, "userID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := intQuery(r, "offset")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	page, err := s.dashboards.RiskRecords(r.Context(), userID, limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
