// Package api exposes the read-only HTTP surface: metric series, report
// cards, risk summaries and watchlist dashboards.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/dashboard"
	"github.com/sells-group/finrisk/internal/quarter"
	"github.com/sells-group/finrisk/internal/report"
	"github.com/sells-group/finrisk/internal/risk"
)

// Reports serves metric reads.
type Reports interface {
	MetricSeries(ctx context.Context, stockCode, fromText, toText string, vt report.ValueType) ([]report.MetricRow, error)
	ReportCard(ctx context.Context, stockCode, quarterText string, vt report.ValueType) (*report.ReportCard, error)
}

// Summaries serves stored risk summaries.
type Summaries interface {
	GetSummary(ctx context.Context, companyID int64, q quarter.Key, versionID int64) (*risk.Summary, error)
}

// Dashboards serves watchlist analytics.
type Dashboards interface {
	Summary(ctx context.Context, userID int64) (*dashboard.Summary, error)
	RiskRecords(ctx context.Context, userID int64, limit, offset int) (*dashboard.RecordsPage, error)
}

// errBadRequest and errNotFound classify handler-level failures.
var (
	errBadRequest = eris.New("api: bad request")
	errNotFound   = eris.New("api: not found")
)

// Config holds HTTP settings.
type Config struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Server holds handler dependencies.
type Server struct {
	reports    Reports
	summaries  Summaries
	dashboards Dashboards
	cfg        Config
	log        *zap.Logger
}

// NewServer creates a Server.
func NewServer(reports Reports, summaries Summaries, dashboards Dashboards, cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{
		reports:    reports,
		summaries:  summaries,
		dashboards: dashboards,
		cfg:        cfg,
		log:        zap.L().With(zap.String("component", "api")),
	}
}

// Router builds the route tree. extra mounts additional handlers (such as
// metrics) at the given paths.
func (s *Server) Router(extra map[string]http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/companies/{stockCode}/metrics", s.metricSeries)
		r.Get("/companies/{stockCode}/reports/{quarter}", s.reportCard)
		r.Get("/risk/{companyID}/{quarter}/{versionID}", s.riskSummary)
		r.Get("/users/{userID}/dashboard", s.dashboard)
		r.Get("/users/{userID}/dashboard/risk-records", s.riskRecords)
	})

	for path, h := range extra {
		r.Handle(path, h)
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Unclassified errors are
// logged and hidden behind a generic 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, quarter.ErrInvalidQuarterKey),
		errors.Is(err, report.ErrInvalidValueType),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, report.ErrCompanyNotFound),
		errors.Is(err, report.ErrQuarterNotFound),
		errors.Is(err, dashboard.ErrNoActualDataAvailable),
		errors.Is(err, dashboard.ErrEmptyWatchlist),
		errors.Is(err, errNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
