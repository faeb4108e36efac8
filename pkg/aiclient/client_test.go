package aiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finrisk/internal/resilience"
)

func fastPolicy(threshold int) *resilience.Policy {
	return resilience.NewPolicy("ai-test",
		resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		resilience.BreakerConfig{FailureThreshold: threshold, ResetTimeout: time.Hour})
}

func newTestClient(srv *httptest.Server, threshold int) Client {
	return NewClient("test-key",
		WithBaseURL(srv.URL+"/"),
		WithRateLimit(1000, 100),
		WithPolicy(fastPolicy(threshold)))
}

func TestGetPrediction_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/predictions/005930", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"basePeriod":  "2025Q2",
			"predictions": map[string]float64{"debt_ratio": 61.25, "current_ratio": 0},
		})
	}))
	defer srv.Close()

	got, err := newTestClient(srv, 5).GetPrediction(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, "2025Q2", got.BasePeriod)
	assert.Equal(t, 61.25, got.Predictions["debt_ratio"])
	assert.Contains(t, got.Predictions, "current_ratio")
}

func TestGetHealthScoreSignalsComment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/health-score/000660":
			_, _ = w.Write([]byte(`{"basePeriod":"20252","score":72.5}`))
		case "/v1/signals/000660":
			_, _ = w.Write([]byte(`{"basePeriod":"20252","signals":{"debt_ratio":"DANGER"}}`))
		case "/v1/comments/000660":
			_, _ = w.Write([]byte(`{"basePeriod":"20252","comment":"leverage rising"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv, 5)
	ctx := context.Background()

	hs, err := c.GetHealthScore(ctx, "000660")
	require.NoError(t, err)
	require.NotNil(t, hs.Score)
	assert.Equal(t, 72.5, *hs.Score)

	sig, err := c.GetSignals(ctx, "000660")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"debt_ratio": "DANGER"}, sig.Signals)

	cm, err := c.GetAiComment(ctx, "000660")
	require.NoError(t, err)
	assert.Equal(t, "leverage rising", cm.Comment)
}

func TestGet_NotFoundIsNoData(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 5).GetPrediction(context.Background(), "123456")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoData))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"basePeriod":"20251","comment":"ok"}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv, 5).GetAiComment(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Comment)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_PermanentStatusNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`bad stock code`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 5).GetSignals(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_CircuitOpens(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv, 2)
	_, err := c.GetHealthScore(context.Background(), "005930")
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))

	_, err = c.GetHealthScore(context.Background(), "005930")
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load(), "open circuit short-circuits further calls")
}

func TestGet_MalformedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 5).GetPrediction(context.Background(), "005930")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestGet_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv, 5).GetPrediction(ctx, "005930")
	require.Error(t, err)
}
