package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finrisk/internal/config"
	"github.com/sells-group/finrisk/internal/risk"
)

func TestNewEngine(t *testing.T) {
	e, err := newEngine(config.RiskConfig{WarnThreshold: 35, RiskThreshold: 65, Concurrency: 2, PageSize: 10}, nil, nil)
	require.NoError(t, err)
	th := e.Thresholds()
	assert.Equal(t, "35", th.Warn.String())
	assert.Equal(t, "65", th.Risk.String())
}

func TestNewEngine_InvalidThresholds(t *testing.T) {
	_, err := newEngine(config.RiskConfig{WarnThreshold: 70, RiskThreshold: 60}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, risk.ErrInvalidThresholds)
}

func TestNewAIClient(t *testing.T) {
	c := newAIClient(config.AIConfig{BaseURL: "http://ai.local", RateLimit: 2, TimeoutSecs: 5, MaxAttempts: 2})
	assert.NotNil(t, c)
}
