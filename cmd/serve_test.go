package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/finrisk/internal/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEngine struct{ runs atomic.Int32 }

func (f *fakeEngine) CalculateAndUpsertAllLatest(context.Context) (int, error) {
	f.runs.Add(1)
	return 3, nil
}

type fakeAverages struct {
	runs     atomic.Int32
	pageSize atomic.Int32
}

func (f *fakeAverages) RecomputeAverages(_ context.Context, pageSize int) (int, error) {
	f.runs.Add(1)
	f.pageSize.Store(int32(pageSize))
	return 0, errors.New("no quarters")
}

func TestBuildScheduler(t *testing.T) {
	engine, averages := &fakeEngine{}, &fakeAverages{}
	sched, err := buildScheduler(config.SchedulerConfig{RiskRecompute: "0 0 3 * * *"}, engine, averages)
	require.NoError(t, err)
	assert.Equal(t, []string{"averages", "risk-recompute"}, sched.Jobs())

	require.True(t, sched.RunNow("risk-recompute"))
	require.True(t, sched.RunNow("averages"))
	assert.False(t, sched.RunNow("missing"))

	require.Eventually(t, func() bool {
		return engine.runs.Load() == 1 && averages.runs.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	sched.Stop()
}

func TestBuildScheduler_BadSpec(t *testing.T) {
	_, err := buildScheduler(config.SchedulerConfig{RiskRecompute: "not a cron expression"}, &fakeEngine{}, &fakeAverages{})
	assert.Error(t, err)
}
