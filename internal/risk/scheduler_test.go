package risk

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(time.Second)
	var runs atomic.Int32
	done := make(chan struct{}, 1)
	require.NoError(t, s.Add("risk-recompute", "", func(ctx context.Context) error {
		runs.Add(1)
		done <- struct{}{}
		return nil
	}))

	assert.True(t, s.RunNow("risk-recompute"))
	<-done
	s.Stop()
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, s.RunNow("missing"))
}

func TestScheduler_SkipsOverlappingRun(t *testing.T) {
	s := NewScheduler(time.Second)
	started := make(chan struct{})
	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Add("slow", "", func(ctx context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return errors.New("still reported, not fatal")
	}))

	require.True(t, s.RunNow("slow"))
	<-started
	assert.False(t, s.RunNow("slow"))
	close(release)
	s.Stop()
	assert.Equal(t, int32(1), runs.Load())
}

func TestScheduler_AddValidation(t *testing.T) {
	s := NewScheduler(0)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("averages", "0 0 3 * * *", noop))
	assert.Error(t, s.Add("averages", "", noop))
	assert.Error(t, s.Add("broken", "not a schedule", noop))
	assert.Equal(t, []string{"averages"}, s.Jobs())
}

func TestScheduler_CronFires(t *testing.T) {
	s := NewScheduler(time.Second)
	fired := make(chan struct{}, 4)
	require.NoError(t, s.Add("tick", "* * * * * *", func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled job did not fire")
	}
}
