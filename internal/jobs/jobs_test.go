package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cityfam/cityfam/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsJobs(t *testing.T) {
	s := New(logging.Discard())
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("failing", "@every 1s", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, s.Add("disabled", "", func(ctx context.Context) error {
		t.Error("disabled job ran")
		return nil
	}))

	s.Start()
	assert.False(t, s.Next("tick").IsZero())
	assert.True(t, s.Next("disabled").IsZero())
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := New(logging.Discard())
	assert.Error(t, s.Add("bad", "every now and then", func(context.Context) error { return nil }))
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := New(logging.Discard())
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	require.NoError(t, s.Add("long", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not start")
	}
	s.Stop()
	assert.True(t, cancelled.Load())
}
