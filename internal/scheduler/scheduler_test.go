package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	calls atomic.Int32
}

func (c *countingRefresher) RefreshAll(ctx context.Context) {
	c.calls.Add(1)
}

func TestSchedulerDisabled(t *testing.T) {
	r := &countingRefresher{}
	s := New(0, r)
	require.NoError(t, s.Start())
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestSchedulerRunsRefresh(t *testing.T) {
	r := &countingRefresher{}
	s := New(20*time.Millisecond, r)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}
