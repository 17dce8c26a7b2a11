package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler()
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{
		Name:     "tick",
		Schedule: "@every 1s",
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("ignored")
		},
	}))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestAddRejectsBadSchedule(t *testing.T) {
	s := NewScheduler()
	err := s.Add(Job{Name: "bad", Schedule: "not a schedule", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestExpireSubscriptionsJob(t *testing.T) {
	var called bool
	j := ExpireSubscriptions(func(ctx context.Context) (int64, error) {
		called = true
		_, ok := ctx.Deadline()
		assert.False(t, ok)
		return 3, nil
	})
	assert.Equal(t, "@every 1h", j.Schedule)
	require.NoError(t, j.Run(context.Background()))
	assert.True(t, called)

	failing := ExpireSubscriptions(func(context.Context) (int64, error) { return 0, errors.New("db down") })
	assert.Error(t, failing.Run(context.Background()))
}
