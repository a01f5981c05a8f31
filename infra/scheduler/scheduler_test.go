package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hems/infra/logger"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	require.NoError(t, c.Validate())
	assert.Equal(t, "0 0 8 * * *", c.SOCMorningCron)
	assert.Equal(t, "0 1 22 * * *", c.SOCEveningCron)

	c.ForecastCron = "every hour"
	assert.Error(t, c.Validate())
}

func TestIntervalTaskRuns(t *testing.T) {
	s, err := New(logger.NopLogger{}, time.Second)
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.AddInterval("tick", 20*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.RunNow(ctx, "tick"))
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}

func TestAddRejectsBadSchedules(t *testing.T) {
	s, err := New(logger.NopLogger{}, 0)
	require.NoError(t, err)
	assert.Error(t, s.AddCron("bad", "not a cron", func(context.Context) error { return nil }))
	assert.Error(t, s.AddInterval("zero", 0, func(context.Context) error { return nil }))
	require.NoError(t, s.AddCron("morning", "0 0 8 * * *", func(context.Context) error { return nil }))
	assert.Error(t, s.AddInterval("morning", time.Minute, func(context.Context) error { return nil }), "duplicate name")
}

func TestTasksAndRunNow(t *testing.T) {
	s, err := New(logger.NopLogger{}, time.Second)
	require.NoError(t, err)

	var runs atomic.Int32
	require.NoError(t, s.AddCron("evening", "0 1 22 * * *", func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.NoError(t, s.AddInterval("ping", 30*time.Second, func(context.Context) error {
		return errors.New("broker down")
	}))

	assert.Equal(t, []TaskInfo{
		{Name: "evening", Type: TypeCron, Schedule: "0 1 22 * * *"},
		{Name: "ping", Type: TypeInterval, Schedule: "30s"},
	}, s.Tasks())

	// tasks can be triggered before the scheduler starts
	require.NoError(t, s.RunNow(context.Background(), "evening"))
	assert.Equal(t, int32(1), runs.Load())
	assert.EqualError(t, s.RunNow(context.Background(), "ping"), "broker down")
	assert.ErrorIs(t, s.RunNow(context.Background(), "nope"), ErrUnknownTask)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.AddInterval("late", time.Hour, func(context.Context) error { return nil }))
	assert.Len(t, s.Tasks(), 3)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
}

func TestTaskJobOutcomes(t *testing.T) {
	ok := &taskJob{name: "ok_task", fn: func(context.Context) error { return nil }, log: logger.NopLogger{}}
	require.NoError(t, ok.Execute(context.Background()))
	assert.Equal(t, 1.0, testutil.ToFloat64(taskRuns.WithLabelValues("ok_task", "ok")))
	assert.Equal(t, "ok_task", ok.Description())

	failing := &taskJob{name: "failing_task", fn: func(context.Context) error { return errors.New("boom") }, log: logger.NopLogger{}}
	assert.EqualError(t, failing.Execute(context.Background()), "boom")
	assert.Equal(t, 1.0, testutil.ToFloat64(taskRuns.WithLabelValues("failing_task", "error")))

	panicking := &taskJob{name: "panicking_task", fn: func(context.Context) error { panic("bad") }, log: logger.NopLogger{}}
	err := panicking.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recovered panic")
	assert.Equal(t, 1.0, testutil.ToFloat64(taskRuns.WithLabelValues("panicking_task", "error")))
}

func TestTaskJobTimeout(t *testing.T) {
	j := &taskJob{name: "slow_task", timeout: 10 * time.Millisecond, log: logger.NopLogger{},
		fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
	assert.ErrorIs(t, j.Execute(context.Background()), context.DeadlineExceeded)
}
