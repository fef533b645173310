package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New("every now and then", func(context.Context) error { return nil }, WithLogger(quietLogger()))
	assert.Error(t, err)
}

func TestRunOnceAppliesTimeout(t *testing.T) {
	s, err := New("@every 1h", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithJobTimeout(50*time.Millisecond), WithLogger(quietLogger()))
	require.NoError(t, err)

	start := time.Now()
	err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunOnceReturnsJobError(t *testing.T) {
	boom := errors.New("boom")
	s, err := New("@every 1h", func(context.Context) error { return boom }, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.ErrorIs(t, s.RunOnce(context.Background()), boom)
}

func TestStartRunsWarmupAndSchedule(t *testing.T) {
	var calls atomic.Int32
	s, err := New("@every 1s", func(context.Context) error {
		calls.Add(1)
		return nil
	}, WithStartupDelay(0), WithLogger(quietLogger()))
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	// 启动时执行一次，之后每秒一次
	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)
}

func TestStopCancelsPendingWarmup(t *testing.T) {
	var calls atomic.Int32
	s, err := New("@every 1h", func(context.Context) error {
		calls.Add(1)
		return nil
	}, WithStartupDelay(200*time.Millisecond), WithLogger(quietLogger()))
	require.NoError(t, err)

	s.Start()
	<-s.Stop().Done()

	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestWarmupAndScheduleNeverOverlap(t *testing.T) {
	var running, peak, calls atomic.Int32
	s, err := New("@every 1s", func(context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		calls.Add(1)
		time.Sleep(1500 * time.Millisecond)
		return nil
	}, WithStartupDelay(0), WithJobTimeout(5*time.Second), WithLogger(quietLogger()))
	require.NoError(t, err)

	s.Start()
	// 预热占住 1.5s，期间第一次定时触发应被跳过
	time.Sleep(2500 * time.Millisecond)
	<-s.Stop().Done()

	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	assert.Equal(t, int32(1), peak.Load())
}
