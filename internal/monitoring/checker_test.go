package monitoring

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingCorrector struct {
	calls atomic.Int32
	n     int
	err   error
}

func (c *countingCorrector) CorrectAllCounts(context.Context) (int, error) {
	c.calls.Add(1)
	return c.n, c.err
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	corr := &countingCorrector{n: 2}
	checker := NewChecker(NewCollector(&stubSummary{}), corr, 10*time.Millisecond)
	assert.True(t, checker.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return corr.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DisabledReturnsImmediately(t *testing.T) {
	corr := &countingCorrector{}
	checker := NewChecker(NewCollector(&stubSummary{}), corr, 0)
	assert.False(t, checker.Enabled())

	checker.Run(context.Background())
	assert.Zero(t, corr.calls.Load())
}

func TestChecker_SweepContinuesPastCollectError(t *testing.T) {
	corr := &countingCorrector{}
	src := &stubSummary{err: assert.AnError}
	checker := NewChecker(NewCollector(src), corr, time.Minute)

	checker.Sweep(context.Background(), zap.NewNop())
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, int32(1), corr.calls.Load())
}

func TestChecker_SweepWithoutCorrector(t *testing.T) {
	src := &stubSummary{}
	checker := NewChecker(NewCollector(src), nil, time.Minute)
	checker.Sweep(context.Background(), zap.NewNop())
	assert.Equal(t, 1, src.calls)
}
