package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type countingJob struct {
	calls atomic.Int32
	batch atomic.Int32
	err   error
}

func (c *countingJob) PromoteDue(_ context.Context, batchSize int32) (int, error) {
	c.calls.Add(1)
	c.batch.Store(batchSize)
	return 1, c.err
}

func (c *countingJob) DispatchPending(_ context.Context, batchSize int32) (int, error) {
	c.calls.Add(1)
	c.batch.Store(batchSize)
	return 0, c.err
}

func (c *countingJob) SweepTimedOut(_ context.Context, batchSize int32) (int, error) {
	c.calls.Add(1)
	c.batch.Store(batchSize)
	return 1, c.err
}

func (c *countingJob) Run(context.Context) ([]service.Violation, error) {
	c.calls.Add(1)
	return nil, c.err
}

func TestEscrowWorkerTicks(t *testing.T) {
	job := &countingJob{}
	w := NewEscrowWorker(job).WithInterval(5 * time.Millisecond).WithBatchSize(7)
	stop := w.Run(context.Background())
	defer stop()

	require.Eventually(t, func() bool { return job.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(7), job.batch.Load())
}

func TestPayoutWorkerStopsOnCancel(t *testing.T) {
	job := &countingJob{}
	w := NewPayoutWorker(job).WithInterval(5 * time.Millisecond).WithBatchSize(3)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return job.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	require.Equal(t, int32(3), job.batch.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	w := NewSweepWorker(&countingJob{}).WithInterval(time.Hour)
	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	w.Stop()
	w.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestReconciliationRunsAtStartup(t *testing.T) {
	job := &countingJob{}
	w := NewReconciliationWorker(job)
	stop := w.Run(context.Background())
	defer stop()
	require.Eventually(t, func() bool { return job.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunOnceSurvivesErrors(t *testing.T) {
	job := &countingJob{err: errors.New("db down")}
	w := NewSweepWorker(job)
	w.RunOnce(context.Background())
	w.RunOnce(context.Background())
	require.Equal(t, int32(2), job.calls.Load())
}

// The services log their own outcomes; a successful pass adds nothing at the worker level.
func TestSuccessfulRunsLeaveLoggingToServices(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)

	job := &countingJob{}
	NewEscrowWorker(job).RunOnce(context.Background())
	NewSweepWorker(job).RunOnce(context.Background())
	require.Equal(t, int32(2), job.calls.Load())
	require.Zero(t, logs.Len())
}
