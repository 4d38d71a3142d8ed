package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/observability"
	"go.uber.org/zap"
)

// loop runs a job on a fixed interval until stopped or the context ends.
type loop struct {
	name     string
	interval time.Duration
	// immediate runs the job once before the first tick.
	immediate bool
	job       func(ctx context.Context) error
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func newLoop(name string, interval time.Duration, job func(ctx context.Context) error) *loop {
	return &loop{
		name:     name,
		interval: interval,
		job:      job,
		stopCh:   make(chan struct{}),
	}
}

func (l *loop) setInterval(interval time.Duration) {
	if interval > 0 {
		l.interval = interval
	}
}

// Start blocks until Stop is called or ctx is canceled.
func (l *loop) Start(ctx context.Context) {
	zap.L().Info("worker starting", zap.String("worker", l.name), zap.Duration("interval", l.interval))
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if l.immediate {
		l.RunOnce(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker context canceled", zap.String("worker", l.name))
			return
		case <-l.stopCh:
			zap.L().Info("worker stop signal received", zap.String("worker", l.name))
			return
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

func (l *loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (l *loop) Run(ctx context.Context) func() {
	go l.Start(ctx)
	return l.Stop
}

// RunOnce executes a single pass and records its outcome.
func (l *loop) RunOnce(ctx context.Context) {
	if err := l.job(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.IncrementWorkerRun(l.name, "failed")
		zap.L().Error("worker run failed", zap.String("worker", l.name), zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(l.name, "success")
}
