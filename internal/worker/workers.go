// Package worker hosts the background loops: escrow release, payout dispatch,
// the provider timeout sweep and ledger reconciliation. Every loop is safe to run
// on several instances at once; the services serialize through row locks.
package worker

import (
	"context"
	"time"

	"github.com/ayo6706/marketplace-wallet/internal/service"
)

type Promoter interface {
	PromoteDue(ctx context.Context, batchSize int32) (int, error)
}

type Dispatcher interface {
	DispatchPending(ctx context.Context, batchSize int32) (int, error)
}

type Sweeper interface {
	SweepTimedOut(ctx context.Context, batchSize int32) (int, error)
}

type Reconciler interface {
	Run(ctx context.Context) ([]service.Violation, error)
}

// EscrowWorker promotes pending sale entries whose hold has elapsed.
type EscrowWorker struct {
	*loop
	batchSize int32
}

func NewEscrowWorker(svc Promoter) *EscrowWorker {
	w := &EscrowWorker{batchSize: 100}
	w.loop = newLoop("escrow", time.Minute, func(ctx context.Context) error {
		_, err := svc.PromoteDue(ctx, w.batchSize)
		return err
	})
	return w
}

func (w *EscrowWorker) WithInterval(interval time.Duration) *EscrowWorker {
	w.setInterval(interval)
	return w
}

func (w *EscrowWorker) WithBatchSize(size int32) *EscrowWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// PayoutWorker submits reserved payouts and retries transient provider failures.
type PayoutWorker struct {
	*loop
	batchSize int32
}

func NewPayoutWorker(svc Dispatcher) *PayoutWorker {
	w := &PayoutWorker{batchSize: 10}
	w.loop = newLoop("payout_dispatch", 10*time.Second, func(ctx context.Context) error {
		_, err := svc.DispatchPending(ctx, w.batchSize)
		return err
	})
	return w
}

func (w *PayoutWorker) WithInterval(interval time.Duration) *PayoutWorker {
	w.setInterval(interval)
	return w
}

func (w *PayoutWorker) WithBatchSize(size int32) *PayoutWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// SweepWorker fails dispatched payouts that outlived the provider timeout.
type SweepWorker struct {
	*loop
	batchSize int32
}

func NewSweepWorker(svc Sweeper) *SweepWorker {
	w := &SweepWorker{batchSize: 100}
	w.loop = newLoop("payout_sweep", 5*time.Minute, func(ctx context.Context) error {
		_, err := svc.SweepTimedOut(ctx, w.batchSize)
		return err
	})
	return w
}

func (w *SweepWorker) WithInterval(interval time.Duration) *SweepWorker {
	w.setInterval(interval)
	return w
}

// ReconciliationWorker re-derives every wallet's balances and reports drift.
type ReconciliationWorker struct {
	*loop
}

// NewReconciliationWorker runs once at startup and then daily by default.
func NewReconciliationWorker(svc Reconciler) *ReconciliationWorker {
	w := &ReconciliationWorker{}
	w.loop = newLoop("reconciliation", 24*time.Hour, func(ctx context.Context) error {
		_, err := svc.Run(ctx)
		return err
	})
	w.immediate = true
	return w
}

func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	w.setInterval(interval)
	return w
}
