// Package poller drives asynchronous provider-side operations to
// terminal state and reconciles local records exactly once.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/marketplace"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// OperationStore is the operations table surface the poller drives.
// MarkTerminal and Reconcile are conditional writes: only one concurrent
// poller wins each. Reconcile commits the flag claim, the listing
// transition, and the history record atomically, which is what keeps
// reconciliation exactly-once.
type OperationStore interface {
	ListPollable(ctx context.Context, limit int) ([]*models.Operation, error)
	TouchPolled(ctx context.Context, operationID string) error
	MarkTerminal(ctx context.Context, operationID string, status types.OperationStatus, errMsg *string) (bool, error)
	Reconcile(ctx context.Context, op *models.Operation, status types.OperationStatus, listingStatus types.ListingStatus) (bool, error)
}

// PollStats summarizes one poll batch.
type PollStats struct {
	Processed    int `json:"processed"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	TimedOut     int `json:"timedOut"`
	StillPending int `json:"stillPending"`
	Errors       int `json:"errors"`
}

// PollerConfig holds configuration for the operations poller
type PollerConfig struct {
	Operations OperationStore
	Adapters   *marketplace.Registry

	// Timeout is the horizon past which a still-pending operation is
	// abandoned and surfaced for manual reconciliation. Independent of
	// poll frequency.
	Timeout time.Duration

	// Now overrides the clock, used by tests.
	Now func() time.Time
}

// Poller sweeps pending operations, asks the provider for their
// current state, and reconciles terminal outcomes. Each operation's
// failure is isolated; the batch always runs to completion.
type Poller struct {
	operations OperationStore
	adapters   *marketplace.Registry
	timeout    time.Duration
	now        func() time.Time
}

// NewPoller creates a new operations poller
func NewPoller(cfg *PollerConfig) (*Poller, error) {
	if cfg.Operations == nil {
		return nil, fmt.Errorf("operation store cannot be nil")
	}
	if cfg.Adapters == nil {
		return nil, fmt.Errorf("adapter registry cannot be nil")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Poller{
		operations: cfg.Operations,
		adapters:   cfg.Adapters,
		timeout:    timeout,
		now:        now,
	}, nil
}

// PollBatch polls up to limit operations needing attention. Safe to
// run concurrently from multiple poller processes.
func (p *Poller) PollBatch(ctx context.Context, limit int) (*PollStats, error) {
	logger := logging.FromContext(ctx)

	ops, err := p.operations.ListPollable(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pollable operations: %w", err)
	}

	stats := &PollStats{}
	for _, op := range ops {
		stats.Processed++
		if err := p.pollOne(ctx, op, stats); err != nil {
			logger.WithError(err).WithField("operationId", op.ID).Warn("Operation poll failed")
			stats.Errors++
		}
	}

	return stats, nil
}

func (p *Poller) pollOne(ctx context.Context, op *models.Operation, stats *PollStats) error {
	// Terminal but unreconciled: a previous cycle crashed between the
	// status transition and reconciliation. Finish the job.
	if op.Status.Terminal() {
		return p.reconcile(ctx, op, op.Status, stats)
	}

	if p.now().UTC().Sub(op.CreatedAt) > p.timeout {
		return p.timeOut(ctx, op, stats)
	}

	adapter, err := p.adapters.Adapter(op.Provider)
	if err != nil {
		return err
	}

	state, err := adapter.OperationStatus(ctx, op.ID)
	if err != nil {
		return err
	}

	if !state.Status.Terminal() {
		stats.StillPending++
		return p.operations.TouchPolled(ctx, op.ID)
	}

	var errMsg *string
	if state.Error != "" {
		errMsg = &state.Error
	}
	won, err := p.operations.MarkTerminal(ctx, op.ID, state.Status, errMsg)
	if err != nil {
		return err
	}
	if !won {
		// Another poller transitioned it; reconciliation is theirs.
		return nil
	}

	return p.reconcile(ctx, op, state.Status, stats)
}

// timeOut abandons an operation pending past the horizon. No
// reconciliation write occurs; timed-out operations are surfaced for
// manual action and excluded from future batches.
func (p *Poller) timeOut(ctx context.Context, op *models.Operation, stats *PollStats) error {
	won, err := p.operations.MarkTerminal(ctx, op.ID, types.OperationTimedOut, nil)
	if err != nil {
		return err
	}
	if won {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"operationId": op.ID,
			"provider":    op.Provider,
			"age":         p.now().UTC().Sub(op.CreatedAt),
		}).Warn("Operation timed out, surfacing for manual reconciliation")
		stats.TimedOut++
	}
	return nil
}

// reconcile applies a terminal outcome: listing transition and history
// record, committed atomically with the reconciled flag claim. Under
// concurrent pollers at most one call wins; an interrupted attempt
// rolls back whole and the operation stays pollable.
func (p *Poller) reconcile(ctx context.Context, op *models.Operation, status types.OperationStatus, stats *PollStats) error {
	listingStatus := types.ListingActive
	if status == types.OperationFailed {
		listingStatus = types.ListingRejected
	}

	won, err := p.operations.Reconcile(ctx, op, status, listingStatus)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	switch status {
	case types.OperationSucceeded:
		stats.Succeeded++
	case types.OperationFailed:
		stats.Failed++
	}

	return nil
}
