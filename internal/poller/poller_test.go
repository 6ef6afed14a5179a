package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-sync/internal/marketplace"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// fakeOperationStore mirrors the conditional-update semantics of the
// real store: terminal transition and reconciliation are each won by
// exactly one caller, and reconciliation is all-or-nothing like the
// real store's transaction.
type fakeOperationStore struct {
	mu              sync.Mutex
	ops             map[string]*models.Operation
	history         []*models.OperationHistory
	listingStatuses map[string]types.ListingStatus
	listingUpdates  int
	reconcileErr    error
}

func newFakeOperationStore() *fakeOperationStore {
	return &fakeOperationStore{
		ops:             make(map[string]*models.Operation),
		listingStatuses: make(map[string]types.ListingStatus),
	}
}

func (s *fakeOperationStore) add(op *models.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *op
	s.ops[op.ID] = &copied
}

func (s *fakeOperationStore) ListPollable(_ context.Context, limit int) ([]*models.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Operation
	for _, op := range s.ops {
		pollable := op.Status == types.OperationPending ||
			((op.Status == types.OperationSucceeded || op.Status == types.OperationFailed) && !op.Reconciled)
		if pollable && len(out) < limit {
			copied := *op
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeOperationStore) TouchPolled(_ context.Context, operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.ops[operationID].LastPolledAt = &now
	return nil
}

func (s *fakeOperationStore) MarkTerminal(_ context.Context, operationID string, status types.OperationStatus, errMsg *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op := s.ops[operationID]
	if op.Status != types.OperationPending {
		return false, nil
	}
	op.Status = status
	op.Error = errMsg
	return true, nil
}

func (s *fakeOperationStore) Reconcile(_ context.Context, op *models.Operation, status types.OperationStatus, listingStatus types.ListingStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A failed attempt rolls back whole: no flag, no listing write, no
	// history row.
	if s.reconcileErr != nil {
		return false, s.reconcileErr
	}

	stored := s.ops[op.ID]
	if stored.Reconciled {
		return false, nil
	}
	stored.Reconciled = true
	s.listingStatuses[op.ListingID] = listingStatus
	s.listingUpdates++
	s.history = append(s.history, &models.OperationHistory{
		OperationID: op.ID,
		Provider:    op.Provider,
		ListingID:   op.ListingID,
		Status:      status,
	})
	return true, nil
}

// statusAdapter answers OperationStatus from a scripted map.
type statusAdapter struct {
	provider types.Provider
	states   map[string]*marketplace.OperationState
	calls    int
}

func (a *statusAdapter) Provider() types.Provider { return a.provider }

func (a *statusAdapter) SearchCatalog(context.Context, string) (*models.Product, error) {
	panic("not used")
}

func (a *statusAdapter) FetchMarketData(context.Context, string, string, types.Currency) (*marketplace.MarketData, error) {
	panic("not used")
}

func (a *statusAdapter) ActivateListing(context.Context, *models.Listing) (*models.Operation, error) {
	panic("not used")
}

func (a *statusAdapter) OperationStatus(_ context.Context, operationID string) (*marketplace.OperationState, error) {
	a.calls++
	state, ok := a.states[operationID]
	if !ok {
		return nil, fmt.Errorf("unknown operation %s", operationID)
	}
	return state, nil
}

type pollerFixture struct {
	poller  *Poller
	ops     *fakeOperationStore
	adapter *statusAdapter
	now     time.Time
}

func newPollerFixture(t *testing.T) *pollerFixture {
	t.Helper()

	f := &pollerFixture{
		ops: newFakeOperationStore(),
		adapter: &statusAdapter{
			provider: types.ProviderStockX,
			states:   make(map[string]*marketplace.OperationState),
		},
		now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}

	poller, err := NewPoller(&PollerConfig{
		Operations: f.ops,
		Adapters:   marketplace.NewRegistryFromAdapters(f.adapter),
		Timeout:    15 * time.Minute,
		Now:        func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.poller = poller
	return f
}

func (f *pollerFixture) pendingOperation(id string, age time.Duration) {
	f.ops.add(&models.Operation{
		ID:        id,
		Provider:  types.ProviderStockX,
		ListingID: "lst-" + id,
		Status:    types.OperationPending,
		CreatedAt: f.now.Add(-age),
	})
}

func TestPoller_SucceededOperationReconciles(t *testing.T) {
	f := newPollerFixture(t)
	f.pendingOperation("op-1", time.Minute)
	f.adapter.states["op-1"] = &marketplace.OperationState{OperationID: "op-1", Status: types.OperationSucceeded}

	stats, err := f.poller.PollBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, types.ListingActive, f.ops.listingStatuses["lst-op-1"])
	require.Len(t, f.ops.history, 1)
	assert.Equal(t, types.OperationSucceeded, f.ops.history[0].Status)
	assert.True(t, f.ops.ops["op-1"].Reconciled)
}

func TestPoller_FailedOperationRejectsListing(t *testing.T) {
	f := newPollerFixture(t)
	f.pendingOperation("op-2", time.Minute)
	f.adapter.states["op-2"] = &marketplace.OperationState{
		OperationID: "op-2",
		Status:      types.OperationFailed,
		Error:       "price below minimum",
	}

	stats, err := f.poller.PollBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, types.ListingRejected, f.ops.listingStatuses["lst-op-2"])
	require.NotNil(t, f.ops.ops["op-2"].Error)
	assert.Equal(t, "price below minimum", *f.ops.ops["op-2"].Error)
}

func TestPoller_StillPendingOnlyTouches(t *testing.T) {
	f := newPollerFixture(t)
	f.pendingOperation("op-3", time.Minute)
	f.adapter.states["op-3"] = &marketplace.OperationState{OperationID: "op-3", Status: types.OperationPending}

	stats, err := f.poller.PollBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.StillPending)
	assert.Equal(t, types.OperationPending, f.ops.ops["op-3"].Status)
	assert.NotNil(t, f.ops.ops["op-3"].LastPolledAt)
	assert.Empty(t, f.ops.history)
	assert.Zero(t, f.ops.listingUpdates)
}

func TestPoller_TimesOutOldPendingOperation(t *testing.T) {
	f := newPollerFixture(t)
	// Created 16 minutes ago with a 15 minute horizon.
	f.pendingOperation("op-4", 16*time.Minute)

	stats, err := f.poller.PollBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TimedOut)
	assert.Equal(t, types.OperationTimedOut, f.ops.ops["op-4"].Status)
	// No reconciliation writes on timeout.
	assert.Empty(t, f.ops.history)
	assert.Zero(t, f.ops.listingUpdates)
	// The provider was never asked.
	assert.Zero(t, f.adapter.calls)

	// Excluded from subsequent batches.
	stats, err = f.poller.PollBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
}

func TestPoller_ReconciliationIsIdempotent(t *testing.T) {
	f := newPollerFixture(t)
	f.pendingOperation("op-5", time.Minute)
	f.adapter.states["op-5"] = &marketplace.OperationState{OperationID: "op-5", Status: types.OperationSucceeded}

	for i := 0; i < 3; i++ {
		_, err := f.poller.PollBatch(context.Background(), 10)
		require.NoError(t, err)
	}

	assert.Len(t, f.ops.history, 1)
	assert.Equal(t, 1, f.ops.listingUpdates)
}

func TestPoller_RecoversInterruptedReconciliation(t *testing.T) {
	f := newPollerFixture(t)
	// Terminal but unreconciled: a previous poller crashed after the
	// status transition.
	f.ops.add(&models.Operation{
		ID:        "op-6",
		Provider:  types.ProviderStockX,
		ListingID: "lst-op-6",
		Status:    types.OperationSucceeded,
		CreatedAt: f.now.Add(-time.Hour),
	})

	stats, err := f.poller.PollBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, types.ListingActive, f.ops.listingStatuses["lst-op-6"])
	assert.Len(t, f.ops.history, 1)
	// No provider round-trip needed for a known-terminal operation.
	assert.Zero(t, f.adapter.calls)
}

func TestPoller_InterruptedReconciliationLeavesNoPartialWrites(t *testing.T) {
	f := newPollerFixture(t)
	f.pendingOperation("op-9", time.Minute)
	f.adapter.states["op-9"] = &marketplace.OperationState{OperationID: "op-9", Status: types.OperationSucceeded}
	f.ops.reconcileErr = fmt.Errorf("connection reset during reconciliation")

	stats, err := f.poller.PollBatch(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)

	// The attempt rolled back whole: no flag, no listing transition,
	// no history row, and the operation is still pollable.
	assert.False(t, f.ops.ops["op-9"].Reconciled)
	assert.Empty(t, f.ops.history)
	assert.Zero(t, f.ops.listingUpdates)

	f.ops.reconcileErr = nil
	stats, err = f.poller.PollBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Succeeded)
	assert.True(t, f.ops.ops["op-9"].Reconciled)
	assert.Equal(t, types.ListingActive, f.ops.listingStatuses["lst-op-9"])
	assert.Len(t, f.ops.history, 1)
}

func TestPoller_BatchContinuesPastFailures(t *testing.T) {
	f := newPollerFixture(t)
	f.pendingOperation("op-7", time.Minute)
	f.pendingOperation("op-8", time.Minute)
	// op-7 has no scripted state, so its poll errors; the batch must
	// still finish op-8.
	f.adapter.states["op-8"] = &marketplace.OperationState{OperationID: "op-8", Status: types.OperationSucceeded}

	stats, err := f.poller.PollBatch(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, stats.Errors)
}
