package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-sync/internal/budget"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// fakeJobStore mirrors the queue semantics: claim in priority order,
// active-subset uniqueness on enqueue, release back to pending.
type fakeJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	nextID int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*models.Job)}
}

func (s *fakeJobStore) Enqueue(_ context.Context, provider types.Provider, key types.SubjectKey, priority int) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Provider == provider && job.StyleID == key.StyleID && job.Variant == key.Variant && !job.Status.Terminal() {
			return job, false, nil
		}
	}

	s.nextID++
	job := &models.Job{
		ID:        fmt.Sprintf("job-%d", s.nextID),
		Provider:  provider,
		StyleID:   key.StyleID,
		Variant:   key.Variant,
		Priority:  priority,
		Status:    types.JobStatusPending,
		CreatedAt: time.Now().UTC().Add(time.Duration(s.nextID) * time.Millisecond),
	}
	s.jobs[job.ID] = job
	return job, true, nil
}

func (s *fakeJobStore) ClaimPending(_ context.Context, limit int, excluding []types.Provider) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	excluded := make(map[types.Provider]bool, len(excluding))
	for _, provider := range excluding {
		excluded[provider] = true
	}

	var pending []*models.Job
	for _, job := range s.jobs {
		if job.Status == types.JobStatusPending && !excluded[job.Provider] {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := time.Now().UTC()
	var claimed []*models.Job
	for _, job := range pending {
		job.Status = types.JobStatusRunning
		job.StartedAt = &now
		job.AttemptCount++
		copied := *job
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (s *fakeJobStore) Release(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.Status = types.JobStatusPending
	job.StartedAt = nil
	job.AttemptCount--
	return nil
}

func (s *fakeJobStore) MarkDone(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.jobs[jobID].Status = types.JobStatusDone
	s.jobs[jobID].CompletedAt = &now
	return nil
}

func (s *fakeJobStore) MarkFailed(_ context.Context, jobID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.jobs[jobID].Status = types.JobStatusFailed
	s.jobs[jobID].CompletedAt = &now
	s.jobs[jobID].Error = &errMsg
	return nil
}

func (s *fakeJobStore) ResetStale(_ context.Context, threshold time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-threshold)
	reset := 0
	for _, job := range s.jobs {
		if job.Status == types.JobStatusRunning && job.StartedAt != nil && job.StartedAt.Before(cutoff) {
			job.Status = types.JobStatusPending
			job.StartedAt = nil
			reset++
		}
	}
	return reset, nil
}

func (s *fakeJobStore) countByStatus(status types.JobStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, job := range s.jobs {
		if job.Status == status {
			count++
		}
	}
	return count
}

// fakeBudget authorizes reservations until the per-provider remainder
// runs out, like a window with rate_limit-used tokens left.
type fakeBudget struct {
	mu        sync.Mutex
	remaining map[types.Provider]int
	calls     int
}

func (b *fakeBudget) Reserve(_ context.Context, provider types.Provider, cost int) (*budget.Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++

	res := &budget.Reservation{Provider: provider, Cost: cost}
	if b.remaining[provider] >= cost {
		b.remaining[provider] -= cost
		res.Authorized = true
	} else {
		res.RetryAfter = 35 * time.Minute
	}
	return res, nil
}

// fakeSyncer scripts per-subject outcomes.
type fakeSyncer struct {
	mu      sync.Mutex
	results map[string]*SyncResult
	errs    map[string]error
	synced  []string
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{
		results: make(map[string]*SyncResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeSyncer) SyncSubject(_ context.Context, provider types.Provider, key types.SubjectKey) (*SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, key.String())

	if err := f.errs[key.StyleID]; err != nil {
		return nil, err
	}
	if result := f.results[key.StyleID]; result != nil {
		return result, nil
	}
	return &SyncResult{Provider: provider, Subject: key, CurrenciesProcessed: 1, SnapshotsCreated: 1}, nil
}

func newTestScheduler(t *testing.T, jobs JobStore, reserver BudgetReserver, syncer SubjectSyncer) *Scheduler {
	t.Helper()

	scheduler, err := NewScheduler(&SchedulerConfig{
		Jobs:           jobs,
		Budget:         reserver,
		Worker:         syncer,
		BatchSize:      10,
		Concurrency:    4,
		StaleThreshold: 30 * time.Minute,
	})
	require.NoError(t, err)
	return scheduler
}

func TestScheduler_EnqueueIsIdempotentForActiveSubject(t *testing.T) {
	jobs := newFakeJobStore()
	scheduler := newTestScheduler(t, jobs, &fakeBudget{remaining: map[types.Provider]int{types.ProviderStockX: 100}}, newFakeSyncer())
	ctx := context.Background()

	key := types.SubjectKey{StyleID: "DD1391-100", Variant: "9"}
	first, created, err := scheduler.Enqueue(ctx, types.ProviderStockX, key, 5)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := scheduler.Enqueue(ctx, types.ProviderStockX, key, 9)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestScheduler_EnqueueRejectsInvalidSubject(t *testing.T) {
	scheduler := newTestScheduler(t, newFakeJobStore(), &fakeBudget{remaining: map[types.Provider]int{}}, newFakeSyncer())

	_, _, err := scheduler.Enqueue(context.Background(), types.ProviderStockX, types.SubjectKey{}, 0)
	assert.Error(t, err)
}

func TestScheduler_DispatchRunsEligibleJobs(t *testing.T) {
	jobs := newFakeJobStore()
	syncer := newFakeSyncer()
	// Single-slot concurrency so the observed sync order is the
	// dispatch order rather than goroutine scheduling order.
	scheduler, err := NewScheduler(&SchedulerConfig{
		Jobs:        jobs,
		Budget:      &fakeBudget{remaining: map[types.Provider]int{types.ProviderStockX: 100}},
		Worker:      syncer,
		BatchSize:   10,
		Concurrency: 1,
	})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := scheduler.Enqueue(ctx, types.ProviderStockX, types.SubjectKey{StyleID: fmt.Sprintf("STYLE-%d", i)}, i)
		require.NoError(t, err)
	}

	stats, err := scheduler.DispatchNext(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Claimed)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 0, stats.Deferred)
	assert.Equal(t, 3, jobs.countByStatus(types.JobStatusDone))
	// Highest priority dispatched first.
	assert.Equal(t, []string{"STYLE-2", "STYLE-1", "STYLE-0"}, syncer.synced)
}

func TestScheduler_BudgetDenialDefersJobs(t *testing.T) {
	jobs := newFakeJobStore()
	syncer := newFakeSyncer()
	// Window at 98/100: two tokens left.
	reserver := &fakeBudget{remaining: map[types.Provider]int{types.ProviderStockX: 2}}
	scheduler := newTestScheduler(t, jobs, reserver, syncer)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := scheduler.Enqueue(ctx, types.ProviderStockX, types.SubjectKey{StyleID: fmt.Sprintf("STYLE-%d", i)}, 0)
		require.NoError(t, err)
	}

	stats, err := scheduler.DispatchNext(ctx, 5)
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Claimed)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 3, stats.Deferred)
	assert.Equal(t, 2, jobs.countByStatus(types.JobStatusDone))
	assert.Equal(t, 3, jobs.countByStatus(types.JobStatusPending))
	// After the first denial the provider is skipped, not re-reserved.
	assert.Equal(t, 3, reserver.calls)
}

func TestScheduler_DeniedProviderDoesNotStarveOthers(t *testing.T) {
	jobs := newFakeJobStore()
	syncer := newFakeSyncer()
	reserver := &fakeBudget{remaining: map[types.Provider]int{
		types.ProviderStockX: 0,
		types.ProviderGoat:   10,
	}}
	scheduler := newTestScheduler(t, jobs, reserver, syncer)
	ctx := context.Background()

	// An exhausted provider's backlog outranks and outnumbers the batch.
	for i := 0; i < 5; i++ {
		_, _, err := scheduler.Enqueue(ctx, types.ProviderStockX, types.SubjectKey{StyleID: fmt.Sprintf("HYPE-%d", i)}, 10)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, _, err := scheduler.Enqueue(ctx, types.ProviderGoat, types.SubjectKey{StyleID: fmt.Sprintf("SKU-%d", i)}, 1)
		require.NoError(t, err)
	}

	stats, err := scheduler.DispatchNext(ctx, 5)
	require.NoError(t, err)

	// The re-claim after the denial fills the batch from the provider
	// that still has budget.
	assert.Equal(t, 3, stats.Succeeded)
	assert.Equal(t, 5, stats.Deferred)
	assert.Equal(t, 3, jobs.countByStatus(types.JobStatusDone))
	assert.Equal(t, 5, jobs.countByStatus(types.JobStatusPending))
	assert.Len(t, syncer.synced, 3)
	for _, subject := range syncer.synced {
		assert.Contains(t, subject, "SKU-")
	}
	// One reservation for the denied provider, one per goat job.
	assert.Equal(t, 4, reserver.calls)
}

func TestScheduler_EmptyTickIsNoOp(t *testing.T) {
	scheduler := newTestScheduler(t, newFakeJobStore(), &fakeBudget{remaining: map[types.Provider]int{}}, newFakeSyncer())

	stats, err := scheduler.DispatchNext(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Claimed)
}

func TestScheduler_FatalSyncMarksJobFailed(t *testing.T) {
	jobs := newFakeJobStore()
	syncer := newFakeSyncer()
	syncer.errs["BROKEN-1"] = fmt.Errorf("catalog hydration failed")
	scheduler := newTestScheduler(t, jobs, &fakeBudget{remaining: map[types.Provider]int{types.ProviderGoat: 100}}, syncer)
	ctx := context.Background()

	_, _, err := scheduler.Enqueue(ctx, types.ProviderGoat, types.SubjectKey{StyleID: "BROKEN-1"}, 0)
	require.NoError(t, err)
	_, _, err = scheduler.Enqueue(ctx, types.ProviderGoat, types.SubjectKey{StyleID: "OK-1"}, 0)
	require.NoError(t, err)

	stats, err := scheduler.DispatchNext(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, jobs.countByStatus(types.JobStatusFailed))
	assert.Equal(t, 1, jobs.countByStatus(types.JobStatusDone))
}

func TestScheduler_AllCurrenciesFailedMarksJobFailed(t *testing.T) {
	jobs := newFakeJobStore()
	syncer := newFakeSyncer()
	syncer.results["DEAD-1"] = &SyncResult{
		Provider:            types.ProviderStockX,
		CurrenciesProcessed: 0,
		SnapshotsCreated:    0,
		Errors:              []string{"boom"},
		FirstError:          fmt.Errorf("boom"),
	}
	scheduler := newTestScheduler(t, jobs, &fakeBudget{remaining: map[types.Provider]int{types.ProviderStockX: 100}}, syncer)
	ctx := context.Background()

	_, _, err := scheduler.Enqueue(ctx, types.ProviderStockX, types.SubjectKey{StyleID: "DEAD-1"}, 0)
	require.NoError(t, err)

	stats, err := scheduler.DispatchNext(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
}

func TestScheduler_PartialSuccessStillCountsAsDone(t *testing.T) {
	jobs := newFakeJobStore()
	syncer := newFakeSyncer()
	syncer.results["PART-1"] = &SyncResult{
		Provider:            types.ProviderStockX,
		CurrenciesProcessed: 2,
		SnapshotsCreated:    2,
		Errors:              []string{"EUR failed"},
		FirstError:          fmt.Errorf("EUR failed"),
	}
	scheduler := newTestScheduler(t, jobs, &fakeBudget{remaining: map[types.Provider]int{types.ProviderStockX: 100}}, syncer)
	ctx := context.Background()

	_, _, err := scheduler.Enqueue(ctx, types.ProviderStockX, types.SubjectKey{StyleID: "PART-1"}, 0)
	require.NoError(t, err)

	stats, err := scheduler.DispatchNext(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, jobs.countByStatus(types.JobStatusDone))
}

func TestScheduler_SweepStaleResetsOrphanedJobs(t *testing.T) {
	jobs := newFakeJobStore()
	scheduler := newTestScheduler(t, jobs, &fakeBudget{remaining: map[types.Provider]int{}}, newFakeSyncer())
	ctx := context.Background()

	job, _, err := jobs.Enqueue(ctx, types.ProviderStockX, types.SubjectKey{StyleID: "STALE-1"}, 0)
	require.NoError(t, err)
	stale := time.Now().UTC().Add(-time.Hour)
	jobs.jobs[job.ID].Status = types.JobStatusRunning
	jobs.jobs[job.ID].StartedAt = &stale

	reset, err := scheduler.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)
	assert.Equal(t, 1, jobs.countByStatus(types.JobStatusPending))
}
