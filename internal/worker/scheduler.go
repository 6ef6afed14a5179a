package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/market-sync/internal/budget"
	"github.com/market-sync/internal/logging"
	"github.com/market-sync/internal/models"
	"github.com/market-sync/internal/types"
)

// JobStore is the durable queue surface the scheduler drives. Claim
// and release must be safe under concurrent schedulers; the store
// enforces this, not the scheduler.
type JobStore interface {
	Enqueue(ctx context.Context, provider types.Provider, key types.SubjectKey, priority int) (*models.Job, bool, error)
	ClaimPending(ctx context.Context, limit int, excluding []types.Provider) ([]*models.Job, error)
	Release(ctx context.Context, jobID string) error
	MarkDone(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
	ResetStale(ctx context.Context, threshold time.Duration) (int, error)
}

// BudgetReserver authorizes outbound work against provider allowances.
type BudgetReserver interface {
	Reserve(ctx context.Context, provider types.Provider, cost int) (*budget.Reservation, error)
}

// SubjectSyncer executes one unit of sync work.
type SubjectSyncer interface {
	SyncSubject(ctx context.Context, provider types.Provider, key types.SubjectKey) (*SyncResult, error)
}

// DispatchStats summarizes one dispatch tick.
type DispatchStats struct {
	Claimed   int `json:"claimed"`
	Deferred  int `json:"deferred"` // released back to pending on budget denial
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	Jobs   JobStore
	Budget BudgetReserver
	Worker SubjectSyncer

	// BatchSize is the default claim size per tick.
	BatchSize int

	// Concurrency bounds how many claimed jobs execute at once.
	Concurrency int

	// StaleThreshold is the age past which a running job is presumed
	// orphaned by a crashed worker and reset to pending.
	StaleThreshold time.Duration

	// JobCost is the budget tokens one job consumes. Default 1.
	JobCost int
}

// Scheduler pulls eligible jobs from the durable queue, gates them
// through the budget ledger, and runs them on the sync worker. Any
// number of scheduler processes may tick concurrently; the claim
// query and the budget reservation are the only coordination points,
// both database-side.
type Scheduler struct {
	jobs           JobStore
	budget         BudgetReserver
	worker         SubjectSyncer
	batchSize      int
	concurrency    int
	staleThreshold time.Duration
	jobCost        int
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job store cannot be nil")
	}
	if cfg.Budget == nil {
		return nil, fmt.Errorf("budget reserver cannot be nil")
	}
	if cfg.Worker == nil {
		return nil, fmt.Errorf("sync worker cannot be nil")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	staleThreshold := cfg.StaleThreshold
	if staleThreshold <= 0 {
		staleThreshold = 30 * time.Minute
	}
	jobCost := cfg.JobCost
	if jobCost <= 0 {
		jobCost = 1
	}

	return &Scheduler{
		jobs:           cfg.Jobs,
		budget:         cfg.Budget,
		worker:         cfg.Worker,
		batchSize:      batchSize,
		concurrency:    concurrency,
		staleThreshold: staleThreshold,
		jobCost:        jobCost,
	}, nil
}

// Enqueue adds a job for a subject unless one is already active for
// the same key. Returns the job and whether a new row was created.
func (s *Scheduler) Enqueue(ctx context.Context, provider types.Provider, key types.SubjectKey, priority int) (*models.Job, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	return s.jobs.Enqueue(ctx, provider, key, priority)
}

// DispatchNext runs one dispatch tick: claim up to batchSize pending
// jobs in priority order, reserve budget for each, execute the
// authorized ones, and release the denied ones back to pending. A tick
// that finds nothing eligible is a normal no-op.
//
// Budget denial defers the job at unchanged priority and excludes the
// provider from further claims within the tick, so a denied provider's
// backlog cannot starve other providers' eligible work out of the batch.
func (s *Scheduler) DispatchNext(ctx context.Context, batchSize int) (*DispatchStats, error) {
	logger := logging.FromContext(ctx)

	if batchSize <= 0 {
		batchSize = s.batchSize
	}

	stats := &DispatchStats{}
	denied := make(map[types.Provider]bool)
	var eligible []*models.Job

	// Claim in rounds. When a round denies a provider we claim again
	// with that provider excluded, until the batch is full or the
	// queue has nothing left to offer.
	for len(eligible) < batchSize {
		claimed, err := s.jobs.ClaimPending(ctx, batchSize-len(eligible), deniedProviders(denied))
		if err != nil {
			return nil, fmt.Errorf("failed to claim pending jobs: %w", err)
		}
		if len(claimed) == 0 {
			break
		}
		stats.Claimed += len(claimed)

		newlyDenied := false
		for _, job := range claimed {
			if denied[job.Provider] {
				if err := s.jobs.Release(ctx, job.ID); err != nil {
					return stats, fmt.Errorf("failed to release job %s: %w", job.ID, err)
				}
				stats.Deferred++
				continue
			}

			reservation, err := s.budget.Reserve(ctx, job.Provider, s.jobCost)
			if err != nil {
				return stats, fmt.Errorf("failed to reserve budget for job %s: %w", job.ID, err)
			}
			if !reservation.Authorized {
				logger.WithFields(map[string]interface{}{
					"provider":   job.Provider,
					"retryAfter": reservation.RetryAfter,
				}).Info("Budget exhausted, deferring jobs until next window")
				denied[job.Provider] = true
				newlyDenied = true
				if err := s.jobs.Release(ctx, job.ID); err != nil {
					return stats, fmt.Errorf("failed to release job %s: %w", job.ID, err)
				}
				stats.Deferred++
				continue
			}

			eligible = append(eligible, job)
		}

		if !newlyDenied {
			break
		}
	}

	s.runJobs(ctx, eligible, stats)

	return stats, nil
}

func deniedProviders(denied map[types.Provider]bool) []types.Provider {
	if len(denied) == 0 {
		return nil
	}
	providers := make([]types.Provider, 0, len(denied))
	for provider := range denied {
		providers = append(providers, provider)
	}
	return providers
}

// runJobs executes authorized jobs with bounded concurrency and
// records each outcome. A job failure never aborts its siblings.
func (s *Scheduler) runJobs(ctx context.Context, jobs []*models.Job, stats *DispatchStats) {
	logger := logging.FromContext(ctx)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, s.concurrency)
	)

	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(job *models.Job) {
			defer wg.Done()
			defer func() { <-sem }()

			jobLogger := logger.WithFields(map[string]interface{}{
				"jobId":    job.ID,
				"provider": job.Provider,
				"subject":  job.Subject().String(),
			})

			result, err := s.worker.SyncSubject(ctx, job.Provider, job.Subject())
			if err == nil && result.FirstError != nil && result.CurrenciesProcessed == 0 {
				// Nothing succeeded; treat the sync as failed even
				// though hydration got through.
				err = result.FirstError
			}

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				jobLogger.WithError(err).Error("Job failed")
				if markErr := s.jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
					jobLogger.WithError(markErr).Error("Failed to mark job failed")
				}
				stats.Failed++
				return
			}

			if markErr := s.jobs.MarkDone(ctx, job.ID); markErr != nil {
				jobLogger.WithError(markErr).Error("Failed to mark job done")
			}
			stats.Succeeded++
		}(job)
	}

	wg.Wait()
}

// SweepStale resets running jobs older than the stale threshold back
// to pending. Covers workers that died mid-job; the queue itself makes
// no liveness promise.
func (s *Scheduler) SweepStale(ctx context.Context) (int, error) {
	reset, err := s.jobs.ResetStale(ctx, s.staleThreshold)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale jobs: %w", err)
	}
	if reset > 0 {
		logging.FromContext(ctx).WithField("reset", reset).Warn("Reset stale running jobs to pending")
	}
	return reset, nil
}
