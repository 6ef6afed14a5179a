package models

import (
	"time"

	"github.com/market-sync/internal/types"
)

// Job represents one unit of sync work in the durable queue.
// At most one non-terminal job exists per (provider, style, variant);
// the jobs table enforces this with a partial unique index.
type Job struct {
	ID           string           `json:"id" db:"id"`
	Provider     types.Provider   `json:"provider" db:"provider"`
	StyleID      string           `json:"styleId" db:"style_id"`
	Variant      string           `json:"variant,omitempty" db:"variant"`
	Priority     int              `json:"priority" db:"priority"`
	Status       types.JobStatus  `json:"status" db:"status"`
	AttemptCount int              `json:"attemptCount" db:"attempt_count"`
	CreatedAt    time.Time        `json:"createdAt" db:"created_at"`
	StartedAt    *time.Time       `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty" db:"completed_at"`
	Error        *string          `json:"error,omitempty" db:"error_message"`
}

// Subject returns the job's subject key.
func (j *Job) Subject() types.SubjectKey {
	return types.SubjectKey{StyleID: j.StyleID, Variant: j.Variant}
}
