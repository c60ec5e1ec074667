package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/paper-aggregation-service/internal/domain"
)

// JobRepository handles aggregation job persistence and lifecycle management.
// Every status transition is persisted before it becomes observable to callers,
// so a restarted process can reconstruct the full job set from storage.
type JobRepository interface {
	// Create inserts a new aggregation job.
	// The job must have a valid ID and at least one query term.
	// Returns domain.ErrAlreadyExists if a job with the same ID already exists.
	// Returns domain.ErrInvalidInput if required fields are missing.
	Create(ctx context.Context, job *domain.Job) error

	// Get retrieves an aggregation job by its ID.
	// Returns domain.ErrNotFound if no matching job exists.
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// Update performs an optimistic update on a job using SELECT FOR UPDATE.
	// The provided function receives the current job state and should return an error
	// if the update should be aborted. Changes made to the job in the function are persisted.
	// Returns domain.ErrNotFound if no matching job exists.
	//
	// Concurrent update behavior:
	//   - If the row lock cannot be acquired before context deadline, returns context.DeadlineExceeded.
	//   - If the provided function returns an error, the transaction is rolled back and that error is returned.
	Update(ctx context.Context, id uuid.UUID, fn func(*domain.Job) error) error

	// UpdateStatus transitions a job to a new status, validating the transition
	// against the job lifecycle rules. StartedAt is stamped when the job enters
	// running and CompletedAt when it reaches a terminal status.
	// The errorMsg parameter is stored only when transitioning to failed.
	// Returns domain.ErrInvalidTransition for disallowed transitions and
	// domain.ErrNotFound if no matching job exists.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error

	// List retrieves jobs matching the filter criteria, newest first.
	// Returns the matching jobs and total count for pagination.
	// The total count reflects all matching records regardless of limit/offset.
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, int64, error)

	// ListActive retrieves all jobs in a non-terminal status, oldest first.
	// Used at startup to recover jobs that were in flight when the process stopped.
	ListActive(ctx context.Context) ([]*domain.Job, error)
}

// JobFilter specifies criteria for listing aggregation jobs.
type JobFilter struct {
	// Status filters by one or more job statuses (optional).
	// When multiple statuses are provided, jobs matching any status are returned.
	Status []domain.JobStatus

	// CreatedAfter filters to jobs created after this timestamp (optional).
	CreatedAfter *time.Time

	// CreatedBefore filters to jobs created before this timestamp (optional).
	CreatedBefore *time.Time

	// Limit specifies maximum number of results (default: 100, max: 1000).
	Limit int

	// Offset specifies the starting position for pagination.
	Offset int
}

// Validate checks if the filter has valid values and sets defaults.
func (f *JobFilter) Validate() error {
	applyPaginationDefaults(&f.Limit, &f.Offset)
	return nil
}
