package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/paper-aggregation-service/internal/domain"
)

// txBeginner is an interface for types that can begin a transaction (e.g., *pgxpool.Pool, *database.DB).
// Used by Update to automatically wrap SELECT FOR UPDATE + UPDATE in a transaction
// when the underlying DBTX is a pool rather than an existing transaction.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgreSQL error codes used for constraint violation detection.
const (
	pgUniqueViolation = "23505" // unique_violation
)

// jobColumns is the column list shared by all job SELECT statements.
const jobColumns = `id, query_terms, domain, target_size, sources,
		status, progress_message, error_message, result_ref,
		created_at, started_at, completed_at`

// Compile-time interface verification.
var _ JobRepository = (*PgJobRepository)(nil)

// PgJobRepository is a PostgreSQL implementation of JobRepository.
type PgJobRepository struct {
	db DBTX
}

// NewPgJobRepository creates a new PostgreSQL job repository.
func NewPgJobRepository(db DBTX) *PgJobRepository {
	return &PgJobRepository{db: db}
}

// Create inserts a new aggregation job.
func (r *PgJobRepository) Create(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return domain.NewValidationError("job", "job cannot be nil")
	}
	if job.ID == uuid.Nil {
		return domain.NewValidationError("id", "job ID is required")
	}
	if len(job.Request.QueryTerms) == 0 {
		return domain.NewValidationError("query_terms", "at least one query term is required")
	}
	if job.Request.TargetSize <= 0 {
		return domain.NewValidationError("target_size", "target size must be positive")
	}

	query := `
		INSERT INTO jobs (
			id, query_terms, domain, target_size, sources,
			status, progress_message, error_message, result_ref,
			created_at, started_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12
		)`

	_, err := r.db.Exec(ctx, query,
		job.ID, job.Request.QueryTerms, job.Request.Domain, job.Request.TargetSize, sourceStrings(job.Request.Sources),
		job.Status, job.ProgressMessage, nullString(job.ErrorMessage), nullString(job.ResultRef),
		job.CreatedAt, job.StartedAt, job.CompletedAt,
	)

	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewAlreadyExistsError("job", job.ID.String())
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Get retrieves an aggregation job by its ID.
func (r *PgJobRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := fmt.Sprintf("SELECT %s FROM jobs WHERE id = $1", jobColumns)

	row := r.db.QueryRow(ctx, query, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("job", id.String())
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// Update performs an optimistic update on a job using SELECT FOR UPDATE.
//
// Transaction Management:
// This method uses SELECT FOR UPDATE which requires a transaction for correct locking.
// If the underlying DBTX is a connection pool (supports Begin), the method automatically
// wraps the SELECT FOR UPDATE + UPDATE in an explicit transaction. If the underlying
// DBTX is already a transaction, it executes within that existing transaction.
func (r *PgJobRepository) Update(ctx context.Context, id uuid.UUID, fn func(*domain.Job) error) error {
	// If the underlying DBTX supports Begin (i.e., it's a pool, not already a transaction),
	// wrap the SELECT FOR UPDATE + UPDATE in an explicit transaction to prevent lost updates.
	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for update: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		txRepo := &PgJobRepository{db: tx}
		if err := txRepo.updateInTx(ctx, id, fn); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	// Already running within a transaction.
	return r.updateInTx(ctx, id, fn)
}

// updateInTx performs the actual SELECT FOR UPDATE + UPDATE within the current DBTX.
// This must be called within a transaction for correct row-level locking.
func (r *PgJobRepository) updateInTx(ctx context.Context, id uuid.UUID, fn func(*domain.Job) error) error {
	selectQuery := fmt.Sprintf("SELECT %s FROM jobs WHERE id = $1 FOR UPDATE", jobColumns)

	rows, err := r.db.Query(ctx, selectQuery, id)
	if err != nil {
		return fmt.Errorf("failed to query job for update: %w", err)
	}

	job, err := scanJobRows(rows)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("job", id.String())
		}
		return fmt.Errorf("failed to scan job: %w", err)
	}

	// Apply the update function
	if err := fn(job); err != nil {
		return err
	}

	updateQuery := `
		UPDATE jobs SET
			status = $1,
			progress_message = $2,
			error_message = $3,
			result_ref = $4,
			started_at = $5,
			completed_at = $6
		WHERE id = $7`

	_, err = r.db.Exec(ctx, updateQuery,
		job.Status,
		job.ProgressMessage,
		nullString(job.ErrorMessage),
		nullString(job.ResultRef),
		job.StartedAt,
		job.CompletedAt,
		id,
	)

	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return nil
}

// UpdateStatus transitions a job to a new status with optional error message.
// Repeating a terminal outcome the job already reached is a no-op, so retried
// completion or failure writes converge instead of erroring.
func (r *PgJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus, errorMsg string) error {
	return r.Update(ctx, id, func(job *domain.Job) error {
		if job.Status == status && status.IsTerminal() {
			return nil
		}
		if !job.Status.CanTransitionTo(status) {
			return domain.NewInvalidTransitionError(id.String(), job.Status, status)
		}

		job.Status = status
		if errorMsg != "" && status == domain.JobStatusFailed {
			job.ErrorMessage = errorMsg
		}

		// Set timestamps based on status
		now := time.Now().UTC()
		if status == domain.JobStatusRunning && job.StartedAt == nil {
			job.StartedAt = &now
		}
		if status.IsTerminal() && job.CompletedAt == nil {
			job.CompletedAt = &now
		}

		return nil
	})
}

// List retrieves jobs matching the filter criteria, newest first.
func (r *PgJobRepository) List(ctx context.Context, filter JobFilter) ([]*domain.Job, int64, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	// Build dynamic WHERE clause
	conditions := []string{"TRUE"}
	args := []interface{}{}
	argIndex := 1

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			placeholders[i] = fmt.Sprintf("$%d", argIndex)
			args = append(args, s)
			argIndex++
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	if filter.CreatedAfter != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argIndex))
		args = append(args, *filter.CreatedAfter)
		argIndex++
	}

	if filter.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.CreatedBefore)
		argIndex++
	}

	whereClause := strings.Join(conditions, " AND ")

	// Count total matching records
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM jobs WHERE %s", whereClause)
	var totalCount int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	// Query with pagination
	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM jobs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		jobColumns, whereClause, argIndex, argIndex+1)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0, filter.Limit)
	for rows.Next() {
		job, err := scanJobFromRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, totalCount, nil
}

// ListActive retrieves all jobs in a non-terminal status, oldest first.
// Oldest-first ordering preserves the original submission order on recovery.
func (r *PgJobRepository) ListActive(ctx context.Context) ([]*domain.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM jobs
		WHERE status IN ('pending', 'running')
		ORDER BY created_at ASC`, jobColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJobFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating active jobs: %w", err)
	}

	return jobs, nil
}

// isPgUniqueViolation checks if the error is a PostgreSQL unique constraint violation.
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}

// jobScanDest holds the destination pointers for scanning a Job row.
// This eliminates code duplication between pgx.Row and pgx.Rows scanning.
type jobScanDest struct {
	job          domain.Job
	sources      []string
	errorMessage *string
	resultRef    *string
}

// destinations returns the slice of pointers for Scan operations.
func (d *jobScanDest) destinations() []interface{} {
	return []interface{}{
		&d.job.ID, &d.job.Request.QueryTerms, &d.job.Request.Domain, &d.job.Request.TargetSize, &d.sources,
		&d.job.Status, &d.job.ProgressMessage, &d.errorMessage, &d.resultRef,
		&d.job.CreatedAt, &d.job.StartedAt, &d.job.CompletedAt,
	}
}

// finalize performs post-scan processing for nullable and array fields.
func (d *jobScanDest) finalize() (*domain.Job, error) {
	if d.errorMessage != nil {
		d.job.ErrorMessage = *d.errorMessage
	}
	if d.resultRef != nil {
		d.job.ResultRef = *d.resultRef
	}
	if len(d.sources) > 0 {
		d.job.Request.Sources = make([]domain.SourceType, len(d.sources))
		for i, s := range d.sources {
			d.job.Request.Sources[i] = domain.SourceType(s)
		}
	}
	return &d.job, nil
}

// scanJob scans a single row into a Job.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var dest jobScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// scanJobRows scans a single row from pgx.Rows into a Job.
// This is used with SELECT FOR UPDATE which returns Rows instead of Row.
func scanJobRows(rows pgx.Rows) (*domain.Job, error) {
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	return scanJobFromRows(rows)
}

// scanJobFromRows scans the current row from pgx.Rows into a Job.
func scanJobFromRows(rows pgx.Rows) (*domain.Job, error) {
	var dest jobScanDest
	if err := rows.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize()
}

// sourceStrings converts source types to their string form for array columns.
func sourceStrings(sources []domain.SourceType) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}

// nullString returns a pointer to the string if non-empty, otherwise nil.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
