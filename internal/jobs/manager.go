// Package jobs manages the lifecycle of asynchronous aggregation jobs: a
// persisted state machine, a bounded worker pool, and restart recovery.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregation-service/internal/analysis"
	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/observability"
	"github.com/helixir/paper-aggregation-service/internal/repository"
	"github.com/helixir/paper-aggregation-service/internal/search"
	"github.com/helixir/paper-aggregation-service/internal/storage"
)

// Recovery policies for jobs found running after a restart.
const (
	// RecoveryPolicyFail marks the job failed with a restart diagnostic.
	RecoveryPolicyFail = "fail"

	// RecoveryPolicyResume re-enqueues the job for another run.
	RecoveryPolicyResume = "resume"
)

const (
	// DefaultMaxConcurrent bounds simultaneously running jobs.
	DefaultMaxConcurrent = 4

	// DefaultQueueSize bounds jobs waiting for a worker slot.
	DefaultQueueSize = 256
)

// ErrManagerClosed is returned by Submit after Shutdown has begun.
var ErrManagerClosed = errors.New("job manager is shut down")

// Searcher runs the aggregation pipeline for one request. Satisfied by
// search.Orchestrator.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
}

// Notifier receives terminal job events. Notification is best-effort and
// happens after the transition is durably persisted.
type Notifier interface {
	JobCompleted(ctx context.Context, job *domain.Job)
	JobFailed(ctx context.Context, job *domain.Job)
	JobCancelled(ctx context.Context, job *domain.Job)
}

// Config holds manager configuration.
type Config struct {
	// MaxConcurrent is the number of jobs allowed to run at once.
	// Submissions beyond it stay pending until a worker frees up.
	MaxConcurrent int

	// QueueSize bounds the pending queue. A full queue rejects submissions.
	QueueSize int

	// RecoveryPolicy decides what happens to jobs found running at startup.
	RecoveryPolicy string
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.RecoveryPolicy == "" {
		c.RecoveryPolicy = RecoveryPolicyFail
	}
}

// Manager owns every job in the process. All state changes are persisted
// through the repository before they become observable, and mirrored into an
// in-memory cache so reads do not hit the database on the hot path.
type Manager struct {
	repo     repository.JobRepository
	searcher Searcher
	analyzer analysis.Analyzer
	store    storage.Store
	validate *validator.Validate
	config   Config
	metrics  *observability.Metrics
	notifier Notifier
	logger   zerolog.Logger

	mu      sync.Mutex
	cache   map[uuid.UUID]*domain.Job
	cancels map[uuid.UUID]context.CancelFunc
	running int
	closed  bool

	queue chan uuid.UUID
	wg    sync.WaitGroup
}

// NewManager creates a manager. Start must be called before submissions are
// processed. A nil metrics recorder disables instrumentation.
func NewManager(
	repo repository.JobRepository,
	searcher Searcher,
	analyzer analysis.Analyzer,
	store storage.Store,
	cfg Config,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Manager {
	cfg.applyDefaults()

	return &Manager{
		repo:     repo,
		searcher: searcher,
		analyzer: analyzer,
		store:    store,
		validate: validator.New(),
		config:   cfg,
		metrics:  metrics,
		logger:   logger.With().Str("component", "job_manager").Logger(),
		cache:    make(map[uuid.UUID]*domain.Job),
		cancels:  make(map[uuid.UUID]context.CancelFunc),
		queue:    make(chan uuid.UUID, cfg.QueueSize),
	}
}

// SetNotifier installs a terminal-event notifier. Must be called before
// Start.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// Start launches the worker pool. Workers stop when ctx is cancelled; use
// Shutdown to wait for in-flight jobs to finish persisting.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.config.MaxConcurrent; i++ {
		m.wg.Add(1)
		go m.workerLoop(ctx)
	}
	m.logger.Info().Int("workers", m.config.MaxConcurrent).Msg("job workers started")
}

// Shutdown stops accepting submissions and waits for running jobs to finish
// persisting their state, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates the request, persists a pending job, and enqueues it.
// The returned job snapshot is safe for the caller to retain.
func (m *Manager) Submit(ctx context.Context, req domain.AnalysisRequest) (*domain.Job, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, domain.NewValidationError("request", err.Error())
	}
	for _, s := range req.Sources {
		if !domain.IsValidSourceType(s) {
			return nil, domain.NewValidationError("sources", fmt.Sprintf("unsupported source: %s", s))
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	m.mu.Unlock()

	job := domain.NewJob(req)
	if err := m.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[job.ID] = job.Clone()
	m.mu.Unlock()

	select {
	case m.queue <- job.ID:
	default:
		// The job stays pending in the database; a later Recover run picks
		// it up. Reject so the caller can back off.
		m.failDetached(job.ID, "job queue full")
		return nil, fmt.Errorf("job queue full: %w", domain.ErrRateLimited)
	}

	if m.metrics != nil {
		m.metrics.RecordJobSubmitted()
		m.metrics.SetJobsQueued(len(m.queue))
	}
	m.logger.Info().
		Str("job_id", job.ID.String()).
		Strs("query_terms", req.QueryTerms).
		Int("target_size", req.TargetSize).
		Msg("job submitted")

	return job.Clone(), nil
}

// Get returns a snapshot of the job, reading through to the repository on a
// cache miss.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	m.mu.Lock()
	if job, ok := m.cache[id]; ok {
		snapshot := job.Clone()
		m.mu.Unlock()
		return snapshot, nil
	}
	m.mu.Unlock()

	job, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[id] = job.Clone()
	m.mu.Unlock()
	return job, nil
}

// List returns jobs matching the filter, newest first, with the total count.
func (m *Manager) List(ctx context.Context, filter repository.JobFilter) ([]*domain.Job, int64, error) {
	return m.repo.List(ctx, filter)
}

// Cancel transitions a pending or running job to cancelled and interrupts its
// worker. Cancelling a terminal job returns domain.ErrInvalidTransition.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := m.repo.UpdateStatus(ctx, id, domain.JobStatusCancelled, ""); err != nil {
		return err
	}
	if err := m.refresh(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if m.metrics != nil {
		m.metrics.RecordJobCancelled()
	}
	if m.notifier != nil {
		if snapshot, err := m.Get(ctx, id); err == nil {
			m.notifier.JobCancelled(ctx, snapshot)
		}
	}
	m.logger.Info().Str("job_id", id.String()).Msg("job cancelled")
	return nil
}

// Result returns the persisted result payload of a completed job. A cancelled
// job yields domain.ErrCancelled; any other non-completed state is rejected as
// invalid input.
func (m *Manager) Result(ctx context.Context, id uuid.UUID) ([]byte, error) {
	job, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.JobStatusCancelled {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrCancelled)
	}
	if job.Status != domain.JobStatusCompleted || job.ResultRef == "" {
		return nil, domain.NewValidationError("status", "result is available only for completed jobs")
	}
	return m.store.Get(ctx, job.ResultRef)
}

// Recover replays the persisted job set after a restart. Pending jobs are
// re-enqueued in their original submission order. Jobs found running are
// handled per the recovery policy: failed with a restart diagnostic, or
// re-enqueued for another run.
func (m *Manager) Recover(ctx context.Context) error {
	active, err := m.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}

	var requeued, failed int
	for _, job := range active {
		m.mu.Lock()
		m.cache[job.ID] = job.Clone()
		m.mu.Unlock()

		switch {
		case job.Status == domain.JobStatusPending:
			m.enqueueRecovered(job.ID)
			requeued++
		case m.config.RecoveryPolicy == RecoveryPolicyResume:
			m.enqueueRecovered(job.ID)
			requeued++
		default:
			if err := m.repo.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, "process restarted while job was running"); err != nil {
				m.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to mark interrupted job")
				continue
			}
			if err := m.refresh(ctx, job.ID); err != nil {
				m.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to refresh interrupted job")
			}
			failed++
		}
	}

	if m.metrics != nil {
		m.metrics.SetJobsQueued(len(m.queue))
	}
	m.logger.Info().
		Int("active", len(active)).
		Int("requeued", requeued).
		Int("failed", failed).
		Str("policy", m.config.RecoveryPolicy).
		Msg("job recovery complete")
	return nil
}

func (m *Manager) enqueueRecovered(id uuid.UUID) {
	select {
	case m.queue <- id:
	default:
		m.logger.Warn().Str("job_id", id.String()).Msg("queue full during recovery, job stays pending")
	}
}

func (m *Manager) workerLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-m.queue:
			if m.metrics != nil {
				m.metrics.SetJobsQueued(len(m.queue))
			}
			m.runJob(ctx, id)
		}
	}
}

// runJob drives one job from its queued state to a terminal status. Every
// transition is persisted before the next phase starts.
func (m *Manager) runJob(ctx context.Context, id uuid.UUID) {
	job, err := m.Get(ctx, id)
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", id.String()).Msg("failed to load queued job")
		return
	}
	if job.Status.IsTerminal() {
		// Cancelled while waiting in the queue.
		return
	}

	logger := m.logger.With().Str("job_id", id.String()).Logger()

	if job.Status == domain.JobStatusPending {
		if err := m.repo.UpdateStatus(ctx, id, domain.JobStatusRunning, ""); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				return
			}
			logger.Error().Err(err).Msg("failed to mark job running")
			return
		}
		if err := m.refresh(ctx, id); err != nil {
			logger.Error().Err(err).Msg("failed to refresh running job")
		}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.cancels[id] = cancel
	m.running++
	running := m.running
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SetJobsRunning(running)
	}

	defer func() {
		m.mu.Lock()
		delete(m.cancels, id)
		m.running--
		running := m.running
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.SetJobsRunning(running)
		}
	}()

	start := time.Now()
	m.setProgress(jobCtx, id, "searching sources")

	result, err := m.searcher.Search(jobCtx, search.Request{
		Query:      strings.Join(job.Request.QueryTerms, " "),
		Domain:     job.Request.Domain,
		TargetSize: job.Request.TargetSize,
		Sources:    job.Request.Sources,
	})
	if err != nil {
		m.finishWithError(ctx, jobCtx, id, start, err, logger)
		return
	}

	m.setProgress(jobCtx, id, "analyzing corpus")
	report, err := m.analyzer.Analyze(jobCtx, job.Request, result)
	if err != nil {
		m.finishWithError(ctx, jobCtx, id, start, err, logger)
		return
	}

	m.setProgress(jobCtx, id, "persisting result")
	payload, err := json.Marshal(report)
	if err != nil {
		m.finishWithError(ctx, jobCtx, id, start, fmt.Errorf("marshal report: %w", err), logger)
		return
	}
	key := resultKey(id)
	if _, err := m.store.Put(jobCtx, key, payload, "application/json"); err != nil {
		m.finishWithError(ctx, jobCtx, id, start, fmt.Errorf("persist result: %w", err), logger)
		return
	}

	progress := fmt.Sprintf("aggregated %d papers across %d rounds", len(result.Papers), result.Rounds)
	err = m.repo.Update(ctx, id, func(j *domain.Job) error {
		if !j.Status.CanTransitionTo(domain.JobStatusCompleted) {
			return domain.NewInvalidTransitionError(id.String(), j.Status, domain.JobStatusCompleted)
		}
		now := time.Now().UTC()
		j.Status = domain.JobStatusCompleted
		j.CompletedAt = &now
		j.ResultRef = key
		j.ProgressMessage = progress
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Cancelled after the pipeline finished; the result stays in
			// storage under its durable key but the job keeps its cancelled
			// status.
			return
		}
		logger.Error().Err(err).Msg("failed to mark job completed")
		return
	}
	if err := m.refresh(ctx, id); err != nil {
		logger.Error().Err(err).Msg("failed to refresh completed job")
	}

	duration := time.Since(start)
	if m.metrics != nil {
		m.metrics.RecordJobCompleted(duration.Seconds())
		m.metrics.RecordSearchRounds(result.Rounds)
	}
	if m.notifier != nil {
		if snapshot, err := m.Get(ctx, id); err == nil {
			m.notifier.JobCompleted(ctx, snapshot)
		}
	}
	logger.Info().
		Int("papers", len(result.Papers)).
		Int("rounds", result.Rounds).
		Dur("duration", duration).
		Msg("job completed")
}

// finishWithError settles a job whose pipeline returned an error. A
// cancellation initiated through Cancel has already persisted the terminal
// status, so only genuine failures transition here.
func (m *Manager) finishWithError(ctx, jobCtx context.Context, id uuid.UUID, start time.Time, cause error, logger zerolog.Logger) {
	if jobCtx.Err() != nil {
		if ctx.Err() != nil {
			// Process shutdown. The job stays running in the database and is
			// settled by recovery on the next start.
			logger.Warn().Msg("job interrupted by shutdown")
			return
		}
		logger.Info().Msg("job run stopped after cancellation")
		return
	}

	if err := m.repo.UpdateStatus(ctx, id, domain.JobStatusFailed, cause.Error()); err != nil {
		logger.Error().Err(err).AnErr("cause", cause).Msg("failed to mark job failed")
		return
	}
	if err := m.refresh(ctx, id); err != nil {
		logger.Error().Err(err).Msg("failed to refresh failed job")
	}

	if m.metrics != nil {
		m.metrics.RecordJobFailed(time.Since(start).Seconds())
	}
	if m.notifier != nil {
		if snapshot, err := m.Get(ctx, id); err == nil {
			m.notifier.JobFailed(ctx, snapshot)
		}
	}
	logger.Error().Err(cause).Msg("job failed")
}

// setProgress persists a progress message. Progress only applies to a running
// job; it is advisory, so a failure to persist it never aborts the run.
func (m *Manager) setProgress(ctx context.Context, id uuid.UUID, message string) {
	err := m.repo.Update(ctx, id, func(j *domain.Job) error {
		if j.Status != domain.JobStatusRunning {
			return domain.NewInvalidTransitionError(id.String(), j.Status, j.Status)
		}
		j.ProgressMessage = message
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidTransition) && ctx.Err() == nil {
			m.logger.Warn().Err(err).Str("job_id", id.String()).Msg("failed to persist progress")
		}
		return
	}
	_ = m.refresh(ctx, id)
}

// failDetached marks a job failed outside a request context, e.g. when the
// queue rejects a submission that is already persisted.
func (m *Manager) failDetached(id uuid.UUID, msg string) {
	ctx, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	if err := m.repo.UpdateStatus(ctx, id, domain.JobStatusFailed, msg); err != nil {
		m.logger.Error().Err(err).Str("job_id", id.String()).Msg("failed to settle rejected job")
		return
	}
	m.mu.Lock()
	delete(m.cache, id)
	m.mu.Unlock()
}

// refresh reloads the persisted row into the cache so reads observe exactly
// what a restarted process would.
func (m *Manager) refresh(ctx context.Context, id uuid.UUID) error {
	job, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.cache[id] = job
	m.mu.Unlock()
	return nil
}

// resultKey is the durable storage key of a job's result payload.
func resultKey(id uuid.UUID) string {
	return "results/" + id.String() + ".json"
}
