// Package domain provides domain models and business rules for the paper
// aggregation service.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle states of an asynchronous analysis job.
// These values must match the database enum job_status.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal returns true if the status is a sink that will never change.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// jobTransitions defines the allowed status transitions. Terminal states have
// no outgoing edges, which makes status monotonic along
// pending -> running -> terminal.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusRunning, JobStatusFailed, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed, JobStatusCancelled},
}

// CanTransitionTo reports whether a transition from s to next is legal.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AnalysisRequest holds the parameters of one aggregation/analysis run.
type AnalysisRequest struct {
	// QueryTerms are the search terms fanned out to every source adapter.
	QueryTerms []string `json:"query_terms" validate:"required,min=1,dive,required"`
	// Domain is the research domain used for source-side filtering and
	// query refinement context.
	Domain string `json:"domain,omitempty"`
	// TargetSize is the number of fully resolved papers the caller wants.
	TargetSize int `json:"target_size" validate:"required,gt=0,lte=500"`
	// Sources restricts which adapters are queried. Empty means all
	// enabled sources, in their configured priority order.
	Sources []SourceType `json:"sources,omitempty"`
}

// Job tracks one asynchronous orchestration run through its persisted state
// machine. Jobs are owned exclusively by the lifecycle manager; every field
// mutation goes through it and is durably persisted before being observable.
type Job struct {
	ID              uuid.UUID       `json:"job_id"`
	Request         AnalysisRequest `json:"request"`
	Status          JobStatus       `json:"status"`
	ProgressMessage string          `json:"progress_message,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	// ResultRef points at the persisted result payload (a storage key);
	// set only when the job completes.
	ResultRef string `json:"result_ref,omitempty"`
}

// NewJob creates a pending job for the given request with a fresh ID.
func NewJob(req AnalysisRequest) *Job {
	return &Job{
		ID:              uuid.New(),
		Request:         req,
		Status:          JobStatusPending,
		ProgressMessage: "job queued for processing",
		CreatedAt:       time.Now().UTC(),
	}
}

// Clone returns a deep copy of the job, safe to hand to callers without
// exposing the manager's internal state to mutation.
func (j *Job) Clone() *Job {
	cp := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Request.QueryTerms = append([]string(nil), j.Request.QueryTerms...)
	cp.Request.Sources = append([]SourceType(nil), j.Request.Sources...)
	return &cp
}

// Duration returns the wall-clock processing time for finished jobs, or zero
// if the job has not both started and completed.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
