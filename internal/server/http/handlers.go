package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/repository"
	"github.com/helixir/paper-aggregation-service/internal/search"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxQueryTerms      = 50
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// submitJobRequest is the JSON request body for submitting an aggregation job.
type submitJobRequest struct {
	QueryTerms []string `json:"query_terms"`
	Domain     string   `json:"domain,omitempty"`
	TargetSize int      `json:"target_size"`
	Sources    []string `json:"sources,omitempty"`
}

// syncSearchRequest is the JSON request body for a synchronous search.
type syncSearchRequest struct {
	Query      string   `json:"query"`
	Domain     string   `json:"domain,omitempty"`
	TargetSize int      `json:"target_size,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// submitJob handles POST /jobs. It persists a pending job and enqueues it for
// asynchronous processing.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req submitJobRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if len(req.QueryTerms) == 0 {
		writeError(w, http.StatusBadRequest, "query_terms is required")
		return
	}
	if len(req.QueryTerms) > maxQueryTerms {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("query_terms must have at most %d entries", maxQueryTerms))
		return
	}
	if req.TargetSize <= 0 {
		writeError(w, http.StatusBadRequest, "target_size must be positive")
		return
	}

	sources, ok := parseSources(w, req.Sources)
	if !ok {
		return
	}

	job, err := s.jobService.Submit(ctx, domain.AnalysisRequest{
		QueryTerms: req.QueryTerms,
		Domain:     req.Domain,
		TargetSize: req.TargetSize,
		Sources:    sources,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitJobResponse{
		JobID:     job.ID.String(),
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
		Message:   "aggregation job accepted",
	})
}

// getJob handles GET /jobs/{jobID}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	job, err := s.jobService.Get(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainJobToStatusResponse(job))
}

// cancelJob handles DELETE /jobs/{jobID}.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	if err := s.jobService.Cancel(r.Context(), jobID); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "job is already in a terminal state")
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cancelJobResponse{
		Success: true,
		Message: "cancellation requested",
		Status:  string(domain.JobStatusCancelled),
	})
}

// listJobs handles GET /jobs. Results are ordered newest first.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.JobFilter{
		Limit:  limit,
		Offset: offset,
	}

	if statusParam := r.URL.Query().Get("status"); statusParam != "" {
		filter.Status = []domain.JobStatus{domain.JobStatus(statusParam)}
	}
	if createdAfter := r.URL.Query().Get("created_after"); createdAfter != "" {
		t, parseErr := time.Parse(time.RFC3339, createdAfter)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_after format: expected RFC3339")
			return
		}
		filter.CreatedAfter = &t
	}
	if createdBefore := r.URL.Query().Get("created_before"); createdBefore != "" {
		t, parseErr := time.Parse(time.RFC3339, createdBefore)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, "invalid created_before format: expected RFC3339")
			return
		}
		filter.CreatedBefore = &t
	}

	jobs, totalCount, err := s.jobService.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]jobSummaryResponse, len(jobs))
	for i, job := range jobs {
		summaries[i] = domainJobToSummary(job)
	}

	writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:       summaries,
		TotalCount: int(totalCount),
	})
}

// getJobResult handles GET /jobs/{jobID}/result. The persisted payload is
// streamed back verbatim; only completed jobs have one.
func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID, ok := parseUUID(w, chi.URLParam(r, "jobID"), "job_id")
	if !ok {
		return
	}

	payload, err := s.jobService.Result(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// syncSearch handles POST /search. It runs the full aggregation pipeline
// inline and returns the ordered result, without creating a job.
func (s *Server) syncSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req syncSearchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	sources, ok := parseSources(w, req.Sources)
	if !ok {
		return
	}

	result, err := s.searcher.Search(ctx, search.Request{
		Query:      req.Query,
		Domain:     req.Domain,
		TargetSize: req.TargetSize,
		Sources:    sources,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResultToResponse(result))
}

// parseSources validates and converts source name strings. It writes a 400
// response and returns false on the first unsupported name.
func parseSources(w http.ResponseWriter, names []string) ([]domain.SourceType, bool) {
	if len(names) == 0 {
		return nil, true
	}
	sources := make([]domain.SourceType, len(names))
	for i, name := range names {
		st := domain.SourceType(name)
		if !domain.IsValidSourceType(st) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported source: %s", name))
			return nil, false
		}
		sources[i] = st
	}
	return sources, true
}

// writeDomainError maps domain errors to appropriate HTTP status codes and
// writes a JSON error response. Internal error details are not leaked.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid job state for this operation")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrAllSourcesUnavailable):
		writeError(w, http.StatusBadGateway, "all paper sources unavailable")
	case errors.Is(err, domain.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and offset from query parameters,
// bounding the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed > 0 {
			offset = parsed
		}
	}

	return limit, offset
}
