package httpserver

import (
	"time"

	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/search"
)

// Job response types for JSON serialization.

type submitJobResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Message   string    `json:"message"`
}

type jobStatusResponse struct {
	JobID           string           `json:"job_id"`
	Status          string           `json:"status"`
	ProgressMessage string           `json:"progress_message,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Duration        string           `json:"duration,omitempty"`
	Request         *requestResponse `json:"request,omitempty"`
	ResultRef       string           `json:"result_ref,omitempty"`
}

type requestResponse struct {
	QueryTerms []string `json:"query_terms"`
	Domain     string   `json:"domain,omitempty"`
	TargetSize int      `json:"target_size"`
	Sources    []string `json:"sources,omitempty"`
}

type jobSummaryResponse struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	QueryTerms  []string   `json:"query_terms"`
	TargetSize  int        `json:"target_size"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
}

type listJobsResponse struct {
	Jobs       []jobSummaryResponse `json:"jobs"`
	TotalCount int                  `json:"total_count"`
}

type cancelJobResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type paperResponse struct {
	Title           string           `json:"title"`
	Abstract        string           `json:"abstract,omitempty"`
	Authors         []authorResponse `json:"authors,omitempty"`
	DOI             string           `json:"doi,omitempty"`
	ArXivID         string           `json:"arxiv_id,omitempty"`
	PublicationDate *time.Time       `json:"publication_date,omitempty"`
	PublicationYear int              `json:"publication_year,omitempty"`
	Venue           string           `json:"venue,omitempty"`
	CitationCount   int              `json:"citation_count"`
	Source          string           `json:"source"`
	MergedFrom      []string         `json:"merged_from_sources,omitempty"`
	PDFContentURL   string           `json:"pdf_content_url"`
	OpenAccess      bool             `json:"is_open_access"`
}

type authorResponse struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

type sourceStatsResponse struct {
	RawCount  int  `json:"raw_count"`
	Failures  int  `json:"failures"`
	Unhealthy bool `json:"unhealthy"`
}

type searchResponse struct {
	Papers             []paperResponse                `json:"papers"`
	Rounds             int                            `json:"rounds"`
	UniqueCount        int                            `json:"unique_count"`
	Dropped            int                            `json:"dropped"`
	StorageUnavailable bool                           `json:"storage_unavailable,omitempty"`
	Sources            map[string]sourceStatsResponse `json:"sources"`
}

// Converter functions

func domainJobToStatusResponse(j *domain.Job) jobStatusResponse {
	resp := jobStatusResponse{
		JobID:           j.ID.String(),
		Status:          string(j.Status),
		ProgressMessage: j.ProgressMessage,
		ErrorMessage:    j.ErrorMessage,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		ResultRef:       j.ResultRef,
		Request: &requestResponse{
			QueryTerms: j.Request.QueryTerms,
			Domain:     j.Request.Domain,
			TargetSize: j.Request.TargetSize,
			Sources:    sourceNames(j.Request.Sources),
		},
	}
	if d := j.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func domainJobToSummary(j *domain.Job) jobSummaryResponse {
	resp := jobSummaryResponse{
		JobID:       j.ID.String(),
		Status:      string(j.Status),
		QueryTerms:  j.Request.QueryTerms,
		TargetSize:  j.Request.TargetSize,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
	if d := j.Duration(); d > 0 {
		resp.Duration = d.String()
	}
	return resp
}

func searchResultToResponse(result *search.Result) searchResponse {
	papers := make([]paperResponse, len(result.Papers))
	for i, p := range result.Papers {
		papers[i] = domainPaperToResponse(p)
	}

	sources := make(map[string]sourceStatsResponse, len(result.SourceStats))
	for source, stats := range result.SourceStats {
		sources[string(source)] = sourceStatsResponse{
			RawCount:  stats.RawCount,
			Failures:  stats.Failures,
			Unhealthy: stats.Unhealthy,
		}
	}

	return searchResponse{
		Papers:             papers,
		Rounds:             result.Rounds,
		UniqueCount:        result.UniqueCount,
		Dropped:            result.Dropped,
		StorageUnavailable: result.StorageUnavailable,
		Sources:            sources,
	}
}

func domainPaperToResponse(p *domain.Paper) paperResponse {
	authors := make([]authorResponse, len(p.Authors))
	for i, a := range p.Authors {
		authors[i] = authorResponse{
			Name:        a.Name,
			Affiliation: a.Affiliation,
			ORCID:       a.ORCID,
		}
	}
	return paperResponse{
		Title:           p.Title,
		Abstract:        p.Abstract,
		Authors:         authors,
		DOI:             p.DOI,
		ArXivID:         p.ArXivID,
		PublicationDate: p.PublicationDate,
		PublicationYear: p.PublicationYear,
		Venue:           p.Venue,
		CitationCount:   p.CitationCount,
		Source:          string(p.Source),
		MergedFrom:      sourceNames(p.MergedFrom),
		PDFContentURL:   p.PDFContentURL,
		OpenAccess:      p.OpenAccess,
	}
}

func sourceNames(sources []domain.SourceType) []string {
	if len(sources) == 0 {
		return nil
	}
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	return names
}
