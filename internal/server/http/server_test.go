package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/repository"
	"github.com/helixir/paper-aggregation-service/internal/search"
)

// fakeJobService is a configurable JobService test double.
type fakeJobService struct {
	submitFn func(ctx context.Context, req domain.AnalysisRequest) (*domain.Job, error)
	getFn    func(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	listFn   func(ctx context.Context, filter repository.JobFilter) ([]*domain.Job, int64, error)
	cancelFn func(ctx context.Context, id uuid.UUID) error
	resultFn func(ctx context.Context, id uuid.UUID) ([]byte, error)
}

func (f *fakeJobService) Submit(ctx context.Context, req domain.AnalysisRequest) (*domain.Job, error) {
	return f.submitFn(ctx, req)
}

func (f *fakeJobService) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return f.getFn(ctx, id)
}

func (f *fakeJobService) List(ctx context.Context, filter repository.JobFilter) ([]*domain.Job, int64, error) {
	return f.listFn(ctx, filter)
}

func (f *fakeJobService) Cancel(ctx context.Context, id uuid.UUID) error {
	return f.cancelFn(ctx, id)
}

func (f *fakeJobService) Result(ctx context.Context, id uuid.UUID) ([]byte, error) {
	return f.resultFn(ctx, id)
}

type fakeSearcher struct {
	fn func(ctx context.Context, req search.Request) (*search.Result, error)
}

func (f *fakeSearcher) Search(ctx context.Context, req search.Request) (*search.Result, error) {
	return f.fn(ctx, req)
}

func newTestServer(svc JobService, searcher Searcher) *Server {
	return NewServer(Config{Address: "127.0.0.1:0"}, svc, searcher, nil, nil, zerolog.Nop())
}

func sampleJob() *domain.Job {
	job := domain.NewJob(domain.AnalysisRequest{
		QueryTerms: []string{"crispr", "gene editing"},
		Domain:     "molecular biology",
		TargetSize: 20,
		Sources:    []domain.SourceType{domain.SourceTypePubMed},
	})
	return job
}

func TestSubmitJob(t *testing.T) {
	t.Run("creates job", func(t *testing.T) {
		var captured domain.AnalysisRequest
		svc := &fakeJobService{
			submitFn: func(_ context.Context, req domain.AnalysisRequest) (*domain.Job, error) {
				captured = req
				return domain.NewJob(req), nil
			},
		}
		srv := newTestServer(svc, nil)

		body := `{"query_terms":["crispr"],"domain":"biology","target_size":10,"sources":["pubmed"]}`
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(body)))

		require.Equal(t, http.StatusCreated, rec.Code)

		var resp submitJobResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "pending", resp.Status)
		assert.NotEmpty(t, resp.JobID)

		assert.Equal(t, []string{"crispr"}, captured.QueryTerms)
		assert.Equal(t, 10, captured.TargetSize)
		assert.Equal(t, []domain.SourceType{domain.SourceTypePubMed}, captured.Sources)
	})

	t.Run("rejects empty query terms", func(t *testing.T) {
		srv := newTestServer(&fakeJobService{}, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(`{"target_size":10}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects zero target size", func(t *testing.T) {
		srv := newTestServer(&fakeJobService{}, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(`{"query_terms":["x"]}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects unsupported source", func(t *testing.T) {
		srv := newTestServer(&fakeJobService{}, nil)
		rec := httptest.NewRecorder()
		body := `{"query_terms":["x"],"target_size":5,"sources":["gopher_archive"]}`
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unsupported source")
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		srv := newTestServer(&fakeJobService{}, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString("{not json")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("maps rate limit to 429", func(t *testing.T) {
		svc := &fakeJobService{
			submitFn: func(_ context.Context, _ domain.AnalysisRequest) (*domain.Job, error) {
				return nil, domain.ErrRateLimited
			},
		}
		srv := newTestServer(svc, nil)
		rec := httptest.NewRecorder()
		body := `{"query_terms":["x"],"target_size":5}`
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestGetJob(t *testing.T) {
	job := sampleJob()

	t.Run("found", func(t *testing.T) {
		svc := &fakeJobService{
			getFn: func(_ context.Context, id uuid.UUID) (*domain.Job, error) {
				require.Equal(t, job.ID, id)
				return job, nil
			},
		}
		srv := newTestServer(svc, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID.String(), nil))

		require.Equal(t, http.StatusOK, rec.Code)

		var resp jobStatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, job.ID.String(), resp.JobID)
		assert.Equal(t, "pending", resp.Status)
		require.NotNil(t, resp.Request)
		assert.Equal(t, []string{"crispr", "gene editing"}, resp.Request.QueryTerms)
		assert.Equal(t, []string{"pubmed"}, resp.Request.Sources)
	})

	t.Run("not found", func(t *testing.T) {
		svc := &fakeJobService{
			getFn: func(_ context.Context, _ uuid.UUID) (*domain.Job, error) {
				return nil, domain.NewNotFoundError("job", "x")
			},
		}
		srv := newTestServer(svc, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.New().String(), nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid UUID", func(t *testing.T) {
		srv := newTestServer(&fakeJobService{}, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/not-a-uuid", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestCancelJob(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		svc := &fakeJobService{
			cancelFn: func(_ context.Context, _ uuid.UUID) error { return nil },
		}
		srv := newTestServer(svc, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+uuid.New().String(), nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp cancelJobResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "cancelled", resp.Status)
	})

	t.Run("terminal job conflicts", func(t *testing.T) {
		svc := &fakeJobService{
			cancelFn: func(_ context.Context, _ uuid.UUID) error {
				return domain.NewInvalidTransitionError("x", domain.JobStatusCompleted, domain.JobStatusCancelled)
			},
		}
		srv := newTestServer(svc, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+uuid.New().String(), nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestListJobs(t *testing.T) {
	first := sampleJob()
	second := sampleJob()

	svc := &fakeJobService{
		listFn: func(_ context.Context, filter repository.JobFilter) ([]*domain.Job, int64, error) {
			assert.Equal(t, 25, filter.Limit)
			assert.Equal(t, 10, filter.Offset)
			require.Len(t, filter.Status, 1)
			assert.Equal(t, domain.JobStatusCompleted, filter.Status[0])
			return []*domain.Job{first, second}, 2, nil
		},
	}
	srv := newTestServer(svc, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?page_size=25&offset=10&status=completed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp listJobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalCount)
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, first.ID.String(), resp.Jobs[0].JobID)
}

func TestListJobs_PageSizeBounded(t *testing.T) {
	svc := &fakeJobService{
		listFn: func(_ context.Context, filter repository.JobFilter) ([]*domain.Job, int64, error) {
			assert.Equal(t, maxPageSize, filter.Limit)
			return nil, 0, nil
		},
	}
	srv := newTestServer(svc, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?page_size=9999", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetJobResult(t *testing.T) {
	payload := []byte(`{"paper_count":3}`)

	t.Run("streams payload", func(t *testing.T) {
		svc := &fakeJobService{
			resultFn: func(_ context.Context, _ uuid.UUID) ([]byte, error) { return payload, nil },
		}
		srv := newTestServer(svc, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.New().String()+"/result", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, payload, rec.Body.Bytes())
	})

	t.Run("incomplete job is 400", func(t *testing.T) {
		svc := &fakeJobService{
			resultFn: func(_ context.Context, _ uuid.UUID) ([]byte, error) {
				return nil, domain.NewValidationError("status", "result is available only for completed jobs")
			},
		}
		srv := newTestServer(svc, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+uuid.New().String()+"/result", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSyncSearch(t *testing.T) {
	t.Run("returns ordered papers", func(t *testing.T) {
		searcher := &fakeSearcher{fn: func(_ context.Context, req search.Request) (*search.Result, error) {
			assert.Equal(t, "quantum error correction", req.Query)
			return &search.Result{
				Papers: []*domain.Paper{
					{
						Title:         "Surface Codes",
						CitationCount: 500,
						Source:        domain.SourceTypeArXiv,
						PDFContentURL: "https://store.example/doi_10.1_sc.pdf",
					},
				},
				Rounds:      1,
				UniqueCount: 1,
				SourceStats: map[domain.SourceType]*search.SourceStats{
					domain.SourceTypeArXiv: {RawCount: 3},
				},
			}, nil
		}}
		srv := newTestServer(&fakeJobService{}, searcher)

		rec := httptest.NewRecorder()
		body := `{"query":"quantum error correction","target_size":5}`
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString(body)))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp searchResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Papers, 1)
		assert.Equal(t, "Surface Codes", resp.Papers[0].Title)
		assert.NotEmpty(t, resp.Papers[0].PDFContentURL)
		assert.Equal(t, 3, resp.Sources["arxiv"].RawCount)
	})

	t.Run("requires query", func(t *testing.T) {
		srv := newTestServer(&fakeJobService{}, &fakeSearcher{})
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString(`{}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("all sources down is 502", func(t *testing.T) {
		searcher := &fakeSearcher{fn: func(_ context.Context, _ search.Request) (*search.Result, error) {
			return nil, domain.ErrAllSourcesUnavailable
		}}
		srv := newTestServer(&fakeJobService{}, searcher)
		rec := httptest.NewRecorder()
		body := `{"query":"anything"}`
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewBufferString(body)))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(&fakeJobService{}, nil)

	t.Run("healthz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("readyz", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCorrelationIDHeader(t *testing.T) {
	srv := newTestServer(&fakeJobService{}, nil)

	t.Run("echoes caller header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Correlation-ID", "corr-42")
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "corr-42", rec.Header().Get("X-Correlation-ID"))
	})

	t.Run("generates one when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	})
}

func TestListJobs_InvalidDateFilter(t *testing.T) {
	srv := newTestServer(&fakeJobService{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?created_after=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs_DateFilterPassedThrough(t *testing.T) {
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := &fakeJobService{
		listFn: func(_ context.Context, filter repository.JobFilter) ([]*domain.Job, int64, error) {
			require.NotNil(t, filter.CreatedAfter)
			assert.True(t, filter.CreatedAfter.Equal(after))
			return nil, 0, nil
		},
	}
	srv := newTestServer(svc, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs?created_after=2026-01-01T00:00:00Z", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
