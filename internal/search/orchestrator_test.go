package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/enrich"
	"github.com/helixir/paper-aggregation-service/internal/papersources"
	"github.com/helixir/paper-aggregation-service/internal/pdf"
	"github.com/helixir/paper-aggregation-service/internal/retry"
	"github.com/helixir/paper-aggregation-service/internal/storage"
)

// stubSource is a scriptable PaperSource for orchestrator tests.
type stubSource struct {
	sourceType domain.SourceType
	searchFunc func(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error)
	calls      int
}

func (s *stubSource) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	s.calls++
	return s.searchFunc(ctx, params)
}

func (s *stubSource) GetByID(ctx context.Context, id string) (*domain.Paper, error) {
	return nil, domain.NewNotFoundError("paper", id)
}

func (s *stubSource) SourceType() domain.SourceType { return s.sourceType }
func (s *stubSource) Name() string                  { return string(s.sourceType) }
func (s *stubSource) IsEnabled() bool               { return true }

// nopLookup satisfies enrich.LookupSource without finding anything.
type nopLookup struct{}

func (nopLookup) GetByID(ctx context.Context, id string) (*domain.Paper, error) {
	return nil, domain.NewNotFoundError("paper", id)
}

func (nopLookup) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	return &papersources.SearchResult{}, nil
}

func fixedResult(source domain.SourceType, papers []*domain.Paper) func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
	return func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
		return &papersources.SearchResult{
			Papers:       papers,
			TotalResults: len(papers),
			Source:       source,
		}, nil
	}
}

// newPipeline builds an orchestrator whose PDF resolution runs against an
// in-memory store and a local PDF server. It returns the server's base URL
// so test papers can point their PDFURL at it; /missing.pdf always 404s.
func newPipeline(t *testing.T, registry *papersources.Registry, cfg Config) (*Orchestrator, string) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.pdf" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprint(w, "%PDF-1.4")
	}))
	t.Cleanup(server.Close)

	store := storage.NewMemoryStore()
	downloader := pdf.NewDownloader(pdf.Config{AllowPrivateNetworks: true})
	resolver := pdf.NewResolver(downloader, store, pdf.ResolverConfig{
		Retry: retry.NewPolicy(1, time.Second, time.Millisecond),
	}, zerolog.Nop())
	enricher := enrich.New(nopLookup{}, enrich.Config{
		Retry: retry.NewPolicy(1, time.Second, time.Millisecond),
	}, zerolog.Nop())

	return New(registry, enricher, resolver, nil, cfg, nil, zerolog.Nop()), server.URL
}

func TestOrchestrator_Search_ABCScenario(t *testing.T) {
	// A returns 5 records, two of which share DOIs with B's records.
	// B returns 4 records. C times out. Expected: 7 unique works, C marked
	// unhealthy, run succeeds, final output truncated to targetSize=6 with
	// a durable PDF URL on every record.
	registry := papersources.NewRegistry()

	aPapers := make([]*domain.Paper, 5)
	for i := range aPapers {
		aPapers[i] = &domain.Paper{
			Identifiers:   domain.Identifiers{DOI: fmt.Sprintf("10.1/a%d", i)},
			Title:         fmt.Sprintf("Paper A%d", i),
			CitationCount: 10 - i,
			Source:        "source-a",
		}
	}
	bPapers := []*domain.Paper{
		{Identifiers: domain.Identifiers{DOI: "10.1/a0"}, Title: "Paper A0 via B", CitationCount: 10, Source: "source-b"},
		{Identifiers: domain.Identifiers{DOI: "10.1/a1"}, Title: "Paper A1 via B", CitationCount: 9, Source: "source-b"},
		{Identifiers: domain.Identifiers{DOI: "10.1/b2"}, Title: "Paper B2", CitationCount: 3, Source: "source-b"},
		{Identifiers: domain.Identifiers{DOI: "10.1/b3"}, Title: "Paper B3", CitationCount: 2, Source: "source-b"},
	}

	sourceA := &stubSource{sourceType: "source-a"}
	sourceA.searchFunc = fixedResult("source-a", aPapers)
	sourceB := &stubSource{sourceType: "source-b"}
	sourceB.searchFunc = fixedResult("source-b", bPapers)
	sourceC := &stubSource{
		sourceType: "source-c",
		searchFunc: func(ctx context.Context, _ papersources.SearchParams) (*papersources.SearchResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	registry.Register(sourceA)
	registry.Register(sourceB)
	registry.Register(sourceC)

	orchestrator, base := newPipeline(t, registry, Config{
		MaxRounds:      1,
		AdapterTimeout: 200 * time.Millisecond,
	})

	// Point every paper at the test PDF server.
	for i, p := range aPapers {
		p.PDFURL = fmt.Sprintf("%s/a%d.pdf", base, i)
	}
	for i, p := range bPapers {
		p.PDFURL = fmt.Sprintf("%s/b%d.pdf", base, i)
	}

	result, err := orchestrator.Search(context.Background(), Request{
		Query:      "test query",
		TargetSize: 6,
		Sources:    []domain.SourceType{"source-a", "source-b", "source-c"},
	})

	require.NoError(t, err)
	assert.Equal(t, 7, result.UniqueCount)
	require.Len(t, result.Papers, 6)

	for _, p := range result.Papers {
		assert.NotEmpty(t, p.PDFContentURL, "paper %q must carry a durable URL", p.Title)
	}

	// Ordered by descending citation count.
	for i := 1; i < len(result.Papers); i++ {
		assert.GreaterOrEqual(t, result.Papers[i-1].CitationCount, result.Papers[i].CitationCount)
	}

	assert.True(t, result.SourceStats["source-c"].Unhealthy)
	assert.Equal(t, 1, result.SourceStats["source-c"].Failures)
	assert.Equal(t, 5, result.SourceStats["source-a"].RawCount)
	assert.Equal(t, 4, result.SourceStats["source-b"].RawCount)
}

func TestOrchestrator_Search(t *testing.T) {
	t.Run("empty query is rejected", func(t *testing.T) {
		registry := papersources.NewRegistry()
		orchestrator, _ := newPipeline(t, registry, Config{})

		_, err := orchestrator.Search(context.Background(), Request{Query: "   "})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("all sources failing yields AllSourcesUnavailable", func(t *testing.T) {
		registry := papersources.NewRegistry()
		failing := &stubSource{
			sourceType: "source-x",
			searchFunc: func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
				return nil, errors.New("down")
			},
		}
		registry.Register(failing)

		orchestrator, _ := newPipeline(t, registry, Config{MaxRounds: 3})

		_, err := orchestrator.Search(context.Background(), Request{
			Query:   "anything",
			Sources: []domain.SourceType{"source-x"},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrAllSourcesUnavailable)
		// Degraded after round 1, never retried.
		assert.Equal(t, 1, failing.calls)
	})

	t.Run("stops expanding once target size is reached", func(t *testing.T) {
		registry := papersources.NewRegistry()

		source := &stubSource{sourceType: "source-a"}
		registry.Register(source)

		orchestrator, base := newPipeline(t, registry, Config{MaxRounds: 3})
		source.searchFunc = func(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
			papers := []*domain.Paper{
				{Identifiers: domain.Identifiers{DOI: "10.1/one"}, Title: "One", PDFURL: base + "/one.pdf"},
				{Identifiers: domain.Identifiers{DOI: "10.1/two"}, Title: "Two", PDFURL: base + "/two.pdf"},
			}
			return &papersources.SearchResult{Papers: papers, Source: "source-a"}, nil
		}

		result, err := orchestrator.Search(context.Background(), Request{
			Query:      "q",
			TargetSize: 2,
			Sources:    []domain.SourceType{"source-a"},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Rounds)
		assert.Equal(t, 1, source.calls)
		assert.Len(t, result.Papers, 2)
	})

	t.Run("below-target results trigger refined rounds", func(t *testing.T) {
		registry := papersources.NewRegistry()

		var queries []string
		source := &stubSource{sourceType: "source-a"}
		registry.Register(source)

		orchestrator, base := newPipeline(t, registry, Config{MaxRounds: 3})
		source.searchFunc = func(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
			queries = append(queries, params.Query)
			return &papersources.SearchResult{
				Papers: []*domain.Paper{{
					Identifiers: domain.Identifiers{DOI: "10.1/only"},
					Title:       "Only Result",
					PDFURL:      base + "/only.pdf",
				}},
				Source: "source-a",
			}, nil
		}
		orchestrator.refiner = TermDropRefiner{}

		result, err := orchestrator.Search(context.Background(), Request{
			Query:      "deep learning genomics",
			TargetSize: 10,
			Sources:    []domain.SourceType{"source-a"},
		})

		require.NoError(t, err)
		assert.Equal(t, 3, result.Rounds)
		assert.Equal(t, []string{"deep learning genomics", "deep learning", "deep"}, queries)
		assert.Len(t, result.Papers, 1)
		assert.Equal(t, 1, result.UniqueCount)
	})

	t.Run("records failing PDF resolution are dropped, never emitted bare", func(t *testing.T) {
		registry := papersources.NewRegistry()

		source := &stubSource{sourceType: "source-a"}
		registry.Register(source)

		orchestrator, base := newPipeline(t, registry, Config{MaxRounds: 1})
		source.searchFunc = func(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
			return &papersources.SearchResult{
				Papers: []*domain.Paper{
					{Identifiers: domain.Identifiers{DOI: "10.1/good"}, Title: "Good", PDFURL: base + "/good.pdf"},
					{Identifiers: domain.Identifiers{DOI: "10.1/gone"}, Title: "Gone", PDFURL: base + "/missing.pdf"},
				},
				Source: "source-a",
			}, nil
		}

		result, err := orchestrator.Search(context.Background(), Request{
			Query:      "q",
			TargetSize: 10,
			Sources:    []domain.SourceType{"source-a"},
		})

		require.NoError(t, err)
		assert.Equal(t, 2, result.UniqueCount)
		assert.Equal(t, 1, result.Dropped)
		require.Len(t, result.Papers, 1)
		assert.Equal(t, "Good", result.Papers[0].Title)
		assert.NotEmpty(t, result.Papers[0].PDFContentURL)
	})

	t.Run("storage outage completes the run without PDFs", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			fmt.Fprint(w, "%PDF-1.4")
		}))
		defer server.Close()

		registry := papersources.NewRegistry()
		source := &stubSource{sourceType: "source-a"}
		source.searchFunc = fixedResult("source-a", []*domain.Paper{
			{Identifiers: domain.Identifiers{DOI: "10.1/a"}, Title: "A", PDFURL: server.URL + "/a.pdf"},
			{Identifiers: domain.Identifiers{DOI: "10.1/b"}, Title: "B", PDFURL: server.URL + "/b.pdf"},
		})
		registry.Register(source)

		downloader := pdf.NewDownloader(pdf.Config{AllowPrivateNetworks: true})
		resolver := pdf.NewResolver(downloader, downStore{}, pdf.ResolverConfig{
			Retry: retry.NewPolicy(1, time.Second, time.Millisecond),
		}, zerolog.Nop())
		orchestrator := New(registry, nil, resolver, nil, Config{MaxRounds: 1}, nil, zerolog.Nop())

		result, err := orchestrator.Search(context.Background(), Request{
			Query:      "q",
			TargetSize: 10,
			Sources:    []domain.SourceType{"source-a"},
		})

		require.NoError(t, err)
		assert.Empty(t, result.Papers)
		assert.Equal(t, 2, result.UniqueCount)
		assert.Equal(t, 2, result.Dropped)
		assert.True(t, result.StorageUnavailable)
	})

	t.Run("cancellation is observed at phase boundaries", func(t *testing.T) {
		registry := papersources.NewRegistry()
		source := &stubSource{sourceType: "source-a"}
		source.searchFunc = fixedResult("source-a", []*domain.Paper{
			{Identifiers: domain.Identifiers{DOI: "10.1/x"}, Title: "X"},
		})
		registry.Register(source)

		orchestrator, _ := newPipeline(t, registry, Config{MaxRounds: 1})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := orchestrator.Search(ctx, Request{
			Query:   "q",
			Sources: []domain.SourceType{"source-a"},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("identical inputs produce identical output order", func(t *testing.T) {
		run := func() []string {
			registry := papersources.NewRegistry()
			base := ""

			mk := func(st domain.SourceType, dois ...string) *stubSource {
				s := &stubSource{sourceType: st}
				s.searchFunc = func(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
					papers := make([]*domain.Paper, len(dois))
					for i, doi := range dois {
						papers[i] = &domain.Paper{
							Identifiers:   domain.Identifiers{DOI: doi},
							Title:         doi,
							CitationCount: 5, // all tied: order must come from insertion
							PDFURL:        base + "/" + doi[5:] + ".pdf",
						}
					}
					return &papersources.SearchResult{Papers: papers, Source: st}, nil
				}
				return s
			}
			registry.Register(mk("source-a", "10.1/r1", "10.1/r2"))
			registry.Register(mk("source-b", "10.1/r3", "10.1/r4"))

			orchestrator, b := newPipeline(t, registry, Config{MaxRounds: 1})
			base = b

			result, err := orchestrator.Search(context.Background(), Request{
				Query:      "q",
				TargetSize: 10,
				Sources:    []domain.SourceType{"source-a", "source-b"},
			})
			require.NoError(t, err)

			titles := make([]string, len(result.Papers))
			for i, p := range result.Papers {
				titles[i] = p.Title
			}
			return titles
		}

		first := run()
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, run())
		}
	})
}

// downStore fails every backend call the way an unreachable bucket does.
type downStore struct{}

func (downStore) Exists(context.Context, string) (bool, error) {
	return false, errors.Join(domain.ErrStorageUnavailable, errors.New("connection refused"))
}

func (downStore) Put(context.Context, string, []byte, string) (string, error) {
	return "", errors.Join(domain.ErrStorageUnavailable, errors.New("connection refused"))
}

func (downStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.Join(domain.ErrStorageUnavailable, errors.New("connection refused"))
}

func (downStore) URL(key string) string { return "s3://unreachable/" + key }

func TestTermDropRefiner(t *testing.T) {
	refiner := TermDropRefiner{}

	query, err := refiner.Refine(context.Background(), "a b c", 2)
	require.NoError(t, err)
	assert.Equal(t, "a b", query)

	query, err = refiner.Refine(context.Background(), "single", 2)
	require.NoError(t, err)
	assert.Equal(t, "single", query)
}
