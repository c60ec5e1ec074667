package enrich

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/papersources"
	"github.com/helixir/paper-aggregation-service/internal/retry"
)

// mockLookupSource is a scriptable LookupSource for tests.
type mockLookupSource struct {
	getByIDFunc func(ctx context.Context, id string) (*domain.Paper, error)
	searchFunc  func(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error)

	getByIDCalls atomic.Int32
	searchCalls  atomic.Int32
}

func (m *mockLookupSource) GetByID(ctx context.Context, id string) (*domain.Paper, error) {
	m.getByIDCalls.Add(1)
	if m.getByIDFunc == nil {
		return nil, domain.NewNotFoundError("paper", id)
	}
	return m.getByIDFunc(ctx, id)
}

func (m *mockLookupSource) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	m.searchCalls.Add(1)
	if m.searchFunc == nil {
		return &papersources.SearchResult{}, nil
	}
	return m.searchFunc(ctx, params)
}

func newTestEnricher(source LookupSource) *Enricher {
	cfg := Config{Retry: retry.NewPolicy(1, time.Second, time.Millisecond)}
	return New(source, cfg, zerolog.Nop())
}

func TestNeedsEnrichment(t *testing.T) {
	date := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	complete := &domain.Paper{
		Identifiers:     domain.Identifiers{DOI: "10.1/x"},
		Title:           "Complete",
		Abstract:        "Has everything.",
		Authors:         []domain.Author{{Name: "A"}},
		PublicationDate: &date,
	}

	t.Run("complete record needs nothing", func(t *testing.T) {
		assert.False(t, NeedsEnrichment(complete))
	})

	t.Run("nil paper needs nothing", func(t *testing.T) {
		assert.False(t, NeedsEnrichment(nil))
	})

	t.Run("each missing field triggers enrichment", func(t *testing.T) {
		missingDOI := *complete
		missingDOI.Identifiers = domain.Identifiers{}
		assert.True(t, NeedsEnrichment(&missingDOI))

		missingAbstract := *complete
		missingAbstract.Abstract = ""
		assert.True(t, NeedsEnrichment(&missingAbstract))

		missingAuthors := *complete
		missingAuthors.Authors = nil
		assert.True(t, NeedsEnrichment(&missingAuthors))

		missingDate := *complete
		missingDate.PublicationDate = nil
		assert.True(t, NeedsEnrichment(&missingDate))
	})
}

func TestEnricher_Enrich(t *testing.T) {
	date := time.Date(2022, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("complete record skips the lookup entirely", func(t *testing.T) {
		source := &mockLookupSource{}
		enricher := newTestEnricher(source)

		paper := &domain.Paper{
			Identifiers:     domain.Identifiers{DOI: "10.1/x"},
			Title:           "Complete",
			Abstract:        "Done.",
			Authors:         []domain.Author{{Name: "A"}},
			PublicationDate: &date,
		}

		require.NoError(t, enricher.Enrich(context.Background(), paper))
		assert.Zero(t, source.getByIDCalls.Load())
		assert.Zero(t, source.searchCalls.Load())
	})

	t.Run("fills missing fields via DOI lookup", func(t *testing.T) {
		source := &mockLookupSource{
			getByIDFunc: func(ctx context.Context, id string) (*domain.Paper, error) {
				assert.Equal(t, "10.1234/abc", id)
				return &domain.Paper{
					Identifiers:     domain.Identifiers{DOI: "10.1234/abc"},
					Title:           "Looked Up",
					Abstract:        "Registry abstract.",
					Authors:         []domain.Author{{Name: "Jane Smith"}},
					PublicationDate: &date,
					PublicationYear: 2022,
				}, nil
			},
		}
		enricher := newTestEnricher(source)

		paper := &domain.Paper{
			Identifiers: domain.Identifiers{DOI: "10.1234/abc"},
			Title:       "Original Title",
		}

		require.NoError(t, enricher.Enrich(context.Background(), paper))
		assert.Equal(t, "Registry abstract.", paper.Abstract)
		require.Len(t, paper.Authors, 1)
		assert.Equal(t, "Jane Smith", paper.Authors[0].Name)
		require.NotNil(t, paper.PublicationDate)
		assert.Equal(t, date, *paper.PublicationDate)
		assert.Equal(t, 2022, paper.PublicationYear)
		// Present fields stay as they were.
		assert.Equal(t, "Original Title", paper.Title)
	})

	t.Run("never overwrites present fields", func(t *testing.T) {
		otherDate := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
		source := &mockLookupSource{
			getByIDFunc: func(ctx context.Context, id string) (*domain.Paper, error) {
				return &domain.Paper{
					Abstract:        "Different abstract.",
					Authors:         []domain.Author{{Name: "Somebody Else"}},
					PublicationDate: &otherDate,
				}, nil
			},
		}
		enricher := newTestEnricher(source)

		paper := &domain.Paper{
			Identifiers:     domain.Identifiers{DOI: "10.1/x"},
			Abstract:        "Original abstract.",
			Authors:         []domain.Author{{Name: "Original Author"}},
			PublicationDate: nil, // only this is missing
		}

		require.NoError(t, enricher.Enrich(context.Background(), paper))
		assert.Equal(t, "Original abstract.", paper.Abstract)
		assert.Equal(t, "Original Author", paper.Authors[0].Name)
		require.NotNil(t, paper.PublicationDate)
		assert.Equal(t, otherDate, *paper.PublicationDate)
	})

	t.Run("missing DOI falls back to exact title match", func(t *testing.T) {
		source := &mockLookupSource{
			searchFunc: func(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
				assert.Equal(t, "Deep Learning Advances", params.Query)
				return &papersources.SearchResult{
					Papers: []*domain.Paper{
						{Title: "A Different Paper Entirely", Identifiers: domain.Identifiers{DOI: "10.9/wrong"}},
						{Title: "Deep learning advances!", Identifiers: domain.Identifiers{DOI: "10.5/right"}, Abstract: "Found it."},
					},
				}, nil
			},
		}
		enricher := newTestEnricher(source)

		paper := &domain.Paper{Title: "Deep Learning Advances"}

		require.NoError(t, enricher.Enrich(context.Background(), paper))
		assert.Equal(t, "10.5/right", paper.DOI)
		assert.Equal(t, "Found it.", paper.Abstract)
	})

	t.Run("no title match leaves record unchanged", func(t *testing.T) {
		source := &mockLookupSource{
			searchFunc: func(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
				return &papersources.SearchResult{
					Papers: []*domain.Paper{{Title: "Unrelated Work"}},
				}, nil
			},
		}
		enricher := newTestEnricher(source)

		paper := &domain.Paper{Title: "My Paper"}

		require.NoError(t, enricher.Enrich(context.Background(), paper))
		assert.Empty(t, paper.DOI)
		assert.Empty(t, paper.Abstract)
	})

	t.Run("not-found lookup is non-fatal", func(t *testing.T) {
		source := &mockLookupSource{
			getByIDFunc: func(ctx context.Context, id string) (*domain.Paper, error) {
				return nil, domain.NewNotFoundError("paper", id)
			},
		}
		enricher := newTestEnricher(source)

		paper := &domain.Paper{Identifiers: domain.Identifiers{DOI: "10.0/missing"}}

		require.NoError(t, enricher.Enrich(context.Background(), paper))
		assert.Equal(t, int32(1), source.getByIDCalls.Load())
	})

	t.Run("lookup failure is reported but leaves record valid", func(t *testing.T) {
		source := &mockLookupSource{
			getByIDFunc: func(ctx context.Context, id string) (*domain.Paper, error) {
				return nil, errors.New("registry down")
			},
		}
		enricher := newTestEnricher(source)

		paper := &domain.Paper{
			Identifiers: domain.Identifiers{DOI: "10.1/x"},
			Title:       "Still Here",
		}

		err := enricher.Enrich(context.Background(), paper)
		require.Error(t, err)
		assert.Equal(t, "Still Here", paper.Title)
	})
}

func TestEnricher_EnrichAll(t *testing.T) {
	t.Run("enriches batch and survives failures", func(t *testing.T) {
		source := &mockLookupSource{
			getByIDFunc: func(ctx context.Context, id string) (*domain.Paper, error) {
				if id == "10.1/fails" {
					return nil, errors.New("registry down")
				}
				return &domain.Paper{Abstract: "abstract for " + id}, nil
			},
		}
		enricher := newTestEnricher(source)

		papers := []*domain.Paper{
			{Identifiers: domain.Identifiers{DOI: "10.1/a"}},
			{Identifiers: domain.Identifiers{DOI: "10.1/fails"}},
			{Identifiers: domain.Identifiers{DOI: "10.1/b"}},
		}

		enricher.EnrichAll(context.Background(), papers)

		assert.Equal(t, "abstract for 10.1/a", papers[0].Abstract)
		assert.Empty(t, papers[1].Abstract)
		assert.Equal(t, "abstract for 10.1/b", papers[2].Abstract)
	})

	t.Run("bounds concurrent lookups", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		source := &mockLookupSource{
			getByIDFunc: func(ctx context.Context, id string) (*domain.Paper, error) {
				current := inFlight.Add(1)
				for {
					observed := peak.Load()
					if current <= observed || peak.CompareAndSwap(observed, current) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				inFlight.Add(-1)
				return &domain.Paper{Abstract: "x"}, nil
			},
		}

		cfg := Config{Concurrency: 2, Retry: retry.NewPolicy(1, time.Second, time.Millisecond)}
		enricher := New(source, cfg, zerolog.Nop())

		papers := make([]*domain.Paper, 8)
		for i := range papers {
			papers[i] = &domain.Paper{Identifiers: domain.Identifiers{DOI: "10.1/" + string(rune('a'+i))}}
		}

		enricher.EnrichAll(context.Background(), papers)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})
}
