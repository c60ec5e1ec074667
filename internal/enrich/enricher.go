// Package enrich fills missing metadata fields on merged paper records by
// consulting a secondary lookup source, typically the DOI registry.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/papersources"
	"github.com/helixir/paper-aggregation-service/internal/retry"
)

const (
	// DefaultConcurrency is the default number of simultaneous lookups.
	DefaultConcurrency = 5

	// titleLookupResults is how many candidates a title search requests.
	titleLookupResults = 5
)

// LookupSource is the secondary source consulted for missing fields.
// It is satisfied by any paper source client that supports DOI fetch and
// title search.
type LookupSource interface {
	GetByID(ctx context.Context, id string) (*domain.Paper, error)
	Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error)
}

// Config holds configuration for the enricher.
type Config struct {
	// Concurrency bounds simultaneous lookups during batch enrichment.
	Concurrency int

	// Retry is the per-lookup retry policy.
	Retry retry.Policy
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.NewPolicy(2, 0, 0)
	}
}

// Enricher fills missing required fields on paper records. It never
// overwrites a field the record already carries, and a failed lookup leaves
// the record unchanged.
type Enricher struct {
	source LookupSource
	config Config
	logger zerolog.Logger
}

// New creates an enricher backed by the given lookup source.
func New(source LookupSource, cfg Config, logger zerolog.Logger) *Enricher {
	cfg.applyDefaults()

	return &Enricher{
		source: source,
		config: cfg,
		logger: logger.With().Str("component", "enricher").Logger(),
	}
}

// NeedsEnrichment reports whether any of the required fields (DOI, abstract,
// authors, publication date) is missing from the paper.
func NeedsEnrichment(p *domain.Paper) bool {
	if p == nil {
		return false
	}
	return p.DOI == "" || p.Abstract == "" || len(p.Authors) == 0 || p.PublicationDate == nil
}

// Enrich fills the paper's missing required fields from the lookup source.
// Records that need nothing are returned untouched without a lookup. A
// lookup failure is returned to the caller but the paper is left valid, so
// callers treat the error as advisory.
func (e *Enricher) Enrich(ctx context.Context, paper *domain.Paper) error {
	if !NeedsEnrichment(paper) {
		return nil
	}

	found, err := e.lookup(ctx, paper)
	if err != nil {
		return fmt.Errorf("enrichment lookup: %w", err)
	}
	if found == nil {
		return nil
	}

	fillMissing(paper, found)
	return nil
}

// EnrichAll enriches a batch of papers under the configured concurrency
// bound. Lookup failures are logged and skipped; the batch always completes
// with every record still present.
func (e *Enricher) EnrichAll(ctx context.Context, papers []*domain.Paper) {
	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for _, paper := range papers {
		if !NeedsEnrichment(paper) {
			continue
		}

		wg.Add(1)
		go func(p *domain.Paper) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := e.Enrich(ctx, p); err != nil {
				e.logger.Warn().
					Err(err).
					Str("title", p.Title).
					Str("doi", p.DOI).
					Msg("enrichment failed, record proceeds unenriched")
			}
		}(paper)
	}

	wg.Wait()
}

// lookup fetches the secondary record by DOI when one is present, otherwise
// by title search with an exact normalized-title match guard.
func (e *Enricher) lookup(ctx context.Context, paper *domain.Paper) (*domain.Paper, error) {
	if paper.DOI != "" {
		return e.lookupByDOI(ctx, paper.DOI)
	}
	if paper.Title != "" {
		return e.lookupByTitle(ctx, paper.Title)
	}
	return nil, nil
}

func (e *Enricher) lookupByDOI(ctx context.Context, doi string) (*domain.Paper, error) {
	var found *domain.Paper
	err := e.config.Retry.Do(ctx, func(ctx context.Context) error {
		p, err := e.source.GetByID(ctx, doi)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return retry.MarkPermanent(err)
			}
			return err
		}
		found = p
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return found, nil
}

func (e *Enricher) lookupByTitle(ctx context.Context, title string) (*domain.Paper, error) {
	var result *papersources.SearchResult
	err := e.config.Retry.Do(ctx, func(ctx context.Context) error {
		r, err := e.source.Search(ctx, papersources.SearchParams{
			Query:      title,
			MaxResults: titleLookupResults,
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Only trust a candidate whose normalized title matches exactly.
	// Fuzzy matches risk welding unrelated works together.
	want := domain.TitleHash(title)
	for _, candidate := range result.Papers {
		if candidate != nil && domain.TitleHash(candidate.Title) == want {
			return candidate, nil
		}
	}
	return nil, nil
}

// fillMissing copies the required fields from the looked-up record into the
// paper, only where the paper has none.
func fillMissing(paper, found *domain.Paper) {
	if paper.DOI == "" && found.DOI != "" {
		paper.DOI = domain.NormalizeDOI(found.DOI)
	}
	if paper.Abstract == "" {
		paper.Abstract = found.Abstract
	}
	if len(paper.Authors) == 0 {
		paper.Authors = found.Authors
	}
	if paper.PublicationDate == nil && found.PublicationDate != nil {
		date := *found.PublicationDate
		paper.PublicationDate = &date
	}
	if paper.PublicationYear == 0 {
		paper.PublicationYear = found.PublicationYear
	}
}
