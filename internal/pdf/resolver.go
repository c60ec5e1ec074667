package pdf

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/retry"
	"github.com/helixir/paper-aggregation-service/internal/storage"
)

// DefaultResolveConcurrency is the default number of simultaneous
// resolutions during batch processing.
const DefaultResolveConcurrency = 5

// ResolverConfig holds configuration for the resolver.
type ResolverConfig struct {
	// Concurrency bounds simultaneous downloads during batch resolution.
	Concurrency int

	// Retry is the per-candidate download retry policy.
	Retry retry.Policy
}

// applyDefaults sets default values for unset configuration fields.
func (c *ResolverConfig) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultResolveConcurrency
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.NewPolicy(2, 0, 0)
	}
}

// Resolver attaches durable PDF URLs to paper records. For each record it
// walks a candidate URL list, downloads the first working PDF, and persists
// it in storage under the record's durable key. Records whose candidates all
// fail are resolution failures and get dropped by the caller.
type Resolver struct {
	downloader *Downloader
	store      storage.Store
	config     ResolverConfig
	logger     zerolog.Logger

	// candidates is overridable in tests; defaults to CandidateURLs.
	candidates func(*domain.Paper) []string
}

// NewResolver creates a resolver around a downloader and a storage backend.
func NewResolver(downloader *Downloader, store storage.Store, cfg ResolverConfig, logger zerolog.Logger) *Resolver {
	cfg.applyDefaults()

	return &Resolver{
		downloader: downloader,
		store:      store,
		config:     cfg,
		logger:     logger.With().Str("component", "pdf_resolver").Logger(),
		candidates: CandidateURLs,
	}
}

// Resolve attaches a durable PDF URL to the paper. When an object already
// exists under the paper's durable key, its URL is reused without
// re-downloading. Exhausting all candidate URLs yields an error wrapping
// domain.ErrResolutionFailed.
func (r *Resolver) Resolve(ctx context.Context, paper *domain.Paper) error {
	key := paper.DurableKey()

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("checking storage for %s: %w", key, err)
	}
	if exists {
		paper.PDFContentURL = r.store.URL(key)
		return nil
	}

	candidates := r.candidates(paper)
	if len(candidates) == 0 {
		return fmt.Errorf("no candidate URLs for %q: %w", paper.Title, domain.ErrResolutionFailed)
	}

	for _, candidate := range candidates {
		var result *DownloadResult
		err := r.config.Retry.Do(ctx, func(ctx context.Context) error {
			res, err := r.downloader.Download(ctx, candidate)
			if err != nil {
				return err
			}
			result = res
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Debug().
				Err(err).
				Str("url", candidate).
				Str("key", key).
				Msg("candidate download failed")
			continue
		}

		url, err := r.store.Put(ctx, key, result.Content, "application/pdf")
		if err != nil {
			return fmt.Errorf("storing %s: %w", key, err)
		}
		paper.PDFContentURL = url
		return nil
	}

	return fmt.Errorf("all %d candidates failed for %q: %w", len(candidates), paper.Title, domain.ErrResolutionFailed)
}

// ResolveStats summarizes one batch resolution.
type ResolveStats struct {
	// Resolved is how many records secured a durable PDF.
	Resolved int

	// Dropped is how many records were dropped, whatever the cause.
	Dropped int

	// StorageUnavailable is set when the storage backend failed and not a
	// single record got through, the signature of a storage-wide outage.
	StorageUnavailable bool
}

// ResolveAll resolves a batch under the configured concurrency bound and
// returns the records that secured a durable PDF, preserving input order.
// Every failure drops only that record: resolution failures and storage
// failures alike degrade the batch rather than aborting it, and a
// storage-wide outage is reported through the returned stats. Only context
// cancellation returns an error.
func (r *Resolver) ResolveAll(ctx context.Context, papers []*domain.Paper) ([]*domain.Paper, ResolveStats, error) {
	resolved := make([]bool, len(papers))
	errs := make([]error, len(papers))

	sem := make(chan struct{}, r.config.Concurrency)
	var wg sync.WaitGroup

	for i, paper := range papers {
		wg.Add(1)
		go func(i int, p *domain.Paper) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := r.Resolve(ctx, p); err != nil {
				errs[i] = err
				return
			}
			resolved[i] = true
		}(i, paper)
	}

	wg.Wait()

	var stats ResolveStats
	storageFailures := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, ResolveStats{}, err
		}
		stats.Dropped++
		if errors.Is(err, domain.ErrResolutionFailed) {
			r.logger.Info().
				Err(err).
				Str("title", papers[i].Title).
				Msg("record dropped, no PDF secured")
			continue
		}
		storageFailures++
		r.logger.Warn().
			Err(err).
			Str("title", papers[i].Title).
			Msg("record dropped, storage failure")
	}

	survivors := make([]*domain.Paper, 0, len(papers))
	for i, paper := range papers {
		if resolved[i] {
			survivors = append(survivors, paper)
		}
	}
	stats.Resolved = len(survivors)
	stats.StorageUnavailable = storageFailures > 0 && stats.Resolved == 0
	return survivors, stats, nil
}

// CandidateURLs builds the ordered list of URLs to try for a paper: the
// source-reported PDF URL first, then mirror patterns derived from the
// paper's identifiers.
func CandidateURLs(paper *domain.Paper) []string {
	var candidates []string
	seen := make(map[string]bool)

	add := func(url string) {
		if url != "" && !seen[url] {
			seen[url] = true
			candidates = append(candidates, url)
		}
	}

	add(paper.PDFURL)
	if paper.ArXivID != "" {
		add("https://arxiv.org/pdf/" + paper.ArXivID)
	}
	if paper.PMCID != "" {
		add("https://www.ncbi.nlm.nih.gov/pmc/articles/" + paper.PMCID + "/pdf/")
	}

	return candidates
}
