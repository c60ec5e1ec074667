// Package search implements the round-based fan-out orchestrator that turns
// a query into an ordered list of unique, enriched papers with durable PDF
// copies.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-aggregation-service/internal/dedup"
	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/enrich"
	"github.com/helixir/paper-aggregation-service/internal/observability"
	"github.com/helixir/paper-aggregation-service/internal/papersources"
	"github.com/helixir/paper-aggregation-service/internal/pdf"
)

const (
	// DefaultMaxRounds bounds query expansion.
	DefaultMaxRounds = 3

	// DefaultAdapterTimeout bounds each source call within a round.
	DefaultAdapterTimeout = 30 * time.Second

	// DefaultTargetSize is the result size when the request names none.
	DefaultTargetSize = 25
)

// Config holds orchestrator configuration.
type Config struct {
	// MaxRounds is the maximum number of expansion rounds.
	MaxRounds int

	// AdapterTimeout bounds each source search within a round.
	AdapterTimeout time.Duration

	// DefaultTargetSize is used when a request does not set TargetSize.
	DefaultTargetSize int

	// SourcePriority is the default confidence order for merging. A request
	// naming an explicit source list overrides it.
	SourcePriority []domain.SourceType
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = DefaultAdapterTimeout
	}
	if c.DefaultTargetSize <= 0 {
		c.DefaultTargetSize = DefaultTargetSize
	}
}

// Request describes one search run.
type Request struct {
	// Query is the primary query string.
	Query string

	// Domain optionally narrows the query to a research area; it is
	// appended to the query terms.
	Domain string

	// TargetSize is the desired number of final results.
	TargetSize int

	// Sources restricts the run to these sources, in confidence order.
	// Empty means every enabled source, in the configured priority order.
	Sources []domain.SourceType
}

// SourceStats is the per-source diagnostic record of a run.
type SourceStats struct {
	// RawCount is how many raw records the source returned across rounds.
	RawCount int

	// Failures counts failed round calls.
	Failures int

	// Unhealthy is set once the source is skipped for the rest of the run.
	Unhealthy bool
}

// Result is the outcome of a search run.
type Result struct {
	// Papers is the final ordered list; every entry carries a durable PDF
	// content URL.
	Papers []*domain.Paper

	// Rounds is how many expansion rounds ran.
	Rounds int

	// UniqueCount is the size of the deduplicated set before PDF
	// resolution.
	UniqueCount int

	// Dropped is how many unique records failed PDF resolution.
	Dropped int

	// StorageUnavailable is set when the storage backend was down and no
	// PDF could be secured; the run still completes with what it has.
	StorageUnavailable bool

	// SourceStats holds per-source diagnostics.
	SourceStats map[domain.SourceType]*SourceStats
}

// Orchestrator drives the pipeline: fan-out to sources, deduplication,
// enrichment, PDF resolution, final ordering.
type Orchestrator struct {
	registry *papersources.Registry
	enricher *enrich.Enricher
	resolver *pdf.Resolver
	refiner  QueryRefiner
	config   Config
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// New creates an orchestrator. A nil refiner falls back to NoopRefiner, a nil
// enricher skips the enrichment stage, and a nil metrics recorder disables
// instrumentation.
func New(
	registry *papersources.Registry,
	enricher *enrich.Enricher,
	resolver *pdf.Resolver,
	refiner QueryRefiner,
	cfg Config,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	if refiner == nil {
		refiner = NoopRefiner{}
	}

	return &Orchestrator{
		registry: registry,
		enricher: enricher,
		resolver: resolver,
		refiner:  refiner,
		config:   cfg,
		metrics:  metrics,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Search runs the full pipeline and returns the ordered final list. It fails
// only when every source fails (domain.ErrAllSourcesUnavailable) or on
// context cancellation; individual source failures degrade that source for
// the rest of the run, and storage failures drop records rather than the run,
// flagged on the result when the backend was down entirely.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Result, error) {
	query := strings.TrimSpace(strings.TrimSpace(req.Query) + " " + strings.TrimSpace(req.Domain))
	if query == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}

	targetSize := req.TargetSize
	if targetSize <= 0 {
		targetSize = o.config.DefaultTargetSize
	}

	sourceOrder := o.sourceOrder(req)
	if len(sourceOrder) == 0 {
		return nil, domain.ErrAllSourcesUnavailable
	}

	engine := dedup.NewEngine(sourceOrder)
	stats := make(map[domain.SourceType]*SourceStats, len(sourceOrder))
	for _, s := range sourceOrder {
		stats[s] = &SourceStats{}
	}

	healthy := append([]domain.SourceType(nil), sourceOrder...)
	anySucceeded := false
	rounds := 0

	for round := 1; round <= o.config.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(healthy) == 0 {
			break
		}

		rounds = round
		o.logger.Debug().
			Int("round", round).
			Str("query", query).
			Int("sources", len(healthy)).
			Msg("starting expansion round")

		healthy = o.runRound(ctx, query, targetSize, healthy, engine, stats, &anySucceeded)

		if engine.Count() >= targetSize {
			break
		}
		if round < o.config.MaxRounds {
			refined, err := o.refiner.Refine(ctx, query, round+1)
			if err != nil {
				o.logger.Warn().Err(err).Msg("query refinement failed, reusing current query")
			} else if refined != "" {
				query = refined
			}
		}
	}

	if !anySucceeded {
		return nil, fmt.Errorf("no source produced results: %w", domain.ErrAllSourcesUnavailable)
	}

	unique := engine.All()
	uniqueCount := len(unique)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.enricher != nil {
		o.enricher.EnrichAll(ctx, unique)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	survivors, resolveStats, err := o.resolver.ResolveAll(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("pdf resolution: %w", err)
	}
	if resolveStats.StorageUnavailable {
		o.logger.Warn().
			Int("unique", uniqueCount).
			Msg("storage backend unavailable, run completes without PDFs")
	}

	orderResults(survivors)
	if len(survivors) > targetSize {
		survivors = survivors[:targetSize]
	}

	o.logger.Info().
		Int("rounds", rounds).
		Int("unique", uniqueCount).
		Int("final", len(survivors)).
		Msg("search run complete")

	return &Result{
		Papers:             survivors,
		Rounds:             rounds,
		UniqueCount:        uniqueCount,
		Dropped:            uniqueCount - len(survivors),
		StorageUnavailable: resolveStats.StorageUnavailable,
		SourceStats:        stats,
	}, nil
}

// runRound fans the query out to the healthy sources and folds the results
// into the engine. It returns the sources still healthy afterwards.
func (o *Orchestrator) runRound(
	ctx context.Context,
	query string,
	targetSize int,
	healthy []domain.SourceType,
	engine *dedup.Engine,
	stats map[domain.SourceType]*SourceStats,
	anySucceeded *bool,
) []domain.SourceType {
	roundCtx, cancel := context.WithTimeout(ctx, o.config.AdapterTimeout)
	defer cancel()

	for _, s := range healthy {
		o.recordSearchStarted(s)
	}
	started := time.Now()

	results := o.registry.SearchSources(roundCtx, papersources.SearchParams{
		Query:      query,
		MaxResults: targetSize,
	}, healthy)

	// Fold results in request order so insertion order, and with it the
	// final tie-break order, is reproducible for identical inputs.
	byType := make(map[domain.SourceType]papersources.SourceResult, len(results))
	for _, r := range results {
		byType[r.Source] = r
	}

	elapsed := time.Since(started).Seconds()
	next := make([]domain.SourceType, 0, len(healthy))
	for _, s := range healthy {
		r, ok := byType[s]
		if !ok {
			// Source missing from the registry; drop it from the run.
			stats[s].Unhealthy = true
			continue
		}
		if r.Error != nil {
			stats[s].Failures++
			stats[s].Unhealthy = true
			o.recordSearchFailed(s, elapsed)
			o.logger.Warn().
				Err(r.Error).
				Str("source", string(s)).
				Msg("source degraded for remainder of run")
			continue
		}

		*anySucceeded = true
		stats[s].RawCount += len(r.Result.Papers)
		o.recordSearchCompleted(s, len(r.Result.Papers), elapsed)

		added := engine.Add(r.Result.Papers)
		o.recordDuplicates(len(r.Result.Papers) - added)

		next = append(next, s)
	}

	return next
}

// sourceOrder resolves the run's source list and confidence order.
func (o *Orchestrator) sourceOrder(req Request) []domain.SourceType {
	if len(req.Sources) > 0 {
		return append([]domain.SourceType(nil), req.Sources...)
	}

	enabled := make(map[domain.SourceType]bool)
	for _, s := range o.registry.EnabledSources() {
		enabled[s.SourceType()] = true
	}

	// Configured priority first, then any enabled source it does not name.
	order := make([]domain.SourceType, 0, len(enabled))
	for _, s := range o.config.SourcePriority {
		if enabled[s] {
			order = append(order, s)
			delete(enabled, s)
		}
	}
	remainder := make([]domain.SourceType, 0, len(enabled))
	for s := range enabled {
		remainder = append(remainder, s)
	}
	sort.Slice(remainder, func(i, j int) bool { return remainder[i] < remainder[j] })
	return append(order, remainder...)
}

// orderResults sorts by descending citation count, stable so that equal
// counts keep their first-seen order.
func orderResults(papers []*domain.Paper) {
	sort.SliceStable(papers, func(i, j int) bool {
		return papers[i].CitationCount > papers[j].CitationCount
	})
}

func (o *Orchestrator) recordSearchStarted(s domain.SourceType) {
	if o.metrics != nil {
		o.metrics.RecordSearchStarted(string(s))
	}
}

func (o *Orchestrator) recordSearchCompleted(s domain.SourceType, count int, seconds float64) {
	if o.metrics != nil {
		o.metrics.RecordSearchCompleted(string(s), count, seconds)
	}
}

func (o *Orchestrator) recordSearchFailed(s domain.SourceType, seconds float64) {
	if o.metrics != nil {
		o.metrics.RecordSearchFailed(string(s), seconds)
	}
}

func (o *Orchestrator) recordDuplicates(count int) {
	if o.metrics != nil && count > 0 {
		o.metrics.RecordPaperDuplicates(count)
	}
}
