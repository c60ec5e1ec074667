package search

import (
	"context"
	"strings"
)

// QueryRefiner produces a broadened query for the next expansion round when
// the current round did not yield enough unique results. Implementations may
// call external services; the orchestrator works with any of them, including
// the identity refiner.
type QueryRefiner interface {
	// Refine returns the query to use for the given round (2-based: round 1
	// always uses the original query). Returning the input unchanged is
	// valid and means no refinement was possible.
	Refine(ctx context.Context, query string, round int) (string, error)
}

// NoopRefiner returns every query unchanged. It is the fallback that keeps
// the orchestrator functional without a refinement collaborator.
type NoopRefiner struct{}

// Refine returns the query as-is.
func (NoopRefiner) Refine(_ context.Context, query string, _ int) (string, error) {
	return query, nil
}

// TermDropRefiner broadens a query deterministically by dropping its last
// term each round. A single-term query is never narrowed further.
type TermDropRefiner struct{}

// Refine drops the trailing term from a multi-term query.
func (TermDropRefiner) Refine(_ context.Context, query string, _ int) (string, error) {
	terms := strings.Fields(query)
	if len(terms) <= 1 {
		return query, nil
	}
	return strings.Join(terms[:len(terms)-1], " "), nil
}
