// Package analysis turns a resolved paper corpus into the persisted result
// payload of an aggregation job.
package analysis

import (
	"context"
	"sort"
	"time"

	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/search"
)

// Analyzer produces a report from the outcome of a search run. Implementations
// must be deterministic for a fixed input so that re-running a job yields the
// same payload.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest, result *search.Result) (*Report, error)
}

// SourceReport is the per-source diagnostic section of a report.
type SourceReport struct {
	RawCount  int  `json:"raw_count"`
	Failures  int  `json:"failures"`
	Unhealthy bool `json:"unhealthy"`
}

// VenueCount pairs a venue name with how many corpus papers appeared there.
type VenueCount struct {
	Venue string `json:"venue"`
	Count int    `json:"count"`
}

// AuthorCount pairs an author name with how many corpus papers they wrote.
type AuthorCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// CitationStats summarizes the citation distribution of the corpus.
type CitationStats struct {
	Total  int     `json:"total"`
	Mean   float64 `json:"mean"`
	Median int     `json:"median"`
	Max    int     `json:"max"`
}

// Report is the full result payload persisted for a completed job.
type Report struct {
	QueryTerms  []string  `json:"query_terms"`
	Domain      string    `json:"domain,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`

	PaperCount  int `json:"paper_count"`
	UniqueCount int `json:"unique_count"`
	Dropped     int `json:"dropped"`
	Rounds      int `json:"rounds"`

	StorageUnavailable bool `json:"storage_unavailable,omitempty"`

	OpenAccessCount int                     `json:"open_access_count"`
	YearHistogram   map[int]int             `json:"year_histogram,omitempty"`
	TopVenues       []VenueCount            `json:"top_venues,omitempty"`
	TopAuthors      []AuthorCount           `json:"top_authors,omitempty"`
	Citations       CitationStats           `json:"citations"`
	Sources         map[string]SourceReport `json:"sources"`

	Papers []*domain.Paper `json:"papers"`
}

const topListSize = 10

// CorpusAnalyzer is the built-in Analyzer. It computes corpus statistics
// without consulting any external service.
type CorpusAnalyzer struct{}

// NewCorpusAnalyzer creates a CorpusAnalyzer.
func NewCorpusAnalyzer() *CorpusAnalyzer {
	return &CorpusAnalyzer{}
}

var _ Analyzer = (*CorpusAnalyzer)(nil)

// Analyze builds the report. The paper order of the input is preserved in the
// output; statistics derive from the papers alone.
func (a *CorpusAnalyzer) Analyze(ctx context.Context, req domain.AnalysisRequest, result *search.Result) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		QueryTerms:  req.QueryTerms,
		Domain:      req.Domain,
		GeneratedAt: time.Now().UTC(),
		PaperCount:  len(result.Papers),
		UniqueCount: result.UniqueCount,
		Dropped:     result.Dropped,
		Rounds:      result.Rounds,
		Sources:     make(map[string]SourceReport, len(result.SourceStats)),
		Papers:      result.Papers,

		StorageUnavailable: result.StorageUnavailable,
	}

	for source, stats := range result.SourceStats {
		report.Sources[string(source)] = SourceReport{
			RawCount:  stats.RawCount,
			Failures:  stats.Failures,
			Unhealthy: stats.Unhealthy,
		}
	}

	years := make(map[int]int)
	venues := make(map[string]int)
	authors := make(map[string]int)
	citations := make([]int, 0, len(result.Papers))

	for _, p := range result.Papers {
		if p.OpenAccess {
			report.OpenAccessCount++
		}
		if year := publicationYear(p); year > 0 {
			years[year]++
		}
		if p.Venue != "" {
			venues[p.Venue]++
		}
		for _, author := range p.Authors {
			if author.Name != "" {
				authors[author.Name]++
			}
		}
		citations = append(citations, p.CitationCount)
	}

	if len(years) > 0 {
		report.YearHistogram = years
	}
	report.TopVenues = topVenues(venues)
	report.TopAuthors = topAuthors(authors)
	report.Citations = citationStats(citations)

	return report, nil
}

// publicationYear prefers the explicit year field, falling back to the date.
func publicationYear(p *domain.Paper) int {
	if p.PublicationYear > 0 {
		return p.PublicationYear
	}
	if p.PublicationDate != nil {
		return p.PublicationDate.Year()
	}
	return 0
}

// topVenues ranks venues by count descending, name ascending on ties. The tie
// rule keeps output stable across map iteration orders.
func topVenues(counts map[string]int) []VenueCount {
	ranked := make([]VenueCount, 0, len(counts))
	for venue, count := range counts {
		ranked = append(ranked, VenueCount{Venue: venue, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Venue < ranked[j].Venue
	})
	if len(ranked) > topListSize {
		ranked = ranked[:topListSize]
	}
	return ranked
}

func topAuthors(counts map[string]int) []AuthorCount {
	ranked := make([]AuthorCount, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, AuthorCount{Name: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > topListSize {
		ranked = ranked[:topListSize]
	}
	return ranked
}

func citationStats(citations []int) CitationStats {
	if len(citations) == 0 {
		return CitationStats{}
	}
	sorted := append([]int(nil), citations...)
	sort.Ints(sorted)

	var stats CitationStats
	for _, c := range sorted {
		stats.Total += c
	}
	stats.Mean = float64(stats.Total) / float64(len(sorted))
	stats.Median = sorted[len(sorted)/2]
	stats.Max = sorted[len(sorted)-1]
	return stats
}
