package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/search"
)

func testResult() *search.Result {
	date := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	return &search.Result{
		Papers: []*domain.Paper{
			{
				Identifiers:     domain.Identifiers{DOI: "10.1/a"},
				Title:           "Attention Is All You Need",
				Authors:         []domain.Author{{Name: "A. Vaswani"}, {Name: "N. Shazeer"}},
				PublicationYear: 2017,
				Venue:           "NeurIPS",
				CitationCount:   90000,
				OpenAccess:      true,
				Source:          domain.SourceTypeArXiv,
			},
			{
				Identifiers:     domain.Identifiers{DOI: "10.1/b"},
				Title:           "Language Models are Few-Shot Learners",
				Authors:         []domain.Author{{Name: "T. Brown"}},
				PublicationDate: &date,
				Venue:           "NeurIPS",
				CitationCount:   30000,
				Source:          domain.SourceTypeSemanticScholar,
			},
			{
				Identifiers:   domain.Identifiers{DOI: "10.1/c"},
				Title:         "Highly Accurate Protein Structure Prediction",
				Authors:       []domain.Author{{Name: "J. Jumper"}},
				Venue:         "Nature",
				CitationCount: 20000,
				OpenAccess:    true,
				Source:        domain.SourceTypeCrossref,
			},
		},
		Rounds:      2,
		UniqueCount: 5,
		Dropped:     2,
		SourceStats: map[domain.SourceType]*search.SourceStats{
			domain.SourceTypeArXiv:  {RawCount: 4},
			domain.SourceTypePubMed: {RawCount: 0, Failures: 3, Unhealthy: true},
		},
	}
}

func TestCorpusAnalyzer_Analyze(t *testing.T) {
	analyzer := NewCorpusAnalyzer()
	req := domain.AnalysisRequest{
		QueryTerms: []string{"transformer", "attention"},
		Domain:     "machine learning",
		TargetSize: 3,
	}

	report, err := analyzer.Analyze(context.Background(), req, testResult())
	require.NoError(t, err)

	assert.Equal(t, []string{"transformer", "attention"}, report.QueryTerms)
	assert.Equal(t, "machine learning", report.Domain)
	assert.Equal(t, 3, report.PaperCount)
	assert.Equal(t, 5, report.UniqueCount)
	assert.Equal(t, 2, report.Dropped)
	assert.Equal(t, 2, report.Rounds)
	assert.Equal(t, 2, report.OpenAccessCount)
	assert.False(t, report.GeneratedAt.IsZero())
	assert.Len(t, report.Papers, 3)

	t.Run("year histogram", func(t *testing.T) {
		assert.Equal(t, map[int]int{2017: 1, 2021: 1}, report.YearHistogram)
	})

	t.Run("venues ranked by count then name", func(t *testing.T) {
		require.Len(t, report.TopVenues, 2)
		assert.Equal(t, VenueCount{Venue: "NeurIPS", Count: 2}, report.TopVenues[0])
		assert.Equal(t, VenueCount{Venue: "Nature", Count: 1}, report.TopVenues[1])
	})

	t.Run("authors ranked deterministically", func(t *testing.T) {
		require.Len(t, report.TopAuthors, 4)
		// All counts are 1, so names sort ascending.
		assert.Equal(t, "A. Vaswani", report.TopAuthors[0].Name)
		assert.Equal(t, "J. Jumper", report.TopAuthors[1].Name)
	})

	t.Run("citation stats", func(t *testing.T) {
		assert.Equal(t, 140000, report.Citations.Total)
		assert.InDelta(t, 46666.66, report.Citations.Mean, 0.01)
		assert.Equal(t, 30000, report.Citations.Median)
		assert.Equal(t, 90000, report.Citations.Max)
	})

	t.Run("source diagnostics", func(t *testing.T) {
		require.Contains(t, report.Sources, "pubmed")
		assert.True(t, report.Sources["pubmed"].Unhealthy)
		assert.Equal(t, 3, report.Sources["pubmed"].Failures)
		assert.Equal(t, 4, report.Sources["arxiv"].RawCount)
	})
}

func TestCorpusAnalyzer_EmptyCorpus(t *testing.T) {
	analyzer := NewCorpusAnalyzer()
	result := &search.Result{SourceStats: map[domain.SourceType]*search.SourceStats{}}

	report, err := analyzer.Analyze(context.Background(), domain.AnalysisRequest{
		QueryTerms: []string{"nothing"},
		TargetSize: 10,
	}, result)
	require.NoError(t, err)

	assert.Zero(t, report.PaperCount)
	assert.Empty(t, report.YearHistogram)
	assert.Empty(t, report.TopVenues)
	assert.Empty(t, report.TopAuthors)
	assert.Zero(t, report.Citations)
}

func TestCorpusAnalyzer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCorpusAnalyzer().Analyze(ctx, domain.AnalysisRequest{}, testResult())
	assert.ErrorIs(t, err, context.Canceled)
}
