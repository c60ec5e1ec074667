package dedup

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-aggregation-service/internal/domain"
)

var testPriority = []domain.SourceType{
	domain.SourceTypeSemanticScholar,
	domain.SourceTypeArXiv,
	domain.SourceTypeCrossref,
	domain.SourceTypePubMed,
}

func TestEngine_AddUniqueRecords(t *testing.T) {
	t.Parallel()

	e := NewEngine(testPriority)
	added := e.Add([]*domain.Paper{
		{Identifiers: domain.Identifiers{DOI: "10.1/a"}, Title: "Paper A", Source: domain.SourceTypeArXiv},
		{Identifiers: domain.Identifiers{DOI: "10.1/b"}, Title: "Paper B", Source: domain.SourceTypeArXiv},
	})

	assert.Equal(t, 2, added)
	assert.Equal(t, 2, e.Count())
}

func TestEngine_DuplicateByDOI(t *testing.T) {
	t.Parallel()

	e := NewEngine(testPriority)
	e.Add([]*domain.Paper{
		{Identifiers: domain.Identifiers{DOI: "10.1/a"}, Title: "Paper A", Source: domain.SourceTypeArXiv},
	})
	added := e.Add([]*domain.Paper{
		// Same DOI behind a resolver URL and different casing.
		{Identifiers: domain.Identifiers{DOI: "https://doi.org/10.1/A"}, Title: "Paper A (preprint)", Source: domain.SourceTypeCrossref},
	})

	assert.Equal(t, 0, added)
	require.Equal(t, 1, e.Count())

	merged := e.All()[0]
	assert.ElementsMatch(t, []domain.SourceType{domain.SourceTypeArXiv, domain.SourceTypeCrossref}, merged.MergedFrom)
}

func TestEngine_DuplicateByArXivVersion(t *testing.T) {
	t.Parallel()

	e := NewEngine(testPriority)
	e.Add([]*domain.Paper{
		{Identifiers: domain.Identifiers{ArXivID: "2301.00001v2"}, Title: "V2 title", Source: domain.SourceTypeArXiv},
	})
	added := e.Add([]*domain.Paper{
		{Identifiers: domain.Identifiers{ArXivID: "2301.00001"}, Title: "V1 title", Source: domain.SourceTypeSemanticScholar},
	})

	assert.Equal(t, 0, added)
	assert.Equal(t, 1, e.Count())
}

func TestEngine_IdentityPriority_DOIBeatsTitle(t *testing.T) {
	t.Parallel()

	// Two records share a title but carry different DOIs: they are
	// different works and must NOT merge by title.
	e := NewEngine(testPriority)
	added := e.Add([]*domain.Paper{
		{Identifiers: domain.Identifiers{DOI: "10.1/x"}, Title: "Survey of Field", Source: domain.SourceTypeCrossref},
		{Identifiers: domain.Identifiers{DOI: "10.1/y"}, Title: "Survey of Field", Source: domain.SourceTypePubMed},
	})

	assert.Equal(t, 2, added)
	assert.Equal(t, 2, e.Count())
}

func TestEngine_TitleCollisionWithoutConflictMerges(t *testing.T) {
	t.Parallel()

	// A title match is still valid when only one side carries an external
	// identifier: that is the bridging case, not a conflict.
	e := NewEngine(testPriority)
	added := e.Add([]*domain.Paper{
		{Identifiers: domain.Identifiers{DOI: "10.1/x"}, Title: "Survey of Field", Source: domain.SourceTypeCrossref},
		{Title: "Survey of Field", Source: domain.SourceTypeOpenAlex},
	})

	assert.Equal(t, 1, added)
	assert.Equal(t, 1, e.Count())
}

func TestEngine_ConflictingDOIsStayDistinctAcrossRounds(t *testing.T) {
	t.Parallel()

	// The same-title works arrive in separate batches, and a later
	// title-only record resolves to the first owner of the title key.
	e := NewEngine(testPriority)
	e.Add([]*domain.Paper{
		{Identifiers: domain.Identifiers{DOI: "10.1/x"}, Title: "Survey of Field", Source: domain.SourceTypeCrossref},
	})
	added := e.Add([]*domain.Paper{
		{Identifiers: domain.Identifiers{DOI: "10.1/y"}, Title: "Survey of Field", Source: domain.SourceTypePubMed},
	})
	assert.Equal(t, 1, added, "a different DOI is a different work despite the shared title")
	assert.Equal(t, 2, e.Count())

	added = e.Add([]*domain.Paper{
		{Title: "Survey of Field", Source: domain.SourceTypeOpenAlex},
	})
	assert.Equal(t, 0, added, "a title-only record folds into the first title owner")
	assert.Equal(t, 2, e.Count())

	papers := e.All()
	require.Len(t, papers, 2)
	assert.Equal(t, "10.1/x", papers[0].Identifiers.DOI)
	assert.Contains(t, papers[0].MergedFrom, domain.SourceTypeOpenAlex)
}

func TestEngine_NoIdentifierKeyedByTitle(t *testing.T) {
	t.Parallel()

	e := NewEngine(testPriority)
	e.Add([]*domain.Paper{
		{Title: "An Orphan Workshop Paper", Source: domain.SourceTypeArXiv},
	})
	added := e.Add([]*domain.Paper{
		{Title: "an orphan workshop: paper!", Source: domain.SourceTypeCrossref},
	})

	assert.Equal(t, 0, added, "title-only records must dedup via title hash")
	assert.Equal(t, 1, e.Count())
}

func TestEngine_MergePrefersNonEmptyThenConfidence(t *testing.T) {
	t.Parallel()

	date := time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)
	e := NewEngine(testPriority)
	e.Add([]*domain.Paper{{
		Identifiers: domain.Identifiers{DOI: "10.1/m"},
		Title:       "Merged Work",
		Source:      domain.SourceTypeCrossref,
		Publisher:   "Crossref Press",
	}})
	e.Add([]*domain.Paper{{
		Identifiers:     domain.Identifiers{DOI: "10.1/m", ArXivID: "2301.5"},
		Title:           "Merged Work",
		Abstract:        "An abstract only arXiv had.",
		Source:          domain.SourceTypeArXiv,
		Publisher:       "arXiv Publisher",
		PublicationDate: &date,
		CitationCount:   12,
	}})

	require.Equal(t, 1, e.Count())
	merged := e.All()[0]

	// Missing fields filled from the lower-confidence contributor.
	assert.Equal(t, "An abstract only arXiv had.", merged.Abstract)
	assert.Equal(t, 12, merged.CitationCount)
	require.NotNil(t, merged.PublicationDate)
	assert.Equal(t, date, *merged.PublicationDate)
	assert.Equal(t, "2301.5", merged.ArXivID)

	// Conflicting non-empty field kept from the higher-confidence source
	// (arXiv outranks Crossref in testPriority).
	assert.Equal(t, "arXiv Publisher", merged.Publisher)
	assert.Equal(t, domain.SourceTypeArXiv, merged.Source)
}

func TestEngine_BridgingRecordCoalescesEntries(t *testing.T) {
	t.Parallel()

	e := NewEngine(testPriority)
	// Seen separately: once by DOI, once by arXiv id.
	e.Add([]*domain.Paper{
		{Identifiers: domain.Identifiers{DOI: "10.1/z"}, Title: "Bridged A", Source: domain.SourceTypeCrossref},
		{Identifiers: domain.Identifiers{ArXivID: "2302.9"}, Title: "Bridged B", Source: domain.SourceTypeArXiv},
	})
	require.Equal(t, 2, e.Count())

	// A third record carries both identifiers, proving they are one work.
	added := e.Add([]*domain.Paper{
		{Identifiers: domain.Identifiers{DOI: "10.1/z", ArXivID: "2302.9"}, Title: "Bridged", Source: domain.SourceTypeSemanticScholar},
	})

	assert.Equal(t, 0, added)
	assert.Equal(t, 1, e.Count())
	merged := e.All()[0]
	assert.Equal(t, "10.1/z", merged.DOI)
	assert.Equal(t, "2302.9", merged.ArXivID)
}

// TestEngine_Commutativity feeds every permutation order of the same record
// set and asserts the merged output is identical. Merge must be
// order-independent for a fixed confidence order.
func TestEngine_Commutativity(t *testing.T) {
	t.Parallel()

	date := time.Date(2022, 1, 2, 0, 0, 0, 0, time.UTC)
	records := []*domain.Paper{
		{Identifiers: domain.Identifiers{DOI: "10.1/p"}, Title: "Shared Work", Source: domain.SourceTypeCrossref, Publisher: "CR"},
		{Identifiers: domain.Identifiers{DOI: "10.1/p", ArXivID: "2303.1"}, Title: "Shared Work", Abstract: "abs", Source: domain.SourceTypeArXiv, CitationCount: 7},
		{Identifiers: domain.Identifiers{ArXivID: "2303.1v4"}, Title: "Shared Work v4", Source: domain.SourceTypeSemanticScholar, PublicationDate: &date},
		{Identifiers: domain.Identifiers{DOI: "10.1/q"}, Title: "Other Work", Source: domain.SourceTypePubMed},
	}

	reference := collect(records)
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 24; trial++ {
		shuffled := make([]*domain.Paper, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		got := collect(shuffled)
		assert.Equal(t, reference, got, "merged set differs for permutation %d", trial)
	}
}

// collect runs the records through a fresh engine one at a time and returns
// the merged papers indexed by durable key, with insertion-order dependent
// fields ignored by the keying.
func collect(records []*domain.Paper) map[string]domain.Paper {
	e := NewEngine(testPriority)
	for _, r := range records {
		e.Add([]*domain.Paper{r})
	}
	out := map[string]domain.Paper{}
	for _, p := range e.All() {
		out[p.DurableKey()] = *clonePaper(p)
	}
	return out
}

func TestEngine_ConcurrentProducersSingleWork(t *testing.T) {
	t.Parallel()

	e := NewEngine(testPriority)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e.Add([]*domain.Paper{{
				Identifiers: domain.Identifiers{DOI: "10.1/race"},
				Title:       "Raced Work",
				Source:      domain.SourceType(fmt.Sprintf("source-%d", i)),
			}})
		}(i)
	}
	wg.Wait()

	// Concurrent duplicate inserts must collapse into exactly one entry.
	assert.Equal(t, 1, e.Count())
	assert.Len(t, e.All()[0].MergedFrom, 16)
}

func TestEngine_CallerMutationDoesNotCorrupt(t *testing.T) {
	t.Parallel()

	record := &domain.Paper{
		Identifiers: domain.Identifiers{DOI: "10.1/c"},
		Title:       "Clone Check",
		Authors:     []domain.Author{{Name: "A. Author"}},
		Source:      domain.SourceTypeArXiv,
	}
	e := NewEngine(testPriority)
	e.Add([]*domain.Paper{record})

	record.Title = "Mutated After Add"
	record.Authors[0].Name = "Z. Zorro"

	merged := e.All()[0]
	assert.Equal(t, "Clone Check", merged.Title)
	assert.Equal(t, "A. Author", merged.Authors[0].Name)
}
