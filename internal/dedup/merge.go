package dedup

import (
	"sort"

	"github.com/helixir/paper-aggregation-service/internal/domain"
)

// mergeContributors folds raw records, already sorted by descending
// confidence, into one merged paper. Per field the highest-confidence
// non-empty value wins; empty values are filled from any contributor.
func mergeContributors(ordered []*domain.Paper) *domain.Paper {
	merged := &domain.Paper{}

	for _, c := range ordered {
		if merged.Title == "" {
			merged.Title = c.Title
		}
		if merged.Abstract == "" {
			merged.Abstract = c.Abstract
		}
		if len(merged.Authors) == 0 {
			merged.Authors = append([]domain.Author(nil), c.Authors...)
		}
		if merged.PublicationDate == nil && c.PublicationDate != nil {
			t := *c.PublicationDate
			merged.PublicationDate = &t
		}
		if merged.PublicationYear == 0 {
			merged.PublicationYear = c.PublicationYear
		}
		if merged.Venue == "" {
			merged.Venue = c.Venue
		}
		if merged.Publisher == "" {
			merged.Publisher = c.Publisher
		}
		if merged.CitationCount == 0 {
			merged.CitationCount = c.CitationCount
		}
		if merged.ReferenceCount == 0 {
			merged.ReferenceCount = c.ReferenceCount
		}
		if merged.PDFURL == "" {
			merged.PDFURL = c.PDFURL
		}
		if c.OpenAccess {
			merged.OpenAccess = true
		}

		if merged.DOI == "" {
			merged.DOI = c.DOI
		}
		if merged.ArXivID == "" {
			merged.ArXivID = c.ArXivID
		}
		if merged.PubMedID == "" {
			merged.PubMedID = c.PubMedID
		}
		if merged.PMCID == "" {
			merged.PMCID = c.PMCID
		}
		if merged.SemanticScholarID == "" {
			merged.SemanticScholarID = c.SemanticScholarID
		}
		if merged.OpenAlexID == "" {
			merged.OpenAlexID = c.OpenAlexID
		}
	}

	if len(ordered) > 0 {
		merged.Source = ordered[0].Source
	}
	merged.MergedFrom = provenance(ordered)

	return merged
}

// provenance returns the distinct contributing sources. The list is sorted
// by source name so the audit trail is deterministic regardless of the order
// duplicates arrived in.
func provenance(contributors []*domain.Paper) []domain.SourceType {
	seen := map[domain.SourceType]bool{}
	var sources []domain.SourceType
	for _, c := range contributors {
		if c.Source == "" || seen[c.Source] {
			continue
		}
		seen[c.Source] = true
		sources = append(sources, c.Source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
	return sources
}
