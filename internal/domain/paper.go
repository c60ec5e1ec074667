package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// SourceType identifies the external API that produced a paper record.
type SourceType string

const (
	SourceTypeArXiv           SourceType = "arxiv"
	SourceTypePubMed          SourceType = "pubmed"
	SourceTypeSemanticScholar SourceType = "semantic_scholar"
	SourceTypeOpenAlex        SourceType = "openalex"
	SourceTypeCrossref        SourceType = "crossref"
)

// AllSourceTypes returns every supported source type.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceTypeArXiv,
		SourceTypePubMed,
		SourceTypeSemanticScholar,
		SourceTypeOpenAlex,
		SourceTypeCrossref,
	}
}

// IsValidSourceType reports whether s names a supported source.
func IsValidSourceType(s SourceType) bool {
	switch s {
	case SourceTypeArXiv, SourceTypePubMed, SourceTypeSemanticScholar,
		SourceTypeOpenAlex, SourceTypeCrossref:
		return true
	default:
		return false
	}
}

// Identifiers holds all external identifiers a paper may carry.
// Any single identifier may be empty; a paper with no identifier at all
// is still keyed by its normalized-title hash.
type Identifiers struct {
	DOI               string `json:"doi,omitempty"`
	ArXivID           string `json:"arxiv_id,omitempty"`
	PubMedID          string `json:"pubmed_id,omitempty"`
	PMCID             string `json:"pmc_id,omitempty"`
	SemanticScholarID string `json:"semantic_scholar_id,omitempty"`
	OpenAlexID        string `json:"openalex_id,omitempty"`
}

// doiPrefixes are URL-style prefixes stripped during DOI normalization.
var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi:",
}

// NormalizeDOI lowercases a DOI and strips resolver-URL prefixes so that
// "https://doi.org/10.1/X" and "10.1/x" compare equal.
func NormalizeDOI(doi string) string {
	doi = strings.TrimSpace(doi)
	for _, prefix := range doiPrefixes {
		if len(doi) >= len(prefix) && strings.EqualFold(doi[:len(prefix)], prefix) {
			doi = doi[len(prefix):]
			break
		}
	}
	return strings.ToLower(doi)
}

// arxivVersionSuffix matches a trailing version marker such as "v2".
var arxivVersionSuffix = regexp.MustCompile(`v\d+$`)

// NormalizeArXivID strips the version suffix from an arXiv identifier,
// treating "2301.00001v2" and "2301.00001" as the same work.
func NormalizeArXivID(id string) string {
	id = strings.TrimSpace(strings.ToLower(id))
	id = strings.TrimPrefix(id, "arxiv:")
	return arxivVersionSuffix.ReplaceAllString(id, "")
}

var (
	titlePunctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRuns   = regexp.MustCompile(`\s+`)
)

// NormalizeTitle lowercases a title, removes punctuation, and collapses
// whitespace runs so that minor formatting differences across sources hash
// to the same value.
func NormalizeTitle(title string) string {
	normalized := strings.ToLower(title)
	normalized = titlePunctuation.ReplaceAllString(normalized, "")
	normalized = whitespaceRuns.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}

// TitleHash returns the hex SHA-256 digest of the normalized title.
// It is always derivable and serves as the last-resort identity key.
func TitleHash(title string) string {
	sum := sha256.Sum256([]byte(NormalizeTitle(title)))
	return hex.EncodeToString(sum[:])
}

// IdentityKey is a namespaced identifier used to recognize duplicate works,
// e.g. "doi:10.1/x" or "title:3f2a...".
type IdentityKey string

// IsTitleKey reports whether the key was derived from the normalized title
// rather than from an external identifier.
func (k IdentityKey) IsTitleKey() bool {
	return strings.HasPrefix(string(k), "title:")
}

// IdentityKeys returns the identity keys for the identifiers plus title, in
// resolution priority order: DOI, arXiv, PubMed/PMC, Semantic Scholar,
// OpenAlex, then title hash. The title key is present whenever the title is
// non-empty, so a record with no external identifier is never unkeyed.
func (ids Identifiers) IdentityKeys(title string) []IdentityKey {
	keys := make([]IdentityKey, 0, 6)
	if doi := NormalizeDOI(ids.DOI); doi != "" {
		keys = append(keys, IdentityKey("doi:"+doi))
	}
	if arxiv := NormalizeArXivID(ids.ArXivID); arxiv != "" {
		keys = append(keys, IdentityKey("arxiv:"+arxiv))
	}
	if pm := strings.TrimSpace(ids.PubMedID); pm != "" {
		keys = append(keys, IdentityKey("pubmed:"+pm))
	}
	if pmc := strings.TrimSpace(ids.PMCID); pmc != "" {
		keys = append(keys, IdentityKey("pmc:"+pmc))
	}
	if s2 := strings.TrimSpace(ids.SemanticScholarID); s2 != "" {
		keys = append(keys, IdentityKey("s2:"+s2))
	}
	if oa := strings.TrimSpace(ids.OpenAlexID); oa != "" {
		keys = append(keys, IdentityKey("openalex:"+oa))
	}
	if strings.TrimSpace(title) != "" {
		keys = append(keys, IdentityKey("title:"+TitleHash(title)))
	}
	return keys
}

// DurableKey returns the storage key used for the paper's persisted PDF.
// Priority mirrors identity resolution: DOI, arXiv, PubMed, Semantic Scholar,
// then title hash. The key is stable across runs so a PDF is stored once.
func (ids Identifiers) DurableKey(title string) string {
	sanitize := func(s string) string {
		s = strings.ReplaceAll(s, "/", "_")
		return strings.ReplaceAll(s, ":", "_")
	}
	if doi := NormalizeDOI(ids.DOI); doi != "" {
		return "doi_" + sanitize(doi) + ".pdf"
	}
	if arxiv := NormalizeArXivID(ids.ArXivID); arxiv != "" {
		return "arxiv_" + sanitize(arxiv) + ".pdf"
	}
	if pm := strings.TrimSpace(ids.PubMedID); pm != "" {
		return "pmid_" + pm + ".pdf"
	}
	if s2 := strings.TrimSpace(ids.SemanticScholarID); s2 != "" {
		return "ss_" + s2 + ".pdf"
	}
	return "title_" + TitleHash(title) + ".pdf"
}

// Author represents a paper author with optional affiliation and ORCID.
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// Paper is the canonical unit flowing through the aggregation pipeline.
//
// Lifecycle: created raw by a source adapter, merged with duplicates by the
// dedup engine, filled in by enrichment, given a durable PDF reference by
// resolution, then immutable once returned to the caller.
type Paper struct {
	Identifiers

	Title           string     `json:"title"`
	Abstract        string     `json:"abstract,omitempty"`
	Authors         []Author   `json:"authors,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	// PublicationYear is kept separately because some sources report only a
	// year, never a full date.
	PublicationYear int        `json:"publication_year,omitempty"`
	Venue           string     `json:"venue,omitempty"`
	Publisher       string     `json:"publisher,omitempty"`
	CitationCount   int        `json:"citation_count"`
	ReferenceCount  int        `json:"reference_count"`

	// Source is the adapter that produced the winning copy of this record.
	Source SourceType `json:"source"`
	// MergedFrom is the audit trail of every source that contributed a
	// duplicate of this work, in the order the duplicates were absorbed.
	MergedFrom []SourceType `json:"merged_from_sources,omitempty"`

	// PDFURL is the original PDF location reported by a source, if any.
	PDFURL string `json:"pdf_url,omitempty"`
	// PDFContentURL is the durable storage URL. Every paper in the final
	// output carries a non-empty value; papers that fail resolution are
	// dropped rather than emitted without one.
	PDFContentURL string `json:"pdf_content_url,omitempty"`
	OpenAccess    bool   `json:"is_open_access"`
}

// IdentityKeys returns the paper's identity keys in priority order.
func (p *Paper) IdentityKeys() []IdentityKey {
	return p.Identifiers.IdentityKeys(p.Title)
}

// DurableKey returns the storage key for this paper's PDF.
func (p *Paper) DurableKey() string {
	return p.Identifiers.DurableKey(p.Title)
}

// HasResolvedPDF reports whether the paper carries a durable PDF reference.
func (p *Paper) HasResolvedPDF() bool {
	return p.PDFContentURL != ""
}
