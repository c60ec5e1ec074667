package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDOI(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare", "10.1000/XYZ123", "10.1000/xyz123"},
		{"https prefix", "https://doi.org/10.1000/xyz123", "10.1000/xyz123"},
		{"dx prefix", "http://dx.doi.org/10.1000/Xyz123", "10.1000/xyz123"},
		{"doi scheme", "doi:10.1000/xyz123", "10.1000/xyz123"},
		{"whitespace", "  10.1/a  ", "10.1/a"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeDOI(tt.input))
		})
	}
}

func TestNormalizeArXivID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"versioned", "2301.00001v2", "2301.00001"},
		{"unversioned", "2301.00001", "2301.00001"},
		{"old style", "cond-mat/9901001v3", "cond-mat/9901001"},
		{"scheme prefix", "arXiv:2301.00001v1", "2301.00001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeArXivID(tt.input))
		})
	}
}

func TestTitleHash_FormattingInvariant(t *testing.T) {
	t.Parallel()

	// Punctuation, case, and whitespace runs must not change the hash.
	base := TitleHash("Attention Is All You Need")
	assert.Equal(t, base, TitleHash("attention is all you need"))
	assert.Equal(t, base, TitleHash("Attention  Is   All You Need!"))
	assert.Equal(t, base, TitleHash("\"Attention, Is All: You Need\""))

	assert.NotEqual(t, base, TitleHash("Attention Is Not All You Need"))
}

func TestIdentityKeys_PriorityOrder(t *testing.T) {
	t.Parallel()

	p := &Paper{
		Identifiers: Identifiers{
			DOI:               "https://doi.org/10.1/X",
			ArXivID:           "2301.00001v2",
			PubMedID:          "12345",
			SemanticScholarID: "abcdef",
		},
		Title: "A Study of Things",
	}

	keys := p.IdentityKeys()
	require.Len(t, keys, 5)
	assert.Equal(t, IdentityKey("doi:10.1/x"), keys[0])
	assert.Equal(t, IdentityKey("arxiv:2301.00001"), keys[1])
	assert.Equal(t, IdentityKey("pubmed:12345"), keys[2])
	assert.Equal(t, IdentityKey("s2:abcdef"), keys[3])
	assert.Equal(t, IdentityKey("title:"+TitleHash("A Study of Things")), keys[4])
}

func TestIdentityKeys_TitleOnly(t *testing.T) {
	t.Parallel()

	// A record with no external identifier is keyed by title hash, never
	// left unkeyed.
	p := &Paper{Title: "Untracked Workshop Paper"}
	keys := p.IdentityKeys()
	require.Len(t, keys, 1)
	assert.Equal(t, IdentityKey("title:"+TitleHash(p.Title)), keys[0])
}

func TestDurableKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		paper Paper
		want  string
	}{
		{
			name:  "doi wins",
			paper: Paper{Identifiers: Identifiers{DOI: "10.1/a:b", ArXivID: "2301.1"}, Title: "t"},
			want:  "doi_10.1_a_b.pdf",
		},
		{
			name:  "arxiv next",
			paper: Paper{Identifiers: Identifiers{ArXivID: "2301.00001v3"}, Title: "t"},
			want:  "arxiv_2301.00001.pdf",
		},
		{
			name:  "pubmed next",
			paper: Paper{Identifiers: Identifiers{PubMedID: "99"}, Title: "t"},
			want:  "pmid_99.pdf",
		},
		{
			name:  "title fallback",
			paper: Paper{Title: "Some Title"},
			want:  "title_" + TitleHash("Some Title") + ".pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.paper.DurableKey())
		})
	}
}
