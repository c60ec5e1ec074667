// Package crossref implements a paper source backed by the Crossref REST API.
// Because Crossref is the DOI registry, the client also serves as the lookup
// backend for metadata enrichment.
package crossref

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-aggregation-service/internal/domain"
	"github.com/helixir/paper-aggregation-service/internal/papersources"
)

const (
	// DefaultBaseURL is the default Crossref API base URL.
	DefaultBaseURL = "https://api.crossref.org"

	// DefaultRateLimit is the default rate limit for requests per second.
	// Crossref's polite pool (with mailto) tolerates sustained 50 req/s,
	// but we stay well under it.
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 10

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per search request.
	DefaultMaxResults = 25

	// sourceName is the human-readable name for this source.
	sourceName = "Crossref"
)

// jatsTagRegex matches JATS XML tags in Crossref abstracts.
var jatsTagRegex = regexp.MustCompile(`</?[^>]+>`)

// Config holds configuration for the Crossref client.
type Config struct {
	// BaseURL is the Crossref API base URL.
	// Defaults to https://api.crossref.org
	BaseURL string

	// Email is the contact email for the polite pool.
	// Providing an email routes requests to dedicated servers.
	Email string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxResults is the maximum results to return per search request.
	// Defaults to 25, maximum is 1000 per Crossref API.
	MaxResults int

	// Enabled indicates whether this source is enabled for searches.
	Enabled bool
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements the papersources.PaperSource interface for Crossref.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

// Ensure Client implements the source interfaces.
var (
	_ papersources.PaperSource   = (*Client)(nil)
	_ papersources.HealthChecker = (*Client)(nil)
)

// New creates a new Crossref client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	httpClient := papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		BurstSize: cfg.BurstSize,
		UserAgent: "Helixir-PaperAggregation/1.0 (mailto:" + cfg.Email + ")",
	})

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// NewWithHTTPClient creates a new Crossref client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries Crossref for works matching the given parameters.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	startTime := time.Now()

	searchURL, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(
			sourceName,
			resp.StatusCode,
			string(body),
			nil,
		)
	}

	// Limit body to 10MB to prevent resource exhaustion.
	var searchResp SearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	papers := make([]*domain.Paper, 0, len(searchResp.Message.Items))
	for i := range searchResp.Message.Items {
		paper := workToPaper(&searchResp.Message.Items[i])
		if paper != nil {
			papers = append(papers, paper)
		}
	}

	nextOffset := params.Offset + len(papers)
	hasMore := nextOffset < searchResp.Message.TotalResults

	return &papersources.SearchResult{
		Papers:         papers,
		TotalResults:   searchResp.Message.TotalResults,
		HasMore:        hasMore,
		NextOffset:     nextOffset,
		Source:         domain.SourceTypeCrossref,
		SearchDuration: time.Since(startTime),
	}, nil
}

// GetByID retrieves a specific work by its DOI.
func (c *Client) GetByID(ctx context.Context, id string) (*domain.Paper, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	doi := domain.NormalizeDOI(id)
	baseURL.Path = "/works/" + doi

	if c.config.Email != "" {
		query := url.Values{}
		query.Set("mailto", c.config.Email)
		baseURL.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.NewNotFoundError("paper", id)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, domain.NewExternalAPIError(
			sourceName,
			resp.StatusCode,
			string(body),
			nil,
		)
	}

	var workResp WorkResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 10<<20)).Decode(&workResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	paper := workToPaper(&workResp.Message)
	if paper == nil {
		return nil, domain.NewNotFoundError("paper", id)
	}

	return paper, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeCrossref
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether this source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// HealthCheck probes the works endpoint with a single-result request.
func (c *Client) HealthCheck(ctx context.Context) error {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = "/works"

	query := url.Values{}
	query.Set("rows", "1")
	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}
	baseURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var statusErr *papersources.StatusError
		if errors.As(err, &statusErr) {
			return domain.NewExternalAPIError(sourceName, statusErr.StatusCode, "", err)
		}
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	return nil
}

// buildSearchURL constructs the works search URL with query parameters.
func (c *Client) buildSearchURL(params papersources.SearchParams) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	baseURL.Path = "/works"

	query := url.Values{}
	query.Set("query", params.Query)

	var filters []string
	if params.DateFrom != nil {
		filters = append(filters, "from-pub-date:"+params.DateFrom.Format("2006-01-02"))
	}
	if params.DateTo != nil {
		filters = append(filters, "until-pub-date:"+params.DateTo.Format("2006-01-02"))
	}
	if len(filters) > 0 {
		query.Set("filter", strings.Join(filters, ","))
	}

	maxResults := params.MaxResults
	if maxResults == 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > 1000 {
		maxResults = 1000 // Crossref API limit
	}
	query.Set("rows", strconv.Itoa(maxResults))

	if params.Offset > 0 {
		query.Set("offset", strconv.Itoa(params.Offset))
	}

	if c.config.Email != "" {
		query.Set("mailto", c.config.Email)
	}

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// workToPaper converts a Crossref work to a domain Paper.
func workToPaper(work *Work) *domain.Paper {
	if work == nil {
		return nil
	}

	title := ""
	if len(work.Title) > 0 {
		title = strings.TrimSpace(work.Title[0])
	}

	doi := domain.NormalizeDOI(work.DOI)
	if doi == "" && title == "" {
		return nil
	}

	venue := ""
	if len(work.ContainerTitle) > 0 {
		venue = work.ContainerTitle[0]
	}

	pubDate, pubYear := extractPublicationDate(work)

	authors := make([]domain.Author, 0, len(work.Author))
	for _, a := range work.Author {
		name := authorName(a)
		if name == "" {
			continue
		}
		author := domain.Author{
			Name:  name,
			ORCID: normalizeORCID(a.ORCID),
		}
		if len(a.Affiliation) > 0 {
			author.Affiliation = a.Affiliation[0].Name
		}
		authors = append(authors, author)
	}

	// Prefer an explicit PDF link; fall back to the first full-text link.
	pdfURL := ""
	for _, link := range work.Link {
		if link.ContentType == "application/pdf" {
			pdfURL = link.URL
			break
		}
	}

	return &domain.Paper{
		Identifiers:     domain.Identifiers{DOI: doi},
		Title:           title,
		Abstract:        stripJATS(work.Abstract),
		Authors:         authors,
		PublicationDate: pubDate,
		PublicationYear: pubYear,
		Venue:           venue,
		Publisher:       work.Publisher,
		CitationCount:   work.IsReferencedByCount,
		ReferenceCount:  work.ReferencesCount,
		PDFURL:          pdfURL,
		OpenAccess:      len(work.License) > 0,
		Source:          domain.SourceTypeCrossref,
	}
}

// extractPublicationDate picks the most specific publication date available,
// preferring published over published-print over published-online.
func extractPublicationDate(work *Work) (*time.Time, int) {
	for _, dp := range []*DateParts{work.Published, work.PublishedPrint, work.PublishedOnline} {
		if dp == nil || len(dp.DateParts) == 0 || len(dp.DateParts[0]) == 0 {
			continue
		}
		parts := dp.DateParts[0]

		year := parts[0]
		month := 1
		day := 1
		if len(parts) > 1 {
			month = parts[1]
		}
		if len(parts) > 2 {
			day = parts[2]
		}

		// Year-only records keep the year but no full date.
		if len(parts) == 1 {
			return nil, year
		}

		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return &t, year
	}
	return nil, 0
}

// authorName assembles a display name from the given/family parts, falling
// back to the single-field name used for organizational authors.
func authorName(a Author) string {
	name := strings.TrimSpace(strings.TrimSpace(a.Given) + " " + strings.TrimSpace(a.Family))
	if name == "" {
		name = strings.TrimSpace(a.Name)
	}
	return name
}

// normalizeORCID strips the URL prefix from an ORCID identifier.
func normalizeORCID(orcid string) string {
	orcid = strings.TrimPrefix(orcid, "https://orcid.org/")
	orcid = strings.TrimPrefix(orcid, "http://orcid.org/")
	return orcid
}

// stripJATS removes JATS XML markup from a Crossref abstract and collapses
// the remaining whitespace.
func stripJATS(abstract string) string {
	if abstract == "" {
		return ""
	}
	plain := jatsTagRegex.ReplaceAllString(abstract, " ")
	return strings.Join(strings.Fields(plain), " ")
}
