package crossref

// SearchResponse is the envelope returned by the Crossref works endpoint.
type SearchResponse struct {
	Status  string         `json:"status"`
	Message SearchMessage  `json:"message"`
}

// SearchMessage holds the work list and pagination counters.
type SearchMessage struct {
	TotalResults int    `json:"total-results"`
	Items        []Work `json:"items"`
}

// WorkResponse is the envelope returned when fetching a single work by DOI.
type WorkResponse struct {
	Status  string `json:"status"`
	Message Work   `json:"message"`
}

// Work represents a single Crossref work record.
type Work struct {
	DOI                  string      `json:"DOI"`
	Title                []string    `json:"title"`
	Abstract             string      `json:"abstract"` // JATS XML fragment
	Author               []Author    `json:"author"`
	ContainerTitle       []string    `json:"container-title"`
	Publisher            string      `json:"publisher"`
	IsReferencedByCount  int         `json:"is-referenced-by-count"`
	ReferencesCount      int         `json:"references-count"`
	Published            *DateParts  `json:"published"`
	PublishedPrint       *DateParts  `json:"published-print"`
	PublishedOnline      *DateParts  `json:"published-online"`
	Link                 []Link      `json:"link"`
	License              []License   `json:"license"`
}

// Author represents a work author.
type Author struct {
	Given       string        `json:"given"`
	Family      string        `json:"family"`
	Name        string        `json:"name"` // organizations carry a single name
	ORCID       string        `json:"ORCID"`
	Affiliation []Affiliation `json:"affiliation"`
}

// Affiliation is an author affiliation entry.
type Affiliation struct {
	Name string `json:"name"`
}

// DateParts is Crossref's nested date representation.
// The first inner slice is [year, month, day], with month and day optional.
type DateParts struct {
	DateParts [][]int `json:"date-parts"`
}

// Link is a full-text link attached to a work.
type Link struct {
	URL         string `json:"URL"`
	ContentType string `json:"content-type"`
}

// License is a license entry attached to a work.
type License struct {
	URL string `json:"URL"`
}
