// models/models.go
package models

import (
	"time"
)

// Collection names used by the crawl pipelines.
const (
	PublicationsCollection = "publications"
	StandardsCollection    = "standards"
	IndexesCollection      = "publication_indexes"
)

// Natural key fields per collection.
const (
	PublicationKey = "url"
	StandardKey    = "standardNumber"
	IndexKey       = "name"
)

type Publication struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	PublicationDate string    `json:"publicationDate"`
	StandardNumber  []string  `json:"standardNumber"`
	Content         string    `json:"content"`
	ScrapedAt       time.Time `json:"scrapedAt"`
}

type StandardNode struct {
	ID             string          `json:"id"`
	StandardNumber string          `json:"standardNumber"`
	StandardTitle  string          `json:"standardTitle"`
	URL            string          `json:"url"`
	Children       []StandardChild `json:"children"`
}

type StandardChild struct {
	StandardNumber string `json:"standardNumber"`
	StandardTitle  string `json:"standardTitle"`
	URL            string `json:"url"`
}

// PageType labels which extraction rule a fetched page goes through.
type PageType string

const (
	PageListing       PageType = "listing"
	PageDetail        PageType = "detail"
	PageTaxonomyRoot  PageType = "taxonomy-root"
	PageTaxonomyChild PageType = "taxonomy-child"
)

type CrawlTask struct {
	URL      string   `json:"url"`
	Type     PageType `json:"type"`
	Context  string   `json:"context,omitempty"` // parent standard number for taxonomy-child
	Attempts int      `json:"attempts"`
}

type FailedTask struct {
	Task  CrawlTask `json:"task"`
	Error string    `json:"error"`
	At    time.Time `json:"at"`
}

type DateEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type StandardEntry struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	URL             string `json:"url"`
	PublicationDate string `json:"publicationDate"`
}

type OrganizedIndex struct {
	Name             string                     `json:"name"`
	ByDate           map[string][]DateEntry     `json:"byDate"`
	ByStandardNumber map[string][]StandardEntry `json:"byStandardNumber"`
	BuiltAt          time.Time                  `json:"builtAt"`
}

type CrawlStats struct {
	PagesFetched   int           `json:"pages_fetched"`
	PagesFailed    int           `json:"pages_failed"`
	Retries        int           `json:"retries"`
	Records        int           `json:"records"`
	BatchesFlushed int           `json:"batches_flushed"`
	BatchesFailed  int           `json:"batches_failed"`
	Duration       time.Duration `json:"duration"`
	Failed         []FailedTask  `json:"failed,omitempty"`
}
