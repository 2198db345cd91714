// Package models defines data structures for the scraper.
package models

import (
	"errors"
	"strings"
	"time"
)

// SearchRequest is the immutable input of a single run.
type SearchRequest struct {
	Query string
	Pages int
	Delay time.Duration
}

// Validate reports whether the request can start a run.
func (r SearchRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return errors.New("query cannot be empty")
	}
	if r.Pages < 1 {
		return errors.New("page count must be positive")
	}
	if r.Delay < 0 {
		return errors.New("delay cannot be negative")
	}
	return nil
}

// RawPage is one fetched result page. Body is nil when the fetch failed.
type RawPage struct {
	Index      int
	URL        string
	StatusCode int
	Body       []byte
}

// Product represents a single search-result entry.
type Product struct {
	ImageURL string `csv:"Image" json:"image_url"`
	Title    string `csv:"Product title" json:"title"`
	Price    string `csv:"Price" json:"price"`
	Link     string `csv:"Link" json:"link"`
}

// ProductKey identifies a product for de-duplication.
type ProductKey struct {
	Title string
	Link  string
}

// Key returns the (title, link) identity of the product.
func (p *Product) Key() ProductKey {
	return ProductKey{Title: p.Title, Link: p.Link}
}

// ScraperResult holds the overall result of a search run.
type ScraperResult struct {
	Request        SearchRequest
	Products       []*Product
	StartTime      time.Time
	EndTime        time.Time
	TotalCount     int
	DuplicateCount int
	RequestCount   int
	PagesFetched   int
	PagesSkipped   int
	ErrorCount     int
	FailedURLs     []string
	ErrorsByType   map[string]int
	StoppedEarly   bool
	Cancelled      bool
}
