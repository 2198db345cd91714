// Package parser turns search result pages into product records.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoItems signals that neither item selector matched anything on a page.
// It cannot tell an empty result page apart from a markup change.
var ErrNoItems = errors.New("parser: no result items found")

var (
	itemClassPattern    = regexp.MustCompile(`ui-search-layout__item|results-item|ui-search-result`)
	wrapperClassPattern = regexp.MustCompile(`ui-search-result|ui-search-result__wrapper`)
)

// ParseDocument builds a traversable document from a page body.
func ParseDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// FindItems locates the repeating result entries of a page: list items first,
// result wrapper containers as fallback.
func FindItems(doc *goquery.Document) (*goquery.Selection, error) {
	items := findByClass(doc.Selection, "li", itemClassPattern)
	if items.Length() == 0 {
		items = findByClass(doc.Selection, "div", wrapperClassPattern)
	}
	if items.Length() == 0 {
		return items, ErrNoItems
	}
	return items, nil
}

func findByClass(root *goquery.Selection, tag string, pattern *regexp.Regexp) *goquery.Selection {
	return root.Find(tag + "[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return pattern.MatchString(s.AttrOr("class", ""))
	})
}
