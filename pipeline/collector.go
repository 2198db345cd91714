// Package pipeline de-duplicates extracted products and writes them out.
package pipeline

import (
	"fmt"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(products []*models.Product) error
	Close() error
	Validate() error
}

// Collector accumulates the products of one run in first-seen order and
// drops entries whose (title, link) pair was already collected. It is owned
// by a single run loop and is not safe for concurrent use.
type Collector struct {
	seen       map[models.ProductKey]struct{}
	products   []*models.Product
	duplicates int
}

// NewCollector returns an empty collector for a new run.
func NewCollector() *Collector {
	return &Collector{
		seen: make(map[models.ProductKey]struct{}),
	}
}

// Add appends product unless its identity was seen before. It reports whether
// the product was kept.
func (c *Collector) Add(product *models.Product) bool {
	if product == nil {
		return false
	}
	key := product.Key()
	if _, ok := c.seen[key]; ok {
		c.duplicates++
		return false
	}
	c.seen[key] = struct{}{}
	c.products = append(c.products, product)
	return true
}

// Products returns the collected products in insertion order.
func (c *Collector) Products() []*models.Product {
	out := make([]*models.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Len returns the number of distinct products collected.
func (c *Collector) Len() int {
	return len(c.products)
}

// Duplicates returns how many products were discarded as repeats.
func (c *Collector) Duplicates() int {
	return c.duplicates
}

// Export writes products through writer and checks the output.
func Export(writer OutputWriter, products []*models.Product) error {
	if err := writer.Write(products); err != nil {
		return fmt.Errorf("write products: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return fmt.Errorf("validate output: %w", err)
	}
	return nil
}
