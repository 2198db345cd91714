package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aluiziolira/go-scrape-listings/models"
)

func TestCollectorDedupAndOrder(t *testing.T) {
	c := NewCollector()

	first := &models.Product{Title: "Redmi Note 13", Price: "1299", Link: "https://example.test/p/1"}
	second := &models.Product{Title: "Poco X6", Price: "1899", Link: "https://example.test/p/2"}
	samePairOtherPrice := &models.Product{Title: "Redmi Note 13", Price: "999", Link: "https://example.test/p/1"}
	sameTitleOtherLink := &models.Product{Title: "Redmi Note 13", Price: "1299", Link: "https://example.test/p/3"}

	kept := []bool{c.Add(first), c.Add(second), c.Add(samePairOtherPrice), c.Add(sameTitleOtherLink)}
	want := []bool{true, true, false, true}
	for i := range want {
		if kept[i] != want[i] {
			t.Fatalf("Add #%d = %v, want %v", i, kept[i], want[i])
		}
	}

	products := c.Products()
	if len(products) != 3 || c.Len() != 3 {
		t.Fatalf("products = %d, want 3", len(products))
	}
	if products[0] != first || products[1] != second || products[2] != sameTitleOtherLink {
		t.Fatalf("unexpected order: %+v", products)
	}
	if products[0].Price != "1299" {
		t.Fatalf("first-seen record should win, price = %q", products[0].Price)
	}
	if c.Duplicates() != 1 {
		t.Fatalf("duplicates = %d, want 1", c.Duplicates())
	}
	if c.Add(nil) {
		t.Fatalf("nil product should not be kept")
	}
}

func TestCollectorNoDuplicatePairs(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 200; i++ {
		c.Add(&models.Product{
			Title: fmt.Sprintf("Produto %d", i%37),
			Link:  fmt.Sprintf("https://example.test/p/%d", i%11),
		})
	}

	seen := make(map[models.ProductKey]bool)
	for _, p := range c.Products() {
		if seen[p.Key()] {
			t.Fatalf("duplicate pair %+v", p.Key())
		}
		seen[p.Key()] = true
	}
	if c.Len()+c.Duplicates() != 200 {
		t.Fatalf("kept %d + dropped %d != 200", c.Len(), c.Duplicates())
	}
}

type recordingWriter struct {
	products    []*models.Product
	writeErr    error
	validateErr error
}

func (rw *recordingWriter) Write(products []*models.Product) error {
	if rw.writeErr != nil {
		return rw.writeErr
	}
	rw.products = append(rw.products, products...)
	return nil
}

func (rw *recordingWriter) Close() error {
	return nil
}

func (rw *recordingWriter) Validate() error {
	return rw.validateErr
}

func TestExport(t *testing.T) {
	products := []*models.Product{{Title: "A"}, {Title: "B"}}

	writer := &recordingWriter{}
	if err := Export(writer, products); err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(writer.products) != 2 {
		t.Fatalf("written = %d, want 2", len(writer.products))
	}

	failing := &recordingWriter{validateErr: errors.New("empty")}
	if err := Export(failing, products); err == nil {
		t.Fatalf("expected validation error")
	}
}
