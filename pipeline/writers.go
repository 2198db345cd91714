package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/go-scrape-listings/models"
)

// CSVHeader is the column layout of the exported table.
var CSVHeader = []string{"Image", "Product title", "Price", "Link"}

// CSVWriter writes products to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	rows   int
	mu     sync.Mutex
}

// NewCSVWriter creates filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	cw, err := newCSVWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	cw.file = f
	return cw, nil
}

// NewCSVStreamWriter writes CSV to w, which stays owned by the caller.
func NewCSVStreamWriter(w io.Writer) (*CSVWriter, error) {
	return newCSVWriter(w)
}

func newCSVWriter(w io.Writer) (*CSVWriter, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv header: %w", err)
	}
	return &CSVWriter{writer: writer}, nil
}

// Write appends products to the CSV output.
func (cw *CSVWriter) Write(products []*models.Product) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, product := range products {
		record := []string{
			product.ImageURL,
			product.Title,
			product.Price,
			product.Link,
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
		cw.rows++
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	if cw.file == nil {
		return nil
	}
	return cw.file.Close()
}

// Rows returns the number of product rows written so far.
func (cw *CSVWriter) Rows() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.rows
}

// Validate ensures the output carries at least the header row.
func (cw *CSVWriter) Validate() error {
	if cw.file == nil {
		return nil
	}
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends products in JSONL format.
func (jw *JSONWriter) Write(products []*models.Product) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, product := range products {
		if err := jw.encoder.Encode(product); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
