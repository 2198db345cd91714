package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/joho/godotenv"
)

const (
	// MaxPagesLimit bounds how many result pages a single run may request.
	MaxPagesLimit = 6
	// MaxDelay bounds the pause between consecutive page requests.
	MaxDelay = 5 * time.Second
)

// Config holds scraper configuration.
type Config struct {
	BaseURL          string
	Query            string
	MaxPages         int
	Delay            time.Duration
	RandomDelay      time.Duration
	Timeout          time.Duration
	OutputFile       string
	OutputFormat     string // csv, json, or dual
	UserAgent        string
	AcceptLanguage   string
	Verbose          bool
	RespectRobotsTxt bool
	MetricsAddr      string
	ListenAddr       string
	CacheSize        int
	CacheTTL         time.Duration
}

// DefaultConfig returns conservative defaults for the marketplace search.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:          "https://lista.mercadolivre.com.br",
		Query:            "Xiaomi",
		MaxPages:         3,
		Delay:            time.Second,
		RandomDelay:      0,
		Timeout:          15 * time.Second,
		OutputFile:       "output/products.csv",
		OutputFormat:     "csv",
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36",
		AcceptLanguage:   "pt-BR,pt;q=0.9,en;q=0.8",
		Verbose:          false,
		RespectRobotsTxt: false,
		MetricsAddr:      "",
		ListenAddr:       ":8080",
		CacheSize:        128,
		CacheTTL:         10 * time.Minute,
	}
}

// SearchRequest builds the run input described by the configuration.
func (c *Config) SearchRequest() models.SearchRequest {
	return models.SearchRequest{
		Query: strings.TrimSpace(c.Query),
		Pages: c.MaxPages,
		Delay: c.Delay,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.MaxPages > MaxPagesLimit {
		return fmt.Errorf("max pages cannot exceed %d", MaxPagesLimit)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Delay > MaxDelay {
		return fmt.Errorf("delay cannot exceed %s", MaxDelay)
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("cache size cannot be negative")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache ttl cannot be negative")
	}

	return nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}
