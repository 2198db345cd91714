package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/parser"
	"github.com/aluiziolira/go-scrape-listings/pipeline"
)

// Scraper runs paginated searches against the marketplace listing pages.
// A Scraper holds no per-run state; concurrent Run calls are independent.
type Scraper struct {
	fetcher *Fetcher
	Metrics *Metrics

	sleep func(ctx context.Context, d time.Duration) error
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	metrics := NewMetrics()
	fetcher, err := NewFetcher(cfg, metrics)
	if err != nil {
		return nil, err
	}
	return &Scraper{
		fetcher: fetcher,
		Metrics: metrics,
		sleep:   sleepContext,
	}, nil
}

// Run fetches pages 1..req.Pages in order, one at a time, pausing req.Delay
// between consecutive pages. Failed pages are skipped; a page without any
// result items ends the run early. The products collected so far are always
// returned, including when ctx is cancelled.
func (s *Scraper) Run(ctx context.Context, req models.SearchRequest) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	collector := pipeline.NewCollector()
	result := &models.ScraperResult{
		Request:      req,
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}

	for page := 1; page <= req.Pages; page++ {
		if page > 1 {
			if err := s.sleep(ctx, req.Delay); err != nil {
				result.Cancelled = true
				break
			}
		}
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		raw, err := s.fetcher.Fetch(req.Query, page)
		result.RequestCount++
		if err != nil {
			s.recordFailure(result, raw, err)
			continue
		}

		added, err := s.processPage(raw, collector)
		if errors.Is(err, parser.ErrNoItems) {
			s.Metrics.IncPage("empty")
			result.StoppedEarly = true
			slog.Info("no result items on page, stopping search",
				slog.Int("page", page),
				slog.String("url", raw.URL),
			)
			break
		}
		if err != nil {
			s.recordFailure(result, raw, err)
			continue
		}

		result.PagesFetched++
		s.Metrics.IncPage("parsed")
		slog.Debug("page processed",
			slog.Int("page", page),
			slog.Int("added", added),
			slog.Int("total", collector.Len()),
		)
	}

	result.Products = collector.Products()
	result.TotalCount = collector.Len()
	result.DuplicateCount = collector.Duplicates()
	result.EndTime = time.Now()

	switch {
	case result.Cancelled:
		s.Metrics.IncRun("cancelled")
	case result.StoppedEarly:
		s.Metrics.IncRun("stopped_early")
	default:
		s.Metrics.IncRun("completed")
	}
	return result, nil
}

func (s *Scraper) processPage(raw *models.RawPage, collector *pipeline.Collector) (int, error) {
	doc, err := parser.ParseDocument(raw.Body)
	if err != nil {
		return 0, ErrParse{Err: err}
	}
	items, err := parser.FindItems(doc)
	if err != nil {
		return 0, err
	}

	added := 0
	items.Each(func(_ int, item *goquery.Selection) {
		if collector.Add(parser.ExtractProduct(item)) {
			added++
			s.Metrics.IncItems()
			return
		}
		s.Metrics.IncDuplicates()
	})
	return added, nil
}

func (s *Scraper) recordFailure(result *models.ScraperResult, raw *models.RawPage, err error) {
	category := errorTypeLabel(err)
	result.ErrorCount++
	result.PagesSkipped++
	result.ErrorsByType[category]++
	result.FailedURLs = append(result.FailedURLs, raw.URL)

	s.Metrics.IncError(category)
	s.Metrics.IncPage("skipped")
	slog.Warn("skipping page",
		slog.Int("page", raw.Index),
		slog.String("url", raw.URL),
		slog.Int("status", raw.StatusCode),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
