package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/parser"
	"github.com/jarcoal/httpmock"
)

const testBaseURL = "http://example.test"

func TestPageURL(t *testing.T) {
	tests := []struct {
		query    string
		page     int
		expected string
	}{
		{query: "xiaomi", page: 1, expected: "https://lista.mercadolivre.com.br/xiaomi_Desde_1"},
		{query: "xiaomi", page: 2, expected: "https://lista.mercadolivre.com.br/xiaomi_Desde_51"},
		{query: "xiaomi", page: 3, expected: "https://lista.mercadolivre.com.br/xiaomi_Desde_101"},
		{query: "celular xiaomi", page: 1, expected: "https://lista.mercadolivre.com.br/celular%20xiaomi_Desde_1"},
	}
	for _, tt := range tests {
		if got := PageURL("https://lista.mercadolivre.com.br/", tt.query, tt.page); got != tt.expected {
			t.Errorf("PageURL(%q, %d) = %q, want %q", tt.query, tt.page, got, tt.expected)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "ok status", err: nil, statusCode: http.StatusOK, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server error", err: nil, statusCode: http.StatusInternalServerError, expected: "http_status"},
		{name: "redirect", err: nil, statusCode: http.StatusMovedPermanently, expected: "http_status"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}

	if got := errorTypeLabel(parser.ErrNoItems); got != "no_items" {
		t.Fatalf("errorTypeLabel(ErrNoItems) = %q", got)
	}
	if got := errorTypeLabel(ErrParse{Err: errors.New("bad")}); got != "parse" {
		t.Fatalf("errorTypeLabel(ErrParse) = %q", got)
	}
}

func newTestScraper(t *testing.T) (*Scraper, *httpmock.MockTransport) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL

	s, err := NewScraper(cfg)
	if err != nil {
		t.Fatalf("new scraper: %v", err)
	}
	transport := httpmock.NewMockTransport()
	s.fetcher.collector.WithTransport(transport)
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return s, transport
}

func pageURL(query string, page int) string {
	return PageURL(testBaseURL, query, page)
}

func htmlResponder(body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		return resp, nil
	}
}

// buildListingPage renders one result item per id.
func buildListingPage(ids ...int) string {
	var builder strings.Builder
	builder.WriteString(`<html><body><ol class="ui-search-layout">`)
	for _, id := range ids {
		builder.WriteString(`<li class="ui-search-layout__item">`)
		fmt.Fprintf(&builder, `<img data-src="https://img.example/%d.webp" src="data:image/gif;base64,R0lGOD">`, id)
		fmt.Fprintf(&builder, `<a href="https://produto.example/MLB-%d" title="Produto %d">`, id, id)
		fmt.Fprintf(&builder, `<h2>Produto %d</h2></a>`, id)
		fmt.Fprintf(&builder, `<span class="andes-money-amount__fraction">1.%03d</span>`, id)
		builder.WriteString(`<span class="andes-money-amount__cents">90</span>`)
		builder.WriteString(`</li>`)
	}
	builder.WriteString(`</ol></body></html>`)
	return builder.String()
}

func productTitles(products []*models.Product) []string {
	titles := make([]string, 0, len(products))
	for _, p := range products {
		titles = append(titles, p.Title)
	}
	return titles
}

func TestScraperRunCollectsPagesInOrder(t *testing.T) {
	s, transport := newTestScraper(t)

	var mu sync.Mutex
	var headers []http.Header
	capture := func(body string) httpmock.Responder {
		next := htmlResponder(body)
		return func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			headers = append(headers, req.Header.Clone())
			mu.Unlock()
			return next(req)
		}
	}

	transport.RegisterResponder("GET", pageURL("xiaomi", 1), capture(buildListingPage(1, 2, 3)))
	transport.RegisterResponder("GET", pageURL("xiaomi", 2), capture(buildListingPage(3, 4, 2)))
	transport.RegisterResponder("GET", pageURL("xiaomi", 3), capture(buildListingPage(5, 1)))

	result, err := s.Run(context.Background(), models.SearchRequest{Query: "xiaomi", Pages: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{"Produto 1", "Produto 2", "Produto 3", "Produto 4", "Produto 5"}
	got := productTitles(result.Products)
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("titles = %v, want %v", got, want)
	}
	if result.DuplicateCount != 3 {
		t.Fatalf("duplicates = %d, want 3", result.DuplicateCount)
	}
	if result.RequestCount != 3 || result.PagesFetched != 3 || result.PagesSkipped != 0 {
		t.Fatalf("requests=%d fetched=%d skipped=%d", result.RequestCount, result.PagesFetched, result.PagesSkipped)
	}
	if result.StoppedEarly || result.Cancelled {
		t.Fatalf("unexpected early stop: %+v", result)
	}

	first := result.Products[0]
	if first.Price != "1001,90" || first.Link != "https://produto.example/MLB-1" || first.ImageURL != "https://img.example/1.webp" {
		t.Fatalf("unexpected first product: %+v", first)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(headers) != 3 {
		t.Fatalf("captured %d requests, want 3", len(headers))
	}
	for _, h := range headers {
		if h.Get("Accept-Language") != "pt-BR,pt;q=0.9,en;q=0.8" {
			t.Fatalf("accept-language = %q", h.Get("Accept-Language"))
		}
		if !strings.Contains(h.Get("User-Agent"), "Chrome/") {
			t.Fatalf("user-agent = %q", h.Get("User-Agent"))
		}
	}
}

func TestScraperRunSkipsFailedPages(t *testing.T) {
	s, transport := newTestScraper(t)

	transport.RegisterResponder("GET", pageURL("xiaomi", 1), httpmock.NewStringResponder(http.StatusInternalServerError, "oops"))
	// page 2 has no responder: the mock transport fails the round trip.
	transport.RegisterResponder("GET", pageURL("xiaomi", 3), htmlResponder(buildListingPage(7, 8)))
	transport.RegisterResponder("GET", pageURL("xiaomi", 4), httpmock.NewStringResponder(http.StatusNotFound, ""))

	result, err := s.Run(context.Background(), models.SearchRequest{Query: "xiaomi", Pages: 4})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := productTitles(result.Products); len(got) != 2 || got[0] != "Produto 7" || got[1] != "Produto 8" {
		t.Fatalf("titles = %v", got)
	}
	if result.RequestCount != 4 {
		t.Fatalf("requests = %d, want 4", result.RequestCount)
	}
	if result.PagesSkipped != 3 || result.ErrorCount != 3 {
		t.Fatalf("skipped=%d errors=%d, want 3/3", result.PagesSkipped, result.ErrorCount)
	}
	if result.ErrorsByType["http_status"] != 1 || result.ErrorsByType["not_found"] != 1 {
		t.Fatalf("errors by type = %v", result.ErrorsByType)
	}
	if len(result.FailedURLs) != 3 || result.FailedURLs[0] != pageURL("xiaomi", 1) {
		t.Fatalf("failed urls = %v", result.FailedURLs)
	}
}

func TestScraperRunStopsWhenPageHasNoItems(t *testing.T) {
	s, transport := newTestScraper(t)

	transport.RegisterResponder("GET", pageURL("xiaomi", 1), htmlResponder(buildListingPage(1, 2)))
	transport.RegisterResponder("GET", pageURL("xiaomi", 2), htmlResponder(`<html><body><div class="ui-search-rescue">Nada encontrado</div></body></html>`))
	transport.RegisterResponder("GET", pageURL("xiaomi", 3), htmlResponder(buildListingPage(3)))

	result, err := s.Run(context.Background(), models.SearchRequest{Query: "xiaomi", Pages: 3})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !result.StoppedEarly {
		t.Fatalf("expected the run to stop early")
	}
	if got := productTitles(result.Products); len(got) != 2 {
		t.Fatalf("titles = %v, want products of page 1 only", got)
	}
	calls := transport.GetCallCountInfo()
	if calls["GET "+pageURL("xiaomi", 3)] != 0 {
		t.Fatalf("page 3 should not be requested, calls=%v", calls)
	}
	if transport.GetTotalCallCount() != 2 || result.RequestCount != 2 {
		t.Fatalf("total calls = %d, requests = %d, want 2", transport.GetTotalCallCount(), result.RequestCount)
	}
}

func TestScraperRunFallbackWrappers(t *testing.T) {
	s, transport := newTestScraper(t)

	body := `<html><body>
		<div class="ui-search-result__wrapper"><a href="https://produto.example/a"></a><img src="a.jpg" alt="Item A"><p>R$ 2.345,67</p></div>
		<div class="ui-search-result__wrapper"><a href="https://produto.example/b"></a><p>sem preço</p></div>
	</body></html>`
	transport.RegisterResponder("GET", pageURL("fone", 1), htmlResponder(body))

	result, err := s.Run(context.Background(), models.SearchRequest{Query: "fone", Pages: 1})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Products) != 2 {
		t.Fatalf("products = %d, want 2", len(result.Products))
	}
	a, b := result.Products[0], result.Products[1]
	if a.Title != "Item A" || a.Price != "2345,67" || a.ImageURL != "a.jpg" {
		t.Fatalf("unexpected product a: %+v", a)
	}
	if b.Title != parser.TitlePlaceholder || b.Price != parser.PricePlaceholder {
		t.Fatalf("unexpected product b: %+v", b)
	}
}

func TestScraperRunSleepsBetweenPages(t *testing.T) {
	s, transport := newTestScraper(t)

	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	for page := 1; page <= 3; page++ {
		transport.RegisterResponder("GET", pageURL("xiaomi", page), htmlResponder(buildListingPage(page)))
	}

	result, err := s.Run(context.Background(), models.SearchRequest{Query: "xiaomi", Pages: 3, Delay: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if transport.GetTotalCallCount() != 3 || result.RequestCount != 3 {
		t.Fatalf("fetch attempts = %d, want 3", transport.GetTotalCallCount())
	}
	if len(sleeps) != 2 || sleeps[0] != 500*time.Millisecond || sleeps[1] != 500*time.Millisecond {
		t.Fatalf("sleeps = %v, want two pauses of 500ms", sleeps)
	}
}

func TestScraperRunDelayGapsBetweenFetches(t *testing.T) {
	s, transport := newTestScraper(t)
	s.sleep = sleepContext

	const delay = 40 * time.Millisecond
	var mu sync.Mutex
	var times []time.Time
	for page := 1; page <= 3; page++ {
		next := htmlResponder(buildListingPage(page))
		transport.RegisterResponder("GET", pageURL("xiaomi", page), func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
			return next(req)
		})
	}

	if _, err := s.Run(context.Background(), models.SearchRequest{Query: "xiaomi", Pages: 3, Delay: delay}); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) != 3 {
		t.Fatalf("fetches = %d, want 3", len(times))
	}
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < delay {
			t.Fatalf("gap between fetch %d and %d = %v, want >= %v", i, i+1, gap, delay)
		}
	}
}

func TestScraperRunSleepsAfterFailedPage(t *testing.T) {
	s, transport := newTestScraper(t)

	sleeps := 0
	s.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	}
	transport.RegisterResponder("GET", pageURL("xiaomi", 1), httpmock.NewStringResponder(http.StatusForbidden, ""))
	transport.RegisterResponder("GET", pageURL("xiaomi", 2), htmlResponder(buildListingPage(1)))

	result, err := s.Run(context.Background(), models.SearchRequest{Query: "xiaomi", Pages: 2, Delay: time.Second})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sleeps != 1 {
		t.Fatalf("sleeps = %d, want 1", sleeps)
	}
	if result.ErrorsByType["forbidden"] != 1 || len(result.Products) != 1 {
		t.Fatalf("unexpected result: errors=%v products=%d", result.ErrorsByType, len(result.Products))
	}
}

func TestScraperRunCancelled(t *testing.T) {
	s, transport := newTestScraper(t)
	transport.RegisterResponder("GET", pageURL("xiaomi", 1), htmlResponder(buildListingPage(1)))
	transport.RegisterResponder("GET", pageURL("xiaomi", 2), htmlResponder(buildListingPage(2)))

	ctx, cancel := context.WithCancel(context.Background())
	s.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	result, err := s.Run(ctx, models.SearchRequest{Query: "xiaomi", Pages: 2, Delay: time.Second})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Cancelled {
		t.Fatalf("expected cancelled run")
	}
	if len(result.Products) != 1 || transport.GetTotalCallCount() != 1 {
		t.Fatalf("products=%d calls=%d, want 1/1", len(result.Products), transport.GetTotalCallCount())
	}
}

func TestScraperRunInvalidRequest(t *testing.T) {
	s, transport := newTestScraper(t)

	tests := []models.SearchRequest{
		{Query: "  ", Pages: 1},
		{Query: "xiaomi", Pages: 0},
		{Query: "xiaomi", Pages: 1, Delay: -time.Second},
	}
	for _, req := range tests {
		if _, err := s.Run(context.Background(), req); err == nil {
			t.Fatalf("expected error for %+v", req)
		}
	}
	if transport.GetTotalCallCount() != 0 {
		t.Fatalf("invalid requests must not hit the network")
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleepContext on cancelled ctx = %v", err)
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Fatalf("zero sleep = %v", err)
	}
}
