package scraper

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/gocolly/colly/v2"
)

// ItemsPerPage is the listing page size the offset arithmetic assumes.
const ItemsPerPage = 50

const (
	ctxStart    = "start"
	ctxResponse = "response"
)

// PageOffset returns the 1-based index of the first item on page.
func PageOffset(page int) int {
	return (page-1)*ItemsPerPage + 1
}

// PageURL builds the listing URL of a search term and page.
func PageURL(baseURL, query string, page int) string {
	return fmt.Sprintf("%s/%s_Desde_%d", strings.TrimSuffix(baseURL, "/"), url.PathEscape(query), PageOffset(page))
}

// Fetcher issues one GET per result page through a synchronous collector.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *Metrics
}

// NewFetcher configures a collector restricted to the search host.
func NewFetcher(cfg *config.Config, metrics *Metrics) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	// Non-2xx responses reach OnResponse so the status can be reported.
	collector.ParseHTTPErrorResponse = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if cfg.RandomDelay > 0 {
		if err := collector.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: 1,
			RandomDelay: cfg.RandomDelay,
		}); err != nil {
			return nil, fmt.Errorf("configure rate limits: %w", err)
		}
	}

	f := &Fetcher{
		cfg:       cfg,
		collector: collector,
		metrics:   metrics,
	}
	f.configureHandlers()
	return f, nil
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put(ctxStart, time.Now())
		f.metrics.IncRequest("started")
	})

	f.collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Ctx.GetAny(ctxStart).(time.Time); ok {
			f.metrics.ObserveDuration(time.Since(start))
		}
		r.Ctx.Put(ctxResponse, r)
		f.metrics.IncRequest("completed")
	})
}

// Fetch requests one result page. The returned page carries the status code
// whenever a response arrived; the error is one of the typed errors of this
// package for transport failures and non-200 statuses.
func (f *Fetcher) Fetch(query string, page int) (*models.RawPage, error) {
	raw := &models.RawPage{
		Index: page,
		URL:   PageURL(f.cfg.BaseURL, query, page),
	}

	headers := http.Header{}
	headers.Set("User-Agent", f.cfg.UserAgent)
	headers.Set("Accept-Language", f.cfg.AcceptLanguage)

	reqCtx := colly.NewContext()
	if err := f.collector.Request(http.MethodGet, raw.URL, nil, reqCtx, headers); err != nil {
		return raw, classifyError(err, 0)
	}

	resp, ok := reqCtx.GetAny(ctxResponse).(*colly.Response)
	if !ok {
		return raw, fmt.Errorf("no response recorded for %s", raw.URL)
	}
	raw.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		return raw, classifyError(nil, resp.StatusCode)
	}
	raw.Body = resp.Body
	return raw, nil
}
