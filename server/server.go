// Package server exposes search runs over HTTP as JSON and CSV.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/pipeline"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Searcher runs one search.
type Searcher interface {
	Run(ctx context.Context, req models.SearchRequest) (*models.ScraperResult, error)
}

// Server answers search requests, caching finished runs by request.
type Server struct {
	searcher Searcher
	cfg      *config.Config
	cache    *expirable.LRU[models.SearchRequest, *models.ScraperResult]
	registry *prometheus.Registry
}

// New builds a server. A nil registry disables /metrics; a zero cache size
// disables caching.
func New(searcher Searcher, cfg *config.Config, registry *prometheus.Registry) *Server {
	s := &Server{
		searcher: searcher,
		cfg:      cfg,
		registry: registry,
	}
	if cfg.CacheSize > 0 {
		s.cache = expirable.NewLRU[models.SearchRequest, *models.ScraperResult](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /search.csv", s.handleSearchCSV)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

type searchResponse struct {
	Query        string            `json:"query"`
	Pages        int               `json:"pages"`
	Count        int               `json:"count"`
	StoppedEarly bool              `json:"stopped_early"`
	Skipped      int               `json:"skipped_pages"`
	Cached       bool              `json:"cached"`
	Products     []*models.Product `json:"products"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, cached, err := s.search(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	products := result.Products
	if products == nil {
		products = []*models.Product{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(searchResponse{
		Query:        req.Query,
		Pages:        req.Pages,
		Count:        len(products),
		StoppedEarly: result.StoppedEarly,
		Skipped:      result.PagesSkipped,
		Cached:       cached,
		Products:     products,
	}); err != nil {
		slog.Error("encode search response", slog.Any("error", err))
	}
}

func (s *Server) handleSearchCSV(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, _, err := s.search(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportFilename(req.Query)))
	writer, err := pipeline.NewCSVStreamWriter(w)
	if err != nil {
		slog.Error("start csv export", slog.Any("error", err))
		return
	}
	if err := pipeline.Export(writer, result.Products); err != nil {
		slog.Error("csv export", slog.Any("error", err))
	}
}

// search serves req from the cache or runs it. Runs that were cancelled are
// not cached.
func (s *Server) search(ctx context.Context, req models.SearchRequest) (*models.ScraperResult, bool, error) {
	if s.cache != nil {
		if result, ok := s.cache.Get(req); ok {
			return result, true, nil
		}
	}

	result, err := s.searcher.Run(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if s.cache != nil && !result.Cancelled {
		s.cache.Add(req, result)
	}
	return result, false, nil
}

func (s *Server) parseRequest(values url.Values) (models.SearchRequest, error) {
	req := models.SearchRequest{
		Query: strings.TrimSpace(values.Get("q")),
		Pages: s.cfg.MaxPages,
		Delay: s.cfg.Delay,
	}
	if req.Query == "" {
		return req, errors.New("missing query parameter q")
	}

	if raw := values.Get("pages"); raw != "" {
		pages, err := strconv.Atoi(raw)
		if err != nil {
			return req, fmt.Errorf("invalid pages %q", raw)
		}
		if pages < 1 || pages > config.MaxPagesLimit {
			return req, fmt.Errorf("pages must be between 1 and %d", config.MaxPagesLimit)
		}
		req.Pages = pages
	}

	if raw := values.Get("delay"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, fmt.Errorf("invalid delay %q", raw)
		}
		delay := config.SecondsToDuration(seconds)
		if delay < 0 || delay > config.MaxDelay {
			return req, fmt.Errorf("delay must be between 0 and %s", config.MaxDelay)
		}
		req.Delay = delay.Round(time.Millisecond)
	}

	return req, req.Validate()
}

// ExportFilename names the CSV download of a query.
func ExportFilename(query string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r == '/' || r == '\\' || r == '"':
			return -1
		}
		return r
	}, strings.TrimSpace(query))
	return "ml_" + name + ".csv"
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
