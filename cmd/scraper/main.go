package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/pipeline"
	"github.com/aluiziolira/go-scrape-listings/scraper"
	"github.com/aluiziolira/go-scrape-listings/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type options struct {
	cfg          *config.Config
	delaySeconds float64
	randomDelay  time.Duration
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	opts, err := defaultOptions()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := newRootCommand(opts).Execute(); err != nil {
		os.Exit(1)
	}
}

// defaultOptions applies SCRAPER_* environment overrides to the defaults.
func defaultOptions() (*options, error) {
	cfg := config.DefaultConfig()

	if value, ok := config.EnvString("SCRAPER_BASE_URL"); ok {
		cfg.BaseURL = value
	}
	if value, ok := config.EnvString("SCRAPER_QUERY"); ok {
		cfg.Query = value
	}
	if value, ok, err := config.EnvInt("SCRAPER_PAGES"); err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_PAGES: %w", err)
	} else if ok {
		cfg.MaxPages = value
	}
	if value, ok, err := config.EnvDuration("SCRAPER_DELAY"); err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_DELAY: %w", err)
	} else if ok {
		cfg.Delay = value
	}
	if value, ok, err := config.EnvDuration("SCRAPER_TIMEOUT"); err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_TIMEOUT: %w", err)
	} else if ok {
		cfg.Timeout = value
	}
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		cfg.OutputFile = value
	}
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	if value, ok := config.EnvString("SCRAPER_LISTEN_ADDR"); ok {
		cfg.ListenAddr = value
	}
	if value, ok, err := config.EnvInt("SCRAPER_CACHE_SIZE"); err != nil {
		return nil, fmt.Errorf("invalid SCRAPER_CACHE_SIZE: %w", err)
	} else if ok {
		cfg.CacheSize = value
	}

	return &options{
		cfg:          cfg,
		delaySeconds: cfg.Delay.Seconds(),
		randomDelay:  cfg.RandomDelay,
	}, nil
}

func newRootCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "scraper",
		Short:         "Search marketplace listings and export the results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, level := newLogger(opts.cfg.Verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())

			opts.cfg.Delay = config.SecondsToDuration(opts.delaySeconds)
			opts.cfg.RandomDelay = opts.randomDelay
			opts.cfg.OutputFormat = strings.ToLower(opts.cfg.OutputFormat)
			if err := opts.cfg.Validate(); err != nil {
				slog.Error("invalid configuration", slog.Any("error", err))
				return err
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.cfg.BaseURL, "base-url", opts.cfg.BaseURL, "Listing host to search")
	flags.IntVar(&opts.cfg.MaxPages, "pages", opts.cfg.MaxPages, fmt.Sprintf("Result pages to fetch (1-%d)", config.MaxPagesLimit))
	flags.Float64Var(&opts.delaySeconds, "delay", opts.delaySeconds, "Delay between pages in seconds (0-5)")
	flags.DurationVar(&opts.randomDelay, "random-delay", opts.randomDelay, "Random jitter added to every request")
	flags.DurationVar(&opts.cfg.Timeout, "timeout", opts.cfg.Timeout, "Per-request timeout")
	flags.BoolVar(&opts.cfg.RespectRobotsTxt, "respect-robots", opts.cfg.RespectRobotsTxt, "Respect robots.txt directives")
	flags.BoolVarP(&opts.cfg.Verbose, "verbose", "v", opts.cfg.Verbose, "Enable verbose logging")

	root.AddCommand(newSearchCommand(opts), newServeCommand(opts))
	return root
}

func newSearchCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Run one search and write the products to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.cfg.Query = args[0]
			}
			return runSearch(cmd.Context(), opts.cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.cfg.Query, "query", "q", opts.cfg.Query, "Search term")
	flags.StringVarP(&opts.cfg.OutputFile, "output", "o", opts.cfg.OutputFile, "Output file path")
	flags.StringVar(&opts.cfg.OutputFormat, "format", opts.cfg.OutputFormat, "Output format: csv, json, or dual")
	flags.StringVar(&opts.cfg.MetricsAddr, "metrics-addr", opts.cfg.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	return cmd
}

func newServeCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve searches over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts.cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.cfg.ListenAddr, "listen", opts.cfg.ListenAddr, "HTTP listen address")
	flags.IntVar(&opts.cfg.CacheSize, "cache-size", opts.cfg.CacheSize, "Cached search results (0 disables)")
	flags.DurationVar(&opts.cfg.CacheTTL, "cache-ttl", opts.cfg.CacheTTL, "Lifetime of a cached search result")
	return cmd
}

func runSearch(ctx context.Context, cfg *config.Config) error {
	req := cfg.SearchRequest()
	if err := req.Validate(); err != nil {
		slog.Error("invalid search", slog.Any("error", err))
		return err
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return err
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer shutdown(metricsServer, "metrics")
	}

	slog.Info("starting search",
		slog.String("base_url", cfg.BaseURL),
		slog.String("query", req.Query),
		slog.Int("pages", req.Pages),
		slog.Duration("delay", req.Delay),
	)

	result, err := s.Run(ctx, req)
	if err != nil {
		slog.Error("search failed", slog.Any("error", err))
		return err
	}
	if len(result.Products) == 0 {
		slog.Warn("no products found, try another term or more pages")
	}

	if err := pipeline.Export(writer, result.Products); err != nil {
		slog.Error("export failed", slog.Any("error", err))
		return err
	}

	printSummary(result, cfg.OutputFile)
	return nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(s, cfg, s.Metrics.Registry).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", slog.Any("error", err))
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutdown signal received, waiting for in-flight searches to finish")
		shutdown(httpServer, "http")
		return nil
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func shutdown(srv *http.Server, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown failed", slog.String("server", name), slog.Any("error", err))
	}
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".json"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.ScraperResult, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Search complete")

	fmt.Printf("  Query:         %s\n", result.Request.Query)
	fmt.Printf("  Products:      %d\n", result.TotalCount)
	fmt.Printf("  Duplicates:    %d\n", result.DuplicateCount)
	fmt.Printf("  Pages:         %d fetched, %d skipped of %d\n", result.PagesFetched, result.PagesSkipped, result.Request.Pages)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if result.StoppedEarly {
		fmt.Println("  Stopped:       a page had no result items (layout may have changed)")
	}
	if result.Cancelled {
		fmt.Println("  Stopped:       interrupted")
	}
	fmt.Printf("  Duration:      %v\n", result.EndTime.Sub(result.StartTime))
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
