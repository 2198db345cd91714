package main

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultOptionsEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPER_QUERY", "notebook")
	t.Setenv("SCRAPER_PAGES", "5")
	t.Setenv("SCRAPER_DELAY", "0.25")

	opts, err := defaultOptions()
	if err != nil {
		t.Fatalf("defaultOptions: %v", err)
	}
	if opts.cfg.Query != "notebook" || opts.cfg.MaxPages != 5 || opts.cfg.Delay != 250*time.Millisecond {
		t.Fatalf("env overrides not applied: %+v", opts.cfg)
	}
	if opts.delaySeconds != 0.25 {
		t.Fatalf("delay flag default = %v, want 0.25", opts.delaySeconds)
	}
}

func TestDefaultOptionsInvalidEnv(t *testing.T) {
	t.Setenv("SCRAPER_PAGES", "many")
	if _, err := defaultOptions(); err == nil {
		t.Fatalf("expected error for invalid SCRAPER_PAGES")
	}
}

func TestCreateWriter(t *testing.T) {
	dir := t.TempDir()
	for _, format := range []string{"csv", "json", "dual"} {
		writer, err := createWriter(format, filepath.Join(dir, format, "products.csv"))
		if err != nil {
			t.Fatalf("createWriter(%s): %v", format, err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("close %s: %v", format, err)
		}
	}
	if _, err := createWriter("xml", filepath.Join(dir, "products.xml")); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
