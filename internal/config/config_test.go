package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Splitter.ParentSize != 1500 || cfg.Splitter.ChildSize != 400 || cfg.Splitter.Overlap != 50 {
		t.Errorf("splitter defaults = %+v", cfg.Splitter)
	}
	if cfg.Sparse.K1 != 1.5 || cfg.Sparse.B != 0.75 || cfg.Sparse.VocabSize != 100_000 {
		t.Errorf("sparse defaults = %+v", cfg.Sparse)
	}
	if cfg.Upload.BatchSize != 128 {
		t.Errorf("upload batch size = %d, want 128", cfg.Upload.BatchSize)
	}
	if cfg.Search.RRFK != 60 || cfg.Search.CacheTTLSecs != 300 {
		t.Errorf("search defaults = %+v", cfg.Search)
	}
	if cfg.Embedding.CacheTTLSecs != 3600 {
		t.Errorf("embedding cache ttl = %d, want 3600", cfg.Embedding.CacheTTLSecs)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := strings.Join([]string{
		"splitter:",
		"  parent_size: 1000",
		"  child_size: 200",
		"  overlap: 20",
		"upload:",
		"  batch_size: 250",
		"queue:",
		"  driver: postgres",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Splitter.ParentSize != 1000 || cfg.Splitter.ChildSize != 200 {
		t.Errorf("splitter = %+v", cfg.Splitter)
	}
	if cfg.Upload.BatchSize != 250 {
		t.Errorf("batch size = %d, want 250", cfg.Upload.BatchSize)
	}
	if cfg.Queue.Driver != "postgres" {
		t.Errorf("queue driver = %q, want postgres", cfg.Queue.Driver)
	}
	// Untouched sections keep their defaults.
	if cfg.Search.RRFK != 60 {
		t.Errorf("rrf k = %d, want default 60", cfg.Search.RRFK)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("redis:\n  url: redis://file:6379\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REDIS_URL", "redis://env:6379")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Redis.URL != "redis://env:6379" {
		t.Errorf("redis url = %q, want env value", cfg.Redis.URL)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("worker concurrency = %d, want 8", cfg.Worker.Concurrency)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "overlap at child size", yaml: "splitter:\n  parent_size: 100\n  child_size: 50\n  overlap: 50\n"},
		{name: "child above parent", yaml: "splitter:\n  parent_size: 100\n  child_size: 200\n  overlap: 10\n"},
		{name: "batch size too small", yaml: "upload:\n  batch_size: 10\n"},
		{name: "batch size too large", yaml: "upload:\n  batch_size: 1000\n"},
		{name: "bad queue driver", yaml: "queue:\n  driver: kafka\n"},
		{name: "b out of range", yaml: "sparse:\n  k1: 1.5\n  b: 1.5\n  vocab_size: 100\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("splitter: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() accepted malformed yaml")
	}
}
