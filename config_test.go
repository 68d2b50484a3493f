package goplan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brunobiangulo/goplan/llm"
)

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goplan.yaml")
	yml := `
db_path: /tmp/plans.db
chat:
  provider: groq
  model: llama-3.3-70b-versatile
catalog:
  base_url: https://catalog.example.org/edu-sharing
  timeout: 5s
generation:
  draft: false
  concurrency: 4
  effort: high
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "/tmp/plans.db" || cfg.Chat.Provider != "groq" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Catalog.Timeout != 5*time.Second || cfg.Catalog.Repository != "-home-" {
		t.Errorf("catalog = %+v", cfg.Catalog)
	}
	g := cfg.Generation
	if g.Draft || !g.LinkEnvironments || g.Concurrency != 4 || g.TopK != 3 || g.Effort != llm.EffortHigh {
		t.Errorf("generation = %+v", g)
	}
	if cfg.MaxReferenceChars != 24000 {
		t.Errorf("max reference chars = %d", cfg.MaxReferenceChars)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goplan.json")
	if err := os.WriteFile(path, []byte(`{"chat": {"provider": "openai", "model": "gpt-5-mini"}, "storage_dir": "local"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chat.Provider != "openai" || cfg.resolveDBPath() != "goplan.db" {
		t.Errorf("cfg = %+v, db = %s", cfg, cfg.resolveDBPath())
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("chat: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GOPLAN_DB_PATH", "/data/goplan.db")
	t.Setenv("GOPLAN_CHAT_PROVIDER", "groq")
	t.Setenv("GOPLAN_CHAT_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("GOPLAN_CONCURRENCY", "7")
	t.Setenv("GOPLAN_CATALOG_URL", "")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	if cfg.DBPath != "/data/goplan.db" || cfg.Chat.Provider != "groq" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Chat.APIKey != "gsk-test" {
		t.Errorf("api key = %q, want the GROQ_API_KEY fallback", cfg.Chat.APIKey)
	}
	if cfg.Generation.Concurrency != 7 {
		t.Errorf("concurrency = %d", cfg.Generation.Concurrency)
	}
	if cfg.Catalog.BaseURL != DefaultConfig().Catalog.BaseURL {
		t.Errorf("empty env var overrode catalog url: %q", cfg.Catalog.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"negative concurrency", func(c *Config) { c.Generation.Concurrency = -1 }, false},
		{"negative top k", func(c *Config) { c.Generation.TopK = -2 }, false},
		{"unknown effort", func(c *Config) { c.Generation.Effort = "extreme" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	yml := `
- id: n1
  title: Leaf worksheet
  subjects: [Biology]
  preview_url: https://example.org/n1.png
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	nodes, err := loadCatalogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].PreviewURL != "https://example.org/n1.png" || nodes[0].Subjects[0] != "Biology" {
		t.Errorf("nodes = %+v", nodes)
	}
}
