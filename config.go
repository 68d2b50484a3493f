package goplan

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/goplan/catalog"
	"github.com/brunobiangulo/goplan/llm"
	"github.com/brunobiangulo/goplan/orchestrator"
)

// Config holds all configuration for the goplan engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.goplan/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.goplan/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// Chat is the generative backend.
	Chat llm.Config `json:"chat" yaml:"chat"`

	// Catalog is the learning-resource repository. An empty base URL
	// disables the HTTP catalog.
	Catalog catalog.Config `json:"catalog" yaml:"catalog"`

	// CatalogFile points at a YAML or JSON list of catalog nodes served
	// from memory. It takes precedence over the HTTP catalog.
	CatalogFile string `json:"catalog_file" yaml:"catalog_file"`

	// Generation configures the orchestrator phases.
	Generation orchestrator.Config `json:"generation" yaml:"generation"`

	// ReferenceDir holds the documents a generate request may name as
	// references. Empty disables named references.
	ReferenceDir string `json:"reference_dir" yaml:"reference_dir"`

	// MaxReferenceChars caps the text taken from each reference document.
	MaxReferenceChars int `json:"max_reference_chars" yaml:"max_reference_chars"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// The database is stored in ~/.goplan/goplan.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "goplan",
		StorageDir: "home",
		Chat: llm.Config{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Catalog:           catalog.DefaultConfig(),
		Generation:        orchestrator.DefaultConfig(),
		MaxReferenceChars: 24000,
	}
}

// LoadConfig reads a YAML (or JSON) config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GOPLAN_* environment variables and falls
// back to the well-known provider key variables.
func (c *Config) ApplyEnv() {
	for name, dst := range map[string]*string{
		"GOPLAN_DB_PATH":       &c.DBPath,
		"GOPLAN_CHAT_PROVIDER": &c.Chat.Provider,
		"GOPLAN_CHAT_MODEL":    &c.Chat.Model,
		"GOPLAN_CHAT_BASE_URL": &c.Chat.BaseURL,
		"GOPLAN_CHAT_API_KEY":  &c.Chat.APIKey,
		"GOPLAN_CATALOG_URL":   &c.Catalog.BaseURL,
		"GOPLAN_CATALOG_FILE":  &c.CatalogFile,
		"GOPLAN_REFERENCE_DIR": &c.ReferenceDir,
	} {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	if v, err := strconv.ParseBool(os.Getenv("GOPLAN_CHAT_REASONING")); err == nil {
		c.Chat.Reasoning = v
	}
	if v, err := strconv.Atoi(os.Getenv("GOPLAN_CONCURRENCY")); err == nil && v > 0 {
		c.Generation.Concurrency = v
	}

	if c.Chat.APIKey == "" {
		switch c.Chat.Provider {
		case "openai":
			c.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			c.Chat.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	if c.Generation.Concurrency < 0 {
		return fmt.Errorf("%w: concurrency must not be negative", ErrInvalidConfig)
	}
	if c.Generation.TopK < 0 || c.Generation.MaxCandidates < 0 {
		return fmt.Errorf("%w: top_k and max_candidates must not be negative", ErrInvalidConfig)
	}
	switch c.Generation.Effort {
	case "", llm.EffortLow, llm.EffortMedium, llm.EffortHigh:
	default:
		return fmt.Errorf("%w: unknown effort %q", ErrInvalidConfig, c.Generation.Effort)
	}
	return nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "goplan"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".goplan", name+".db")
	}
}

// loadCatalogFile reads a list of catalog nodes.
func loadCatalogFile(path string) (catalog.Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	var nodes []catalog.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}
	return catalog.Static(nodes), nil
}
