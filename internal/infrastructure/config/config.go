// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigDir is the directory name for storyforge configuration.
	DefaultConfigDir = ".storyforge"
	// DefaultConfigFile is the default config file name.
	DefaultConfigFile = "config.yaml"
	// DefaultDatabaseFile is the default SQLite file name inside the config dir.
	DefaultDatabaseFile = "storyforge.db"
)

// Config holds static infrastructure configuration (read-only after init).
type Config struct {
	Engine      EngineConfig      `yaml:"engine,omitempty"`
	Embedder    EmbedderConfig    `yaml:"embedder,omitempty"`
	Qdrant      QdrantConfig      `yaml:"qdrant,omitempty"`
	SQLite      SQLiteConfig      `yaml:"sqlite,omitempty"`
	Context     ContextConfig     `yaml:"context,omitempty"`
	Coordinator CoordinatorConfig `yaml:"coordinator,omitempty"`
	Logging     LoggingConfig     `yaml:"logging,omitempty"`
}

// EngineConfig holds configuration for the text-generation engine.
// BaseURL points at an OpenAI-compatible endpoint; residency control uses
// the engine's native API on the same host.
type EngineConfig struct {
	BaseURL         string        `yaml:"base_url,omitempty" env:"STORYFORGE_ENGINE_URL"`
	APIKey          string        `yaml:"api_key,omitempty" env:"STORYFORGE_ENGINE_API_KEY"`
	Timeout         time.Duration `yaml:"timeout,omitempty" env:"STORYFORGE_ENGINE_TIMEOUT"`
	PlannerModel    string        `yaml:"planner_model,omitempty" env:"STORYFORGE_PLANNER_MODEL"`
	WriterModel     string        `yaml:"writer_model,omitempty" env:"STORYFORGE_WRITER_MODEL"`
	SafeWriterModel string        `yaml:"safe_writer_model,omitempty" env:"STORYFORGE_SAFE_WRITER_MODEL"`
	SummaryModel    string        `yaml:"summary_model,omitempty" env:"STORYFORGE_SUMMARY_MODEL"`
	VisionModel     string        `yaml:"vision_model,omitempty" env:"STORYFORGE_VISION_MODEL"`
	KeepAlive       string        `yaml:"keep_alive,omitempty" env:"STORYFORGE_KEEP_ALIVE"`
	// UnloadBetweenStages evicts the planner model before the writer runs.
	UnloadBetweenStages bool `yaml:"unload_between_stages,omitempty" env:"STORYFORGE_UNLOAD_BETWEEN_STAGES"`
}

// EmbedderConfig holds configuration for the embedding provider.
type EmbedderConfig struct {
	BaseURL    string        `yaml:"base_url,omitempty" env:"STORYFORGE_EMBEDDER_URL"`
	APIKey     string        `yaml:"api_key,omitempty" env:"STORYFORGE_EMBEDDER_API_KEY"`
	Model      string        `yaml:"model,omitempty" env:"STORYFORGE_EMBEDDER_MODEL"`
	Dimensions int           `yaml:"dimensions,omitempty" env:"STORYFORGE_EMBEDDER_DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout,omitempty" env:"STORYFORGE_EMBEDDER_TIMEOUT"`
}

// QdrantConfig holds configuration for the Qdrant vector database.
// When disabled, an in-process index rebuilt from SQLite is used instead.
type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled" env:"STORYFORGE_QDRANT_ENABLED"`
	Host       string `yaml:"host,omitempty" env:"STORYFORGE_QDRANT_HOST"`
	Port       int    `yaml:"port,omitempty" env:"STORYFORGE_QDRANT_PORT"`
	Collection string `yaml:"collection,omitempty" env:"STORYFORGE_QDRANT_COLLECTION"`
	APIKey     string `yaml:"api_key,omitempty" env:"QDRANT_API_KEY"`
}

// SQLiteConfig holds configuration for the SQLite relational database.
type SQLiteConfig struct {
	// Path is the file path to the SQLite database. Relative paths are
	// resolved against the config directory.
	Path string `yaml:"path,omitempty" env:"STORYFORGE_SQLITE_PATH"`
}

// ContextConfig holds retrieval settings for scene generation.
type ContextConfig struct {
	BudgetTokens  int `yaml:"budget_tokens,omitempty" env:"STORYFORGE_CONTEXT_BUDGET_TOKENS"`
	CharsPerToken int `yaml:"chars_per_token,omitempty"`
	EntityTopK    int `yaml:"entity_top_k,omitempty"`
	HistoryTopK   int `yaml:"history_top_k,omitempty"`
}

// CharBudget returns the context budget in characters.
func (c ContextConfig) CharBudget() int {
	return c.BudgetTokens * c.CharsPerToken
}

// CoordinatorConfig toggles the two engine locks independently.
type CoordinatorConfig struct {
	GenerationLock   bool `yaml:"generation_lock" env:"STORYFORGE_GENERATION_LOCK"`
	IllustrationLock bool `yaml:"illustration_lock" env:"STORYFORGE_ILLUSTRATION_LOCK"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" env:"STORYFORGE_LOG_LEVEL"`
	Format string `yaml:"format,omitempty" env:"STORYFORGE_LOG_FORMAT"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			BaseURL:         "http://localhost:11434",
			APIKey:          "ollama",
			Timeout:         120 * time.Second,
			PlannerModel:    "phi4:latest",
			WriterModel:     "dolphin-mistral:7b",
			SafeWriterModel: "dolphin-mistral:7b",
			SummaryModel:    "phi4:latest",
			VisionModel:     "gemma2:9b",
			KeepAlive:       "24h",
		},
		Embedder: EmbedderConfig{
			BaseURL:    "http://localhost:11434",
			APIKey:     "ollama",
			Model:      "nomic-embed-text:latest",
			Dimensions: 768,
			Timeout:    30 * time.Second,
		},
		Qdrant: QdrantConfig{
			Enabled:    true,
			Host:       "localhost",
			Port:       6334,
			Collection: "storyforge",
		},
		SQLite: SQLiteConfig{
			Path: DefaultDatabaseFile,
		},
		Context: ContextConfig{
			BudgetTokens:  3000,
			CharsPerToken: 4,
			EntityTopK:    5,
			HistoryTopK:   5,
		},
		Coordinator: CoordinatorConfig{
			GenerationLock:   true,
			IllustrationLock: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from the .storyforge directory in the given path.
func Load(basePath string) (*Config, error) {
	configFile := ConfigFilePath(basePath)

	data, err := os.ReadFile(configFile)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s (run 'storyforge init' first)", configFile)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Start with defaults
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if cfg.SQLite.Path != ":memory:" && !filepath.IsAbs(cfg.SQLite.Path) {
		cfg.SQLite.Path = filepath.Join(ConfigDir(basePath), cfg.SQLite.Path)
	}

	return cfg, cfg.Validate()
}

// applyEnvOverrides overlays STORYFORGE_* environment variables.
// Unset variables leave file values untouched.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// Validate checks the values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine.base_url is required")
	}
	if c.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive")
	}
	if c.Embedder.Dimensions <= 0 {
		return fmt.Errorf("embedder.dimensions must be positive")
	}
	if c.Context.BudgetTokens <= 0 || c.Context.CharsPerToken <= 0 {
		return fmt.Errorf("context.budget_tokens and context.chars_per_token must be positive")
	}
	return nil
}

// ConfigDir returns the path to the .storyforge config directory.
func ConfigDir(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir)
}

// ConfigFilePath returns the path to the config file.
func ConfigFilePath(basePath string) string {
	return filepath.Join(basePath, DefaultConfigDir, DefaultConfigFile)
}
