package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultConfigYAML is the default configuration content.
const DefaultConfigYAML = `# Storyforge Configuration

engine:
  # OpenAI-compatible endpoint of the inference engine (Ollama serves /v1).
  base_url: http://localhost:11434
  api_key: ollama
  timeout: 120s
  planner_model: phi4:latest
  writer_model: dolphin-mistral:7b
  safe_writer_model: dolphin-mistral:7b
  summary_model: phi4:latest
  vision_model: gemma2:9b
  keep_alive: 24h
  unload_between_stages: false

embedder:
  base_url: http://localhost:11434
  api_key: ollama
  model: nomic-embed-text:latest
  dimensions: 768
  timeout: 30s

qdrant:
  enabled: true
  host: localhost
  port: 6334
  collection: storyforge
  # api_key: your-api-key (or set QDRANT_API_KEY env var)

sqlite:
  path: storyforge.db

context:
  budget_tokens: 3000
  chars_per_token: 4
  entity_top_k: 5
  history_top_k: 5

coordinator:
  generation_lock: true
  illustration_lock: true

logging:
  level: info
  format: console
`

// WriteDefault creates the .storyforge directory and writes a default config file.
func WriteDefault(basePath string) error {
	configDir := ConfigDir(basePath)
	configFile := ConfigFilePath(basePath)

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists: %s", configFile)
	}

	if err := os.WriteFile(configFile, []byte(DefaultConfigYAML), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Write writes the given config to the config file.
func Write(basePath string, cfg *Config) error {
	configDir := ConfigDir(basePath)

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(configDir, DefaultConfigFile), data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Exists checks if a storyforge config exists in the given path.
func Exists(basePath string) bool {
	_, err := os.Stat(ConfigFilePath(basePath))
	return err == nil
}
