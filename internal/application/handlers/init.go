// Package handlers contains application use case handlers.
package handlers

import (
	"context"
	"fmt"

	"github.com/ersonp/storyforge/internal/domain/ports"
	"github.com/ersonp/storyforge/internal/infrastructure/config"
)

// Storage is what init prepares: the relational schema and, when Qdrant is
// enabled, the vector collection. Close releases both.
type Storage struct {
	Store       ports.NarrativeStore
	Collections ports.CollectionManager
	Close       func() error
}

// StorageOpener connects to the storage described by cfg.
type StorageOpener func(cfg *config.Config) (*Storage, error)

// InitHandler handles project initialization.
type InitHandler struct {
	open StorageOpener
}

// NewInitHandler creates a new init handler.
func NewInitHandler(open StorageOpener) *InitHandler {
	return &InitHandler{
		open: open,
	}
}

// InitResult contains the result of initialization.
type InitResult struct {
	ConfigPath     string `json:"config_path"`
	DatabasePath   string `json:"database_path"`
	CollectionName string `json:"collection_name,omitempty"`
}

// Handle writes the default config under basePath, creates the database
// schema and, when enabled, the Qdrant collection.
func (h *InitHandler) Handle(ctx context.Context, basePath string) (*InitResult, error) {
	if config.Exists(basePath) {
		return nil, fmt.Errorf("storyforge already initialized in %s", basePath)
	}

	if err := config.WriteDefault(basePath); err != nil {
		return nil, fmt.Errorf("writing default config: %w", err)
	}

	cfg, err := config.Load(basePath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	storage, err := h.open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	if storage.Close != nil {
		defer storage.Close()
	}

	if err := storage.Store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	result := &InitResult{
		ConfigPath:   config.ConfigFilePath(basePath),
		DatabasePath: cfg.SQLite.Path,
	}

	if storage.Collections != nil {
		if err := storage.Collections.EnsureCollection(ctx, uint64(cfg.Embedder.Dimensions)); err != nil {
			return nil, fmt.Errorf("creating collection: %w", err)
		}
		result.CollectionName = cfg.Qdrant.Collection
	}

	return result, nil
}
