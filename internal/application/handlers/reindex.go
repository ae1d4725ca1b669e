package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

const reindexPageSize = 100

// ReindexHandler rebuilds the vector index from the narrative store, which
// is the source of truth for every embedding.
type ReindexHandler struct {
	store       ports.NarrativeStore
	embedder    ports.Embedder
	index       ports.VectorIndex
	collections ports.CollectionManager
	dimensions  int
	logger      *zap.Logger
}

// NewReindexHandler creates a new reindex handler. collections may be nil
// when the index has no collection to recreate.
func NewReindexHandler(
	store ports.NarrativeStore,
	embedder ports.Embedder,
	index ports.VectorIndex,
	collections ports.CollectionManager,
	dimensions int,
	logger *zap.Logger,
) *ReindexHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReindexHandler{
		store:       store,
		embedder:    embedder,
		index:       index,
		collections: collections,
		dimensions:  dimensions,
		logger:      logger.Named("reindex"),
	}
}

// ReindexOptions controls a rebuild.
type ReindexOptions struct {
	StoryID      string // Empty rebuilds every story
	Recreate     bool   // Drop and recreate the collection first
	EmbedMissing bool   // Embed and store records saved without a vector
}

// ReindexResult counts what was pushed to the index.
type ReindexResult struct {
	Stories  int `json:"stories"`
	Nodes    int `json:"nodes"`
	Entities int `json:"entities"`
	Embedded int `json:"embedded"`
	Missing  int `json:"missing"`
}

// Handle pushes every stored embedding to the index.
func (h *ReindexHandler) Handle(ctx context.Context, opts ReindexOptions) (*ReindexResult, error) {
	if opts.Recreate {
		if h.collections == nil {
			return nil, errs.Validation("the configured vector index has no collection to recreate")
		}
		if opts.StoryID != "" {
			return nil, errs.Validation("recreating the collection rebuilds every story; omit the story")
		}
		if err := h.collections.DeleteCollection(ctx); err != nil {
			return nil, fmt.Errorf("deleting collection: %w", err)
		}
		if err := h.collections.EnsureCollection(ctx, uint64(h.dimensions)); err != nil {
			return nil, fmt.Errorf("creating collection: %w", err)
		}
	}

	stories, err := h.stories(ctx, opts.StoryID)
	if err != nil {
		return nil, err
	}

	result := &ReindexResult{}
	for _, story := range stories {
		if err := h.reindexStory(ctx, story.ID, opts, result); err != nil {
			return result, fmt.Errorf("story %s: %w", story.ID, err)
		}
		result.Stories++
	}

	h.logger.Info("index rebuilt",
		zap.Int("stories", result.Stories),
		zap.Int("nodes", result.Nodes),
		zap.Int("entities", result.Entities),
		zap.Int("embedded", result.Embedded),
		zap.Int("missing", result.Missing),
	)
	return result, nil
}

func (h *ReindexHandler) stories(ctx context.Context, storyID string) ([]*entities.Story, error) {
	if storyID != "" {
		story, err := h.store.FindStory(ctx, storyID)
		if err != nil {
			return nil, fmt.Errorf("finding story: %w", err)
		}
		if story == nil {
			return nil, errs.NotFound("story", storyID)
		}
		return []*entities.Story{story}, nil
	}

	var all []*entities.Story
	for offset := 0; ; offset += reindexPageSize {
		page, err := h.store.ListStories(ctx, reindexPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("listing stories: %w", err)
		}
		all = append(all, page...)
		if len(page) < reindexPageSize {
			return all, nil
		}
	}
}

func (h *ReindexHandler) reindexStory(ctx context.Context, storyID string, opts ReindexOptions, result *ReindexResult) error {
	nodes, err := h.store.ListNodes(ctx, storyID)
	if err != nil {
		return fmt.Errorf("listing nodes: %w", err)
	}
	for _, node := range nodes {
		if node.IsRoot() {
			continue
		}
		if len(node.Embedding) == 0 {
			if !opts.EmbedMissing {
				result.Missing++
				continue
			}
			node.Embedding, err = h.embedder.Embed(ctx, node.Content)
			if err != nil {
				return fmt.Errorf("embedding node %s: %w", node.ID, err)
			}
			if err := h.store.UpdateNode(ctx, node); err != nil {
				return fmt.Errorf("storing node %s: %w", node.ID, err)
			}
			result.Embedded++
		}
		if err := h.index.IndexNode(ctx, *node); err != nil {
			return fmt.Errorf("indexing node %s: %w", node.ID, err)
		}
		result.Nodes++
	}

	bible, err := h.store.ListEntities(ctx, storyID)
	if err != nil {
		return fmt.Errorf("listing entities: %w", err)
	}
	for _, entity := range bible {
		if len(entity.Embedding) == 0 {
			if !opts.EmbedMissing {
				result.Missing++
				continue
			}
			entity.Embedding, err = h.embedder.Embed(ctx, entity.EmbeddingText())
			if err != nil {
				return fmt.Errorf("embedding entity %s: %w", entity.ID, err)
			}
			if err := h.store.UpdateEntity(ctx, entity); err != nil {
				return fmt.Errorf("storing entity %s: %w", entity.ID, err)
			}
			result.Embedded++
		}
		if err := h.index.IndexEntity(ctx, *entity); err != nil {
			return fmt.Errorf("indexing entity %s: %w", entity.ID, err)
		}
		result.Entities++
	}
	return nil
}
