package handlers

import (
	"context"
	"fmt"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/services"
)

// DefaultStoryListLimit caps story listings when no limit is given.
const DefaultStoryListLimit = 50

// StoryHandler handles story lifecycle operations.
type StoryHandler struct {
	narrative *services.NarrativeService
}

// NewStoryHandler creates a new story handler.
func NewStoryHandler(narrative *services.NarrativeService) *StoryHandler {
	return &StoryHandler{
		narrative: narrative,
	}
}

// StoryCreateResult contains a new story and its root node.
type StoryCreateResult struct {
	Story *entities.Story `json:"story"`
	Root  *entities.Node  `json:"root"`
}

// HandleCreate creates a story with its root node.
func (h *StoryHandler) HandleCreate(ctx context.Context, in services.CreateStoryInput) (*StoryCreateResult, error) {
	story, root, err := h.narrative.CreateStory(ctx, in)
	if err != nil {
		return nil, err
	}
	return &StoryCreateResult{Story: story, Root: root}, nil
}

// HandleList lists stories, most recently updated first.
func (h *StoryHandler) HandleList(ctx context.Context, limit, offset int) ([]*entities.Story, error) {
	if limit <= 0 {
		limit = DefaultStoryListLimit
	}
	if offset < 0 {
		offset = 0
	}
	stories, err := h.narrative.ListStories(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing stories: %w", err)
	}
	return stories, nil
}

// StoryShowResult describes a story and the shape of its tree.
type StoryShowResult struct {
	Story      *entities.Story `json:"story"`
	NodeCount  int             `json:"node_count"`
	LeafCount  int             `json:"leaf_count"`
	PathLength int             `json:"path_length"`
	Leaf       *entities.Node  `json:"leaf,omitempty"`
}

// HandleShow returns a story with tree statistics and its current leaf.
func (h *StoryHandler) HandleShow(ctx context.Context, storyID string) (*StoryShowResult, error) {
	tree, err := h.narrative.Tree(ctx, storyID)
	if err != nil {
		return nil, err
	}

	result := &StoryShowResult{
		Story:     tree.Story,
		NodeCount: len(tree.Nodes),
	}
	for id := range tree.Nodes {
		if len(tree.Children[id]) == 0 {
			result.LeafCount++
		}
	}

	if leafID := tree.Story.CurrentLeafID; leafID != nil {
		if leaf, ok := tree.Nodes[*leafID]; ok {
			result.Leaf = leaf
			for n := leaf; n != nil && !n.IsRoot() && result.PathLength < len(tree.Nodes); n = tree.Nodes[*n.ParentID] {
				result.PathLength++
			}
		}
	}
	return result, nil
}

// HandleUpdate applies setting changes such as the content mode.
func (h *StoryHandler) HandleUpdate(ctx context.Context, storyID string, settings services.StorySettings) (*entities.Story, error) {
	return h.narrative.UpdateSettings(ctx, storyID, settings)
}

// HandleCheck verifies the structural integrity of a story's tree.
func (h *StoryHandler) HandleCheck(ctx context.Context, storyID string) error {
	return h.narrative.CheckIntegrity(ctx, storyID)
}
