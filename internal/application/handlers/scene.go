package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/ports"
	"github.com/ersonp/storyforge/internal/domain/services"
)

// DefaultSearchLimit is the number of scenes returned by a search.
const DefaultSearchLimit = 5

// SceneHandler handles scene generation and navigation of the scene tree.
type SceneHandler struct {
	orchestrator *services.Orchestrator
	narrative    *services.NarrativeService
	store        ports.NarrativeStore
	embedder     ports.Embedder
	index        ports.VectorIndex
}

// NewSceneHandler creates a new scene handler.
func NewSceneHandler(
	orchestrator *services.Orchestrator,
	narrative *services.NarrativeService,
	store ports.NarrativeStore,
	embedder ports.Embedder,
	index ports.VectorIndex,
) *SceneHandler {
	return &SceneHandler{
		orchestrator: orchestrator,
		narrative:    narrative,
		store:        store,
		embedder:     embedder,
		index:        index,
	}
}

// GenerateInput describes a scene to write. ParentID defaults to the story's
// current leaf. A non-nil OnEvent streams progress.
type GenerateInput struct {
	StoryID  string
	ParentID string
	Prompt   string
	OnEvent  func(entities.StreamEvent)
}

// HandleGenerate writes a new scene and moves the story's leaf to it.
func (h *SceneHandler) HandleGenerate(ctx context.Context, in GenerateInput) (*entities.Node, error) {
	if in.OnEvent != nil {
		return h.orchestrator.GenerateSceneStream(ctx, in.StoryID, in.ParentID, in.Prompt, in.OnEvent)
	}
	return h.orchestrator.GenerateScene(ctx, in.StoryID, in.ParentID, in.Prompt)
}

// BranchInput describes an alternative to an existing scene.
type BranchInput struct {
	NodeID  string
	Prompt  string
	OnEvent func(entities.StreamEvent)
}

// HandleBranch writes a sibling of the given scene.
func (h *SceneHandler) HandleBranch(ctx context.Context, in BranchInput) (*entities.Node, error) {
	if in.OnEvent != nil {
		return h.orchestrator.CreateBranchStream(ctx, in.NodeID, in.Prompt, in.OnEvent)
	}
	return h.orchestrator.CreateBranch(ctx, in.NodeID, in.Prompt)
}

// HandleEdit replaces a scene's content and optionally its summary.
func (h *SceneHandler) HandleEdit(ctx context.Context, nodeID, content string, summary *string) (*entities.Node, error) {
	return h.narrative.EditNode(ctx, nodeID, content, summary)
}

// HandleShow returns a single node.
func (h *SceneHandler) HandleShow(ctx context.Context, nodeID string) (*entities.Node, error) {
	return h.narrative.GetNode(ctx, nodeID)
}

// HandlePath returns the scenes from the root to nodeID, or to the story's
// current leaf when nodeID is empty.
func (h *SceneHandler) HandlePath(ctx context.Context, storyID, nodeID string) ([]*entities.Node, error) {
	if nodeID == "" {
		story, err := h.narrative.GetStory(ctx, storyID)
		if err != nil {
			return nil, err
		}
		if story.CurrentLeafID == nil {
			return []*entities.Node{}, nil
		}
		nodeID = *story.CurrentLeafID
	}
	return h.narrative.Path(ctx, nodeID)
}

// HandleSelect moves the story's current leaf to nodeID, so the next scene
// continues from there.
func (h *SceneHandler) HandleSelect(ctx context.Context, storyID, nodeID string) error {
	if _, err := h.narrative.GetNode(ctx, nodeID); err != nil {
		return err
	}
	return h.narrative.SetLeaf(ctx, storyID, nodeID)
}

// TreeRow is one node of a depth-first tree listing.
type TreeRow struct {
	Node   *entities.Node `json:"node"`
	Depth  int            `json:"depth"`
	OnPath bool           `json:"on_path"`
	IsLeaf bool           `json:"is_current_leaf"`
}

// HandleTree lists a story's nodes depth first, siblings in creation order,
// marking the path to the current leaf.
func (h *SceneHandler) HandleTree(ctx context.Context, storyID string) ([]TreeRow, error) {
	tree, err := h.narrative.Tree(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if tree.Root == nil {
		return []TreeRow{}, nil
	}

	onPath := make(map[string]bool)
	var leafID string
	if tree.Story.CurrentLeafID != nil {
		leafID = *tree.Story.CurrentLeafID
		for n := tree.Nodes[leafID]; n != nil && !onPath[n.ID]; {
			onPath[n.ID] = true
			if n.IsRoot() {
				break
			}
			n = tree.Nodes[*n.ParentID]
		}
	}

	rows := make([]TreeRow, 0, len(tree.Nodes))
	var visit func(n *entities.Node, depth int)
	visit = func(n *entities.Node, depth int) {
		rows = append(rows, TreeRow{
			Node:   n,
			Depth:  depth,
			OnPath: onPath[n.ID],
			IsLeaf: n.ID == leafID,
		})
		for _, child := range tree.Children[n.ID] {
			visit(child, depth+1)
		}
	}
	visit(tree.Root, 0)
	return rows, nil
}

// HandleSearch returns the scenes of a story closest in meaning to query.
func (h *SceneHandler) HandleSearch(ctx context.Context, storyID, query string, limit int) ([]*entities.Node, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.Validation("query is required")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if _, err := h.narrative.GetStory(ctx, storyID); err != nil {
		return nil, err
	}

	embedding, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	ids, err := h.index.SearchNodes(ctx, storyID, embedding, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("searching scenes: %w", err)
	}
	nodes, err := h.store.FindNodes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading scenes: %w", err)
	}
	return nodes, nil
}
