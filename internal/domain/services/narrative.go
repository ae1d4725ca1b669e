package services

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

// NarrativeService manages stories and walks their scene trees.
type NarrativeService struct {
	store    ports.NarrativeStore
	embedder ports.Embedder
	index    ports.VectorIndex
	logger   *zap.Logger
}

// NewNarrativeService creates a new NarrativeService.
func NewNarrativeService(store ports.NarrativeStore, embedder ports.Embedder, index ports.VectorIndex, logger *zap.Logger) *NarrativeService {
	return &NarrativeService{
		store:    store,
		embedder: embedder,
		index:    index,
		logger:   named(logger, "narrative"),
	}
}

// CreateStoryInput holds the fields of a new story.
type CreateStoryInput struct {
	Title          string
	Genre          string
	ContentMode    string
	AutoIllustrate bool
	ContextDepth   int
}

// CreateStory creates a story together with its root node. The story's leaf
// starts at the root.
func (s *NarrativeService) CreateStory(ctx context.Context, in CreateStoryInput) (*entities.Story, *entities.Node, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, nil, errs.Validation("title is required")
	}
	mode, err := entities.ParseContentMode(in.ContentMode)
	if err != nil {
		return nil, nil, err
	}
	if in.ContextDepth < 0 {
		return nil, nil, errs.Validation("context_depth must not be negative, got %d", in.ContextDepth)
	}
	depth := in.ContextDepth
	if depth == 0 {
		depth = entities.DefaultContextDepth
	}

	story := &entities.Story{
		Title:          title,
		Genre:          strings.TrimSpace(in.Genre),
		ContentMode:    mode,
		AutoIllustrate: in.AutoIllustrate,
		ContextDepth:   depth,
	}
	root := &entities.Node{
		Content:  entities.RootContent(title),
		NodeType: entities.NodeTypeRoot,
	}
	if err := s.store.CreateStory(ctx, story, root); err != nil {
		return nil, nil, fmt.Errorf("creating story: %w", err)
	}

	s.logger.Info("story created", zap.String("story_id", story.ID), zap.String("root_id", root.ID))
	return story, root, nil
}

// GetStory returns the story or a NotFound error.
func (s *NarrativeService) GetStory(ctx context.Context, storyID string) (*entities.Story, error) {
	story, err := s.store.FindStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("finding story: %w", err)
	}
	if story == nil {
		return nil, errs.NotFound("story", storyID)
	}
	return story, nil
}

// ListStories lists stories, most recently updated first.
func (s *NarrativeService) ListStories(ctx context.Context, limit, offset int) ([]*entities.Story, error) {
	return s.store.ListStories(ctx, limit, offset)
}

// StorySettings holds optional story setting changes. Nil fields are left as they are.
type StorySettings struct {
	Title          *string
	Genre          *string
	ContentMode    *string
	AutoIllustrate *bool
	ContextDepth   *int
}

// UpdateSettings applies settings to a story.
func (s *NarrativeService) UpdateSettings(ctx context.Context, storyID string, settings StorySettings) (*entities.Story, error) {
	story, err := s.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	if settings.Title != nil {
		title := strings.TrimSpace(*settings.Title)
		if title == "" {
			return nil, errs.Validation("title is required")
		}
		story.Title = title
	}
	if settings.Genre != nil {
		story.Genre = strings.TrimSpace(*settings.Genre)
	}
	if settings.ContentMode != nil {
		mode, err := entities.ParseContentMode(*settings.ContentMode)
		if err != nil {
			return nil, err
		}
		story.ContentMode = mode
	}
	if settings.AutoIllustrate != nil {
		story.AutoIllustrate = *settings.AutoIllustrate
	}
	if settings.ContextDepth != nil {
		if *settings.ContextDepth <= 0 {
			return nil, errs.Validation("context_depth must be positive, got %d", *settings.ContextDepth)
		}
		story.ContextDepth = *settings.ContextDepth
	}

	if err := s.store.UpdateStory(ctx, story); err != nil {
		return nil, fmt.Errorf("updating story: %w", err)
	}
	return story, nil
}

// GetNode returns the node or a NotFound error.
func (s *NarrativeService) GetNode(ctx context.Context, nodeID string) (*entities.Node, error) {
	node, err := s.store.FindNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("finding node: %w", err)
	}
	if node == nil {
		return nil, errs.NotFound("node", nodeID)
	}
	return node, nil
}

// SetLeaf moves a story's current leaf to nodeID.
func (s *NarrativeService) SetLeaf(ctx context.Context, storyID, nodeID string) error {
	return s.store.SetLeaf(ctx, storyID, nodeID)
}

// Ancestors returns up to maxDepth nodes ending at nodeID, oldest first.
// The result is always a suffix of Path(nodeID).
func (s *NarrativeService) Ancestors(ctx context.Context, nodeID string, maxDepth int) ([]*entities.Node, error) {
	if maxDepth <= 0 {
		return []*entities.Node{}, nil
	}
	return s.walk(ctx, nodeID, maxDepth)
}

// Path returns every node from the root to nodeID, oldest first.
func (s *NarrativeService) Path(ctx context.Context, nodeID string) ([]*entities.Node, error) {
	return s.walk(ctx, nodeID, 0)
}

// walk follows parent pointers from nodeID towards the root, collecting at
// most limit nodes (all when limit is 0), and returns them oldest first.
func (s *NarrativeService) walk(ctx context.Context, nodeID string, limit int) ([]*entities.Node, error) {
	var chain []*entities.Node
	seen := make(map[string]bool)
	current := nodeID

	for {
		if seen[current] {
			return nil, fmt.Errorf("cycle detected at node %s", current)
		}
		seen[current] = true

		node, err := s.store.FindNode(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("finding node: %w", err)
		}
		if node == nil {
			if len(chain) == 0 {
				return nil, errs.NotFound("node", nodeID)
			}
			return nil, fmt.Errorf("node %s has missing parent %s", chain[len(chain)-1].ID, current)
		}

		chain = append(chain, node)
		if node.IsRoot() || (limit > 0 && len(chain) == limit) {
			break
		}
		current = *node.ParentID
	}

	slices.Reverse(chain)
	return chain, nil
}

// EditNode replaces a scene's content and, when summary is non-nil, its
// summary, then re-embeds it. If embedding fails the stale vector is cleared
// and removed from the index so retrieval never ranks by old content.
func (s *NarrativeService) EditNode(ctx context.Context, nodeID, content string, summary *string) (*entities.Node, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errs.Validation("content is required")
	}

	node, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.IsRoot() {
		return nil, errs.Validation("the root node cannot be edited")
	}

	node.Content = content
	if summary != nil {
		trimmed := strings.TrimSpace(*summary)
		node.Summary = &trimmed
		if trimmed == "" {
			node.Summary = nil
		}
	}

	embedding, embedErr := s.embedder.Embed(ctx, node.Content)
	if embedErr != nil {
		s.logger.Warn("re-embedding edited node failed, clearing vector",
			zap.String("node_id", node.ID), zap.Error(embedErr))
		node.Embedding = nil
	} else {
		node.Embedding = embedding
	}

	if err := s.store.UpdateNode(ctx, node); err != nil {
		return nil, fmt.Errorf("updating node: %w", err)
	}

	if embedErr != nil {
		if err := s.index.Delete(ctx, node.ID); err != nil {
			s.logger.Warn("removing stale vector failed", zap.String("node_id", node.ID), zap.Error(err))
		}
		return node, nil
	}
	if err := s.index.IndexNode(ctx, *node); err != nil {
		return nil, fmt.Errorf("indexing node: %w", err)
	}
	return node, nil
}

// StoryTree is a story's scene tree keyed by parent ID.
type StoryTree struct {
	Story    *entities.Story
	Root     *entities.Node
	Nodes    map[string]*entities.Node
	Children map[string][]*entities.Node
}

// Tree loads every node of a story.
func (s *NarrativeService) Tree(ctx context.Context, storyID string) (*StoryTree, error) {
	story, err := s.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.ListNodes(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	tree := &StoryTree{
		Story:    story,
		Nodes:    make(map[string]*entities.Node, len(nodes)),
		Children: make(map[string][]*entities.Node),
	}
	for _, n := range nodes {
		tree.Nodes[n.ID] = n
		if n.IsRoot() {
			tree.Root = n
			continue
		}
		tree.Children[*n.ParentID] = append(tree.Children[*n.ParentID], n)
	}
	return tree, nil
}

// CheckIntegrity verifies that a story has exactly one root, that every
// other node reaches it without cycles, and that the leaf is one of its own
// nodes. Violations are reported as a validation error.
func (s *NarrativeService) CheckIntegrity(ctx context.Context, storyID string) error {
	tree, err := s.Tree(ctx, storyID)
	if err != nil {
		return err
	}

	roots := 0
	for _, n := range tree.Nodes {
		if n.IsRoot() {
			roots++
			if n.NodeType != entities.NodeTypeRoot {
				return errs.Validation("parentless node %s has type %s", n.ID, n.NodeType)
			}
		}
	}
	if roots != 1 {
		return errs.Validation("story %s has %d root nodes", storyID, roots)
	}

	for id := range tree.Nodes {
		seen := make(map[string]bool)
		current := tree.Nodes[id]
		for !current.IsRoot() {
			if seen[current.ID] {
				return errs.Validation("cycle through node %s", current.ID)
			}
			seen[current.ID] = true
			parent, ok := tree.Nodes[*current.ParentID]
			if !ok {
				return errs.Validation("node %s has parent %s outside story %s", current.ID, *current.ParentID, storyID)
			}
			current = parent
		}
	}

	if leaf := tree.Story.CurrentLeafID; leaf != nil {
		if _, ok := tree.Nodes[*leaf]; !ok {
			return errs.Validation("leaf %s is not a node of story %s", *leaf, storyID)
		}
	}
	return nil
}

// named returns a child of logger, or a no-op logger when logger is nil.
func named(logger *zap.Logger, name string) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger.Named(name)
}
