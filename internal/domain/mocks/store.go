package mocks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
)

// Store is an in-memory implementation of ports.NarrativeStore with the same
// observable semantics as the SQLite repository. Records are copied on the
// way in and out so callers cannot mutate stored state without an update.
type Store struct {
	// Err, when set, is returned by every operation.
	Err error
	// AppendErr, when set, is returned by AppendChild only.
	AppendErr error

	mu       sync.Mutex
	seq      int
	stories  map[string]*entities.Story
	nodes    map[string]*entities.Node
	order    map[string]int
	entities map[string]*entities.Entity
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		stories:  make(map[string]*entities.Story),
		nodes:    make(map[string]*entities.Node),
		order:    make(map[string]int),
		entities: make(map[string]*entities.Entity),
	}
}

func (m *Store) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// EnsureSchema returns the configured error.
func (m *Store) EnsureSchema(_ context.Context) error {
	return m.Err
}

// Close is a no-op.
func (m *Store) Close() error {
	return nil
}

// CreateStory inserts the story and its root and points the leaf at the root.
func (m *Store) CreateStory(_ context.Context, story *entities.Story, root *entities.Node) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if story.ID == "" {
		story.ID = m.nextID("story")
	}
	if root.ID == "" {
		root.ID = m.nextID("node")
	}
	now := time.Now().UTC()
	story.CreatedAt, story.UpdatedAt = now, now
	root.StoryID = story.ID
	root.ParentID = nil
	root.NodeType = entities.NodeTypeRoot
	root.CreatedAt = now
	leaf := root.ID
	story.CurrentLeafID = &leaf

	m.stories[story.ID] = copyStory(story)
	m.putNode(root)
	return nil
}

// FindStory returns the story or nil.
func (m *Store) FindStory(_ context.Context, storyID string) (*entities.Story, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stories[storyID]; ok {
		return copyStory(s), nil
	}
	return nil, nil
}

// ListStories lists stories, most recently updated first.
func (m *Store) ListStories(_ context.Context, limit, offset int) ([]*entities.Story, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*entities.Story, 0, len(m.stories))
	for _, s := range m.stories {
		all = append(all, copyStory(s))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// UpdateStory persists story settings, leaving the leaf untouched.
func (m *Store) UpdateStory(_ context.Context, story *entities.Story) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.stories[story.ID]
	if !ok {
		return errs.NotFound("story", story.ID)
	}
	updated := copyStory(story)
	updated.CurrentLeafID = existing.CurrentLeafID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = time.Now().UTC()
	story.UpdatedAt = updated.UpdatedAt
	m.stories[story.ID] = updated
	return nil
}

// SetLeaf moves the story's current leaf.
func (m *Store) SetLeaf(_ context.Context, storyID, nodeID string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[nodeID]
	if !ok {
		return errs.NotFound("node", nodeID)
	}
	story, ok := m.stories[storyID]
	if !ok {
		return errs.NotFound("story", storyID)
	}
	if node.StoryID != storyID {
		return errs.Validation("node %s does not belong to story %s", nodeID, storyID)
	}
	leaf := nodeID
	story.CurrentLeafID = &leaf
	story.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendChild inserts node under its parent.
func (m *Store) AppendChild(_ context.Context, node *entities.Node) error {
	if m.Err != nil {
		return m.Err
	}
	if m.AppendErr != nil {
		return m.AppendErr
	}
	if node.ParentID == nil {
		return errs.Validation("child node requires a parent")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	parent, ok := m.nodes[*node.ParentID]
	if !ok || parent.StoryID != node.StoryID {
		return errs.NotFound("parent node", *node.ParentID)
	}
	if node.ID == "" {
		node.ID = m.nextID("node")
	}
	if node.NodeType == "" {
		node.NodeType = entities.NodeTypeScene
	}
	node.CreatedAt = time.Now().UTC()
	m.putNode(node)
	return nil
}

func (m *Store) putNode(node *entities.Node) {
	if _, ok := m.order[node.ID]; !ok {
		m.seq++
		m.order[node.ID] = m.seq
	}
	m.nodes[node.ID] = copyNode(node)
}

// FindNode returns the node or nil.
func (m *Store) FindNode(_ context.Context, nodeID string) (*entities.Node, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[nodeID]; ok {
		return copyNode(n), nil
	}
	return nil, nil
}

// FindNodes returns the nodes with the given IDs, in order, skipping missing ones.
func (m *Store) FindNodes(_ context.Context, nodeIDs []string) ([]*entities.Node, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*entities.Node, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if n, ok := m.nodes[id]; ok {
			result = append(result, copyNode(n))
		}
	}
	return result, nil
}

// ListNodes lists every node of a story in creation order.
func (m *Store) ListNodes(_ context.Context, storyID string) ([]*entities.Node, error) {
	return m.filterNodes(func(n *entities.Node) bool { return n.StoryID == storyID })
}

// Children lists the direct children of a node in creation order.
func (m *Store) Children(_ context.Context, nodeID string) ([]*entities.Node, error) {
	return m.filterNodes(func(n *entities.Node) bool { return n.ParentID != nil && *n.ParentID == nodeID })
}

func (m *Store) filterNodes(keep func(*entities.Node) bool) ([]*entities.Node, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*entities.Node, 0)
	for _, n := range m.nodes {
		if keep(n) {
			result = append(result, copyNode(n))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return m.order[result[i].ID] < m.order[result[j].ID]
	})
	return result, nil
}

// UpdateNode persists content, summary, embedding and metadata.
func (m *Store) UpdateNode(_ context.Context, node *entities.Node) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.nodes[node.ID]
	if !ok {
		return errs.NotFound("node", node.ID)
	}
	updated := copyNode(existing)
	updated.Content = node.Content
	updated.Summary = node.Summary
	updated.Embedding = slices.Clone(node.Embedding)
	updated.Metadata = node.Metadata
	m.nodes[node.ID] = updated
	return nil
}

// SaveEntity inserts a new entity.
func (m *Store) SaveEntity(_ context.Context, entity *entities.Entity) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entity.NormalizedName = entities.NormalizeName(entity.Name)
	if m.nameTaken(entity) {
		return errs.Validation("entity %q already exists in story %s", entity.Name, entity.StoryID)
	}
	if entity.ID == "" {
		entity.ID = m.nextID("entity")
	}
	if entity.Version == 0 {
		entity.Version = 1
	}
	now := time.Now().UTC()
	entity.CreatedAt, entity.UpdatedAt = now, now
	m.entities[entity.ID] = copyEntity(entity)
	return nil
}

// UpdateEntity persists an edited entity.
func (m *Store) UpdateEntity(_ context.Context, entity *entities.Entity) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[entity.ID]; !ok {
		return errs.NotFound("entity", entity.ID)
	}
	entity.NormalizedName = entities.NormalizeName(entity.Name)
	if m.nameTaken(entity) {
		return errs.Validation("entity %q already exists in story %s", entity.Name, entity.StoryID)
	}
	entity.UpdatedAt = time.Now().UTC()
	m.entities[entity.ID] = copyEntity(entity)
	return nil
}

func (m *Store) nameTaken(entity *entities.Entity) bool {
	for _, e := range m.entities {
		if e.ID != entity.ID && e.StoryID == entity.StoryID && e.NormalizedName == entity.NormalizedName {
			return true
		}
	}
	return false
}

// FindEntity returns the entity or nil.
func (m *Store) FindEntity(_ context.Context, entityID string) (*entities.Entity, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entities[entityID]; ok {
		return copyEntity(e), nil
	}
	return nil, nil
}

// FindEntityByName finds an entity by name, case-insensitively.
func (m *Store) FindEntityByName(_ context.Context, storyID, name string) (*entities.Entity, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := entities.NormalizeName(name)
	for _, e := range m.entities {
		if e.StoryID == storyID && e.NormalizedName == normalized {
			return copyEntity(e), nil
		}
	}
	return nil, nil
}

// FindEntities returns the entities with the given IDs, in order.
func (m *Store) FindEntities(_ context.Context, entityIDs []string) ([]*entities.Entity, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*entities.Entity, 0, len(entityIDs))
	for _, id := range entityIDs {
		if e, ok := m.entities[id]; ok {
			result = append(result, copyEntity(e))
		}
	}
	return result, nil
}

// ListEntities lists a story's World Bible ordered by name.
func (m *Store) ListEntities(_ context.Context, storyID string) ([]*entities.Entity, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*entities.Entity, 0)
	for _, e := range m.entities {
		if e.StoryID == storyID {
			result = append(result, copyEntity(e))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// DeleteEntity deletes an entity by ID.
func (m *Store) DeleteEntity(_ context.Context, entityID string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entities[entityID]; !ok {
		return errs.NotFound("entity", entityID)
	}
	delete(m.entities, entityID)
	return nil
}

func copyStory(s *entities.Story) *entities.Story {
	c := *s
	if s.CurrentLeafID != nil {
		leaf := *s.CurrentLeafID
		c.CurrentLeafID = &leaf
	}
	return &c
}

func copyNode(n *entities.Node) *entities.Node {
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.Summary != nil {
		s := *n.Summary
		c.Summary = &s
	}
	c.Embedding = slices.Clone(n.Embedding)
	return &c
}

func copyEntity(e *entities.Entity) *entities.Entity {
	c := *e
	c.Embedding = slices.Clone(e.Embedding)
	return &c
}
