package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

// VectorIndex is a mock implementation of ports.VectorIndex that ranks by
// dot product over everything indexed.
type VectorIndex struct {
	Err       error
	SearchErr error

	mu       sync.Mutex
	nodes    map[string]entities.Node
	entities map[string]entities.Entity
	deleted  []string
}

// NewVectorIndex creates an empty mock index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{
		nodes:    make(map[string]entities.Node),
		entities: make(map[string]entities.Entity),
	}
}

// IndexNode stores the node.
func (m *VectorIndex) IndexNode(_ context.Context, node entities.Node) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[node.ID] = node
	return nil
}

// IndexEntity stores the entity.
func (m *VectorIndex) IndexEntity(_ context.Context, entity entities.Entity) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entity.ID] = entity
	return nil
}

// SearchNodes ranks the story's non-root scenes, skipping exclude.
func (m *VectorIndex) SearchNodes(_ context.Context, storyID string, embedding []float32, exclude []string, limit int) ([]string, error) {
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []hit
	for id, n := range m.nodes {
		if n.StoryID != storyID || n.IsRoot() || skip[id] || len(n.Embedding) == 0 {
			continue
		}
		hits = append(hits, hit{id: id, score: dot(embedding, n.Embedding)})
	}
	return top(hits, limit), nil
}

// SearchEntities ranks the story's entities.
func (m *VectorIndex) SearchEntities(_ context.Context, storyID string, embedding []float32, limit int) ([]string, error) {
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []hit
	for id, e := range m.entities {
		if e.StoryID != storyID || len(e.Embedding) == 0 {
			continue
		}
		hits = append(hits, hit{id: id, score: dot(embedding, e.Embedding)})
	}
	return top(hits, limit), nil
}

// Delete removes a point.
func (m *VectorIndex) Delete(_ context.Context, id string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	delete(m.entities, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// Has reports whether id is currently indexed.
func (m *VectorIndex) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, n := m.nodes[id]
	_, e := m.entities[id]
	return n || e
}

// Deleted returns the IDs passed to Delete.
func (m *VectorIndex) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

type hit struct {
	id    string
	score float32
}

func top(hits []hit, limit int) []string {
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].id < hits[b].id
	})
	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		if i < len(b) {
			s += a[i] * b[i]
		}
	}
	return s
}
