// Package memory provides an in-process VectorIndex for running without Qdrant.
package memory

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

type point struct {
	storyID string
	root    bool
	entity  bool
	vector  []float32
}

// Index is a brute-force cosine index. It is safe for concurrent use.
type Index struct {
	mu     sync.RWMutex
	points map[string]point
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{points: make(map[string]point)}
}

// IndexNode stores or replaces a scene's embedding.
func (i *Index) IndexNode(_ context.Context, node entities.Node) error {
	if len(node.Embedding) == 0 {
		return nil
	}
	i.put(node.ID, point{
		storyID: node.StoryID,
		root:    node.NodeType == entities.NodeTypeRoot,
		vector:  slices.Clone(node.Embedding),
	})
	return nil
}

// IndexEntity stores or replaces an entity's embedding.
func (i *Index) IndexEntity(_ context.Context, entity entities.Entity) error {
	if len(entity.Embedding) == 0 {
		return nil
	}
	i.put(entity.ID, point{
		storyID: entity.StoryID,
		entity:  true,
		vector:  slices.Clone(entity.Embedding),
	})
	return nil
}

func (i *Index) put(id string, p point) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.points[id] = p
}

// SearchNodes returns the closest non-root scenes of a story, skipping exclude.
func (i *Index) SearchNodes(_ context.Context, storyID string, embedding []float32, exclude []string, limit int) ([]string, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	return i.search(embedding, limit, func(id string, p point) bool {
		if p.entity || p.root || p.storyID != storyID {
			return false
		}
		_, excluded := skip[id]
		return !excluded
	}), nil
}

// SearchEntities returns the closest World Bible entities of a story.
func (i *Index) SearchEntities(_ context.Context, storyID string, embedding []float32, limit int) ([]string, error) {
	return i.search(embedding, limit, func(_ string, p point) bool {
		return p.entity && p.storyID == storyID
	}), nil
}

// Delete removes a point by ID.
func (i *Index) Delete(_ context.Context, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.points, id)
	return nil
}

// Len reports the number of indexed points.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.points)
}

type scored struct {
	id    string
	score float64
}

func (i *Index) search(embedding []float32, limit int, keep func(string, point) bool) []string {
	if limit <= 0 || len(embedding) == 0 {
		return []string{}
	}

	i.mu.RLock()
	hits := make([]scored, 0, len(i.points))
	for id, p := range i.points {
		if !keep(id, p) || len(p.vector) != len(embedding) {
			continue
		}
		hits = append(hits, scored{id: id, score: cosine(embedding, p.vector)})
	}
	i.mu.RUnlock()

	// Ties break on ID so results are stable across map iteration orders.
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].id < hits[b].id
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	ids := make([]string, len(hits))
	for k, h := range hits {
		ids[k] = h.id
	}
	return ids
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for k := range a {
		dot += float64(a[k]) * float64(b[k])
		na += float64(a[k]) * float64(a[k])
		nb += float64(b[k]) * float64(b[k])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
