package ports

import (
	"context"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

// VectorIndex is the approximate-nearest-neighbour index over node and
// entity embeddings. Searches return IDs ranked by similarity; the records
// themselves are loaded from the NarrativeStore.
type VectorIndex interface {
	// IndexNode stores or replaces a scene's embedding.
	IndexNode(ctx context.Context, node entities.Node) error

	// IndexEntity stores or replaces an entity's embedding.
	IndexEntity(ctx context.Context, entity entities.Entity) error

	// SearchNodes returns up to limit non-root scene IDs of the story closest
	// to embedding, skipping the IDs in exclude.
	SearchNodes(ctx context.Context, storyID string, embedding []float32, exclude []string, limit int) ([]string, error)

	// SearchEntities returns up to limit entity IDs of the story closest to embedding.
	SearchEntities(ctx context.Context, storyID string, embedding []float32, limit int) ([]string, error)

	// Delete removes a point by ID. Deleting an absent point is not an error.
	Delete(ctx context.Context, id string) error
}
