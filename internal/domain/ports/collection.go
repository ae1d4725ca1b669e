// Package ports defines interfaces for external service communication.
package ports

import "context"

// CollectionManager handles vector collection lifecycle operations.
// It is kept apart from VectorIndex so the in-process index, which has no
// collection concept, only needs the data operations.
type CollectionManager interface {
	// EnsureCollection creates the collection if it doesn't exist.
	EnsureCollection(ctx context.Context, vectorSize uint64) error

	// DeleteCollection removes the collection and all its points.
	DeleteCollection(ctx context.Context) error
}
