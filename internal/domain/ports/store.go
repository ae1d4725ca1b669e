package ports

import (
	"context"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

// NarrativeStore is durable storage for stories, their scene trees and their
// World Bibles. Find methods return (nil, nil) when the record is absent;
// mutations report missing records with errs.NotFound.
type NarrativeStore interface {
	// EnsureSchema creates the database schema if it doesn't exist.
	EnsureSchema(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// Story operations

	// CreateStory atomically inserts the story and its root node and points
	// the story's leaf at the root.
	CreateStory(ctx context.Context, story *entities.Story, root *entities.Node) error

	// FindStory finds a story by ID.
	FindStory(ctx context.Context, storyID string) (*entities.Story, error)

	// ListStories lists stories, most recently updated first.
	ListStories(ctx context.Context, limit, offset int) ([]*entities.Story, error)

	// UpdateStory persists story settings. The leaf pointer is not touched.
	UpdateStory(ctx context.Context, story *entities.Story) error

	// SetLeaf moves the story's current leaf. It fails with errs.ErrValidation
	// when the node belongs to another story.
	SetLeaf(ctx context.Context, storyID, nodeID string) error

	// Node operations

	// AppendChild inserts node under node.ParentID. The parent must already
	// exist in node.StoryID.
	AppendChild(ctx context.Context, node *entities.Node) error

	// FindNode finds a node by ID.
	FindNode(ctx context.Context, nodeID string) (*entities.Node, error)

	// FindNodes finds the nodes with the given IDs, in the given order.
	// Missing IDs are skipped.
	FindNodes(ctx context.Context, nodeIDs []string) ([]*entities.Node, error)

	// ListNodes lists every node of a story in creation order.
	ListNodes(ctx context.Context, storyID string) ([]*entities.Node, error)

	// Children lists the direct children of a node in creation order.
	Children(ctx context.Context, nodeID string) ([]*entities.Node, error)

	// UpdateNode persists content, summary, embedding and metadata.
	// Parent and story never change.
	UpdateNode(ctx context.Context, node *entities.Node) error

	// Entity operations

	// SaveEntity inserts a new entity. A case-insensitive name clash within
	// the story fails with errs.ErrValidation.
	SaveEntity(ctx context.Context, entity *entities.Entity) error

	// UpdateEntity persists an edited entity.
	UpdateEntity(ctx context.Context, entity *entities.Entity) error

	// FindEntity finds an entity by ID.
	FindEntity(ctx context.Context, entityID string) (*entities.Entity, error)

	// FindEntityByName finds an entity by its normalized name (case-insensitive).
	FindEntityByName(ctx context.Context, storyID, name string) (*entities.Entity, error)

	// FindEntities finds the entities with the given IDs, in the given order.
	FindEntities(ctx context.Context, entityIDs []string) ([]*entities.Entity, error)

	// ListEntities lists a story's World Bible ordered by name.
	ListEntities(ctx context.Context, storyID string) ([]*entities.Entity, error)

	// DeleteEntity deletes an entity by ID.
	DeleteEntity(ctx context.Context, entityID string) error
}
