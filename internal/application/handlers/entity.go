package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/services"
)

// MaxImageBytes bounds the images accepted for description.
const MaxImageBytes = 20 << 20

// EntityHandler handles World Bible operations.
type EntityHandler struct {
	bible *services.WorldBibleService
}

// NewEntityHandler creates a new entity handler.
func NewEntityHandler(bible *services.WorldBibleService) *EntityHandler {
	return &EntityHandler{
		bible: bible,
	}
}

// HandleCreate adds an entity to a story's World Bible.
func (h *EntityHandler) HandleCreate(ctx context.Context, in services.CreateEntityInput) (*entities.Entity, error) {
	return h.bible.Create(ctx, in)
}

// HandleList lists a story's World Bible, optionally filtered by type.
func (h *EntityHandler) HandleList(ctx context.Context, storyID, entityType string) ([]*entities.Entity, error) {
	all, err := h.bible.List(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	if entityType == "" {
		return all, nil
	}

	t, err := entities.ParseEntityType(entityType)
	if err != nil {
		return nil, err
	}
	filtered := make([]*entities.Entity, 0, len(all))
	for _, e := range all {
		if e.EntityType == t {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// HandleGet returns a single entity.
func (h *EntityHandler) HandleGet(ctx context.Context, entityID string) (*entities.Entity, error) {
	return h.bible.Get(ctx, entityID)
}

// HandleUpdate edits an entity.
func (h *EntityHandler) HandleUpdate(ctx context.Context, entityID string, changes services.EntityChanges) (*entities.Entity, error) {
	return h.bible.Update(ctx, entityID, changes)
}

// HandleDelete removes an entity.
func (h *EntityHandler) HandleDelete(ctx context.Context, entityID string) error {
	return h.bible.Delete(ctx, entityID)
}

// HandleDescribe reads an image file and replaces the entity's description
// with what the vision model sees in it.
func (h *EntityHandler) HandleDescribe(ctx context.Context, entityID, imagePath string) (*entities.Entity, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, fmt.Errorf("accessing image: %w", err)
	}
	if info.IsDir() {
		return nil, errs.Validation("%s is a directory, not an image", imagePath)
	}
	if info.Size() > MaxImageBytes {
		return nil, errs.Validation("image %s is %d bytes, limit is %d", imagePath, info.Size(), MaxImageBytes)
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	return h.bible.DescribeImage(ctx, entityID, image)
}

// HandleSetReference records an entity's reference image and seed.
func (h *EntityHandler) HandleSetReference(ctx context.Context, entityID, ref string, seed *int64) (*entities.Entity, error) {
	return h.bible.SetReferenceImage(ctx, entityID, ref, seed)
}
