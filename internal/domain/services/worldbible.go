package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

const detectSystemPrompt = `You extract recurring story elements from fiction. Given a passage, list every named character, named location and significant prop that appears in it.

Respond with ONLY a JSON array (no markdown fences, no commentary). Each element must be:
{"name": "...", "entity_type": "character" | "location" | "prop", "description": "one or two sentences of what the passage establishes", "base_prompt": "a short visual description for an illustrator"}

Return [] if nothing qualifies.`

const describePrompt = "Describe the subject of this image for a story's world bible: appearance, clothing or materials, colours and distinguishing features. Reply with two or three sentences of plain prose."

// WorldBibleService manages a story's recurring characters, locations and props.
type WorldBibleService struct {
	store       ports.NarrativeStore
	embedder    ports.Embedder
	index       ports.VectorIndex
	engine      ports.TextGenerator
	coordinator *Coordinator
	models      WorldBibleModels
	logger      *zap.Logger
}

// WorldBibleModels names the models used for detection and image description.
type WorldBibleModels struct {
	Detect string
	Vision string
}

// NewWorldBibleService creates a new WorldBibleService.
func NewWorldBibleService(
	store ports.NarrativeStore,
	embedder ports.Embedder,
	index ports.VectorIndex,
	engine ports.TextGenerator,
	coordinator *Coordinator,
	models WorldBibleModels,
	logger *zap.Logger,
) *WorldBibleService {
	return &WorldBibleService{
		store:       store,
		embedder:    embedder,
		index:       index,
		engine:      engine,
		coordinator: coordinator,
		models:      models,
		logger:      named(logger, "worldbible"),
	}
}

// CreateEntityInput holds the fields of a new entity.
type CreateEntityInput struct {
	StoryID     string
	EntityType  string
	Name        string
	Description string
	BasePrompt  string
}

// Create adds an entity to a story's World Bible. Names are unique per story
// regardless of case.
func (s *WorldBibleService) Create(ctx context.Context, in CreateEntityInput) (*entities.Entity, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errs.Validation("name is required")
	}
	entityType, err := entities.ParseEntityType(in.EntityType)
	if err != nil {
		return nil, err
	}

	story, err := s.store.FindStory(ctx, in.StoryID)
	if err != nil {
		return nil, fmt.Errorf("finding story: %w", err)
	}
	if story == nil {
		return nil, errs.NotFound("story", in.StoryID)
	}

	existing, err := s.store.FindEntityByName(ctx, in.StoryID, name)
	if err != nil {
		return nil, fmt.Errorf("checking entity name: %w", err)
	}
	if existing != nil {
		return nil, errs.Validation("entity %q already exists", existing.Name)
	}

	entity := &entities.Entity{
		StoryID:     in.StoryID,
		EntityType:  entityType,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		BasePrompt:  strings.TrimSpace(in.BasePrompt),
	}
	entity.Embedding, err = s.embedder.Embed(ctx, entity.EmbeddingText())
	if err != nil {
		return nil, fmt.Errorf("embedding entity: %w", err)
	}

	if err := s.store.SaveEntity(ctx, entity); err != nil {
		return nil, err
	}
	if err := s.index.IndexEntity(ctx, *entity); err != nil {
		return nil, fmt.Errorf("indexing entity: %w", err)
	}

	s.logger.Info("entity created",
		zap.String("story_id", entity.StoryID),
		zap.String("entity_id", entity.ID),
		zap.String("name", entity.Name),
	)
	return entity, nil
}

// Get returns the entity or a NotFound error.
func (s *WorldBibleService) Get(ctx context.Context, entityID string) (*entities.Entity, error) {
	entity, err := s.store.FindEntity(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("finding entity: %w", err)
	}
	if entity == nil {
		return nil, errs.NotFound("entity", entityID)
	}
	return entity, nil
}

// List returns a story's World Bible ordered by name.
func (s *WorldBibleService) List(ctx context.Context, storyID string) ([]*entities.Entity, error) {
	return s.store.ListEntities(ctx, storyID)
}

// EntityChanges holds optional entity edits. Nil fields are left as they are.
type EntityChanges struct {
	Name        *string
	EntityType  *string
	Description *string
	BasePrompt  *string
}

// Update applies changes, bumps the version and re-embeds. A failed
// re-embed keeps the edit and drops the entity from vector search.
func (s *WorldBibleService) Update(ctx context.Context, entityID string, changes EntityChanges) (*entities.Entity, error) {
	entity, err := s.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}

	if changes.Name != nil {
		name := strings.TrimSpace(*changes.Name)
		if name == "" {
			return nil, errs.Validation("name is required")
		}
		if entities.NormalizeName(name) != entity.NormalizedName {
			clash, err := s.store.FindEntityByName(ctx, entity.StoryID, name)
			if err != nil {
				return nil, fmt.Errorf("checking entity name: %w", err)
			}
			if clash != nil {
				return nil, errs.Validation("entity %q already exists", clash.Name)
			}
		}
		entity.Name = name
	}
	if changes.EntityType != nil {
		t, err := entities.ParseEntityType(*changes.EntityType)
		if err != nil {
			return nil, err
		}
		entity.EntityType = t
	}
	if changes.Description != nil {
		entity.Description = strings.TrimSpace(*changes.Description)
	}
	if changes.BasePrompt != nil {
		entity.BasePrompt = strings.TrimSpace(*changes.BasePrompt)
	}
	entity.Version++

	if err := s.save(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// Delete removes an entity and its vector.
func (s *WorldBibleService) Delete(ctx context.Context, entityID string) error {
	if err := s.store.DeleteEntity(ctx, entityID); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, entityID); err != nil {
		s.logger.Warn("removing entity vector failed", zap.String("entity_id", entityID), zap.Error(err))
	}
	return nil
}

// Detect asks the engine for the characters, locations and props in text
// and adds the ones the World Bible does not know yet. Output that cannot be
// parsed detects nothing.
func (s *WorldBibleService) Detect(ctx context.Context, storyID, text string) ([]*entities.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.Validation("text is required")
	}
	known, err := s.store.ListEntities(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("listing world bible: %w", err)
	}
	matcher, err := NewNameMatcher(known)
	if err != nil {
		return nil, fmt.Errorf("building name matcher: %w", err)
	}

	var raw string
	err = s.coordinator.WithGeneration(ctx, func(ctx context.Context) error {
		s.coordinator.EnsureLoaded(ctx, s.models.Detect)
		var genErr error
		raw, genErr = s.engine.Generate(ctx, ports.GenerateRequest{
			Model:  s.models.Detect,
			System: detectSystemPrompt,
			Prompt: "Passage:\n" + text + "\n\nList the story elements as JSON:",
		})
		return genErr
	})
	if err != nil {
		return nil, fmt.Errorf("detecting entities: %w", err)
	}

	parsed := ParseStructured[[]entities.EntityDraft](raw, nil)
	if parsed.Fallback {
		s.logger.Warn("entity detection output was not JSON", zap.String("story_id", storyID))
		return []*entities.Entity{}, nil
	}

	created := make([]*entities.Entity, 0, len(parsed.Value))
	for _, draft := range parsed.Value {
		name := strings.TrimSpace(draft.Name)
		if name == "" || matcher.Contains(name) {
			continue
		}
		entityType := draft.EntityType
		if _, err := entities.ParseEntityType(string(entityType)); err != nil {
			entityType = entities.EntityTypeCharacter
		}

		entity, err := s.Create(ctx, CreateEntityInput{
			StoryID:     storyID,
			EntityType:  string(entityType),
			Name:        name,
			Description: draft.Description,
			BasePrompt:  draft.BasePrompt,
		})
		if errs.KindOf(err) == errs.KindValidation {
			// Duplicates within one answer.
			continue
		}
		if err != nil {
			return created, err
		}
		created = append(created, entity)
	}
	return created, nil
}

// DescribeImage replaces an entity's description with what the vision model
// sees in image.
func (s *WorldBibleService) DescribeImage(ctx context.Context, entityID string, image []byte) (*entities.Entity, error) {
	if len(image) == 0 {
		return nil, errs.Validation("image is required")
	}
	entity, err := s.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}

	var description string
	err = s.coordinator.WithGeneration(ctx, func(ctx context.Context) error {
		s.coordinator.EnsureLoaded(ctx, s.models.Vision)
		var genErr error
		description, genErr = s.engine.Describe(ctx, s.models.Vision, describePrompt, image)
		return genErr
	})
	if err != nil {
		return nil, fmt.Errorf("describing image: %w", err)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, errs.Generation("vision", "empty description", nil)
	}

	entity.Description = description
	entity.Version++
	if err := s.save(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// SetReferenceImage records the image an illustrator should match, and the
// seed that produced it when known.
func (s *WorldBibleService) SetReferenceImage(ctx context.Context, entityID, ref string, seed *int64) (*entities.Entity, error) {
	entity, err := s.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	entity.ReferenceImage = strings.TrimSpace(ref)
	entity.ImageSeed = seed
	entity.Version++
	if err := s.store.UpdateEntity(ctx, entity); err != nil {
		return nil, err
	}
	return entity, nil
}

// save re-embeds and persists an edited entity.
func (s *WorldBibleService) save(ctx context.Context, entity *entities.Entity) error {
	embedding, embedErr := s.embedder.Embed(ctx, entity.EmbeddingText())
	if embedErr != nil {
		s.logger.Warn("re-embedding entity failed, clearing vector",
			zap.String("entity_id", entity.ID), zap.Error(embedErr))
		entity.Embedding = nil
	} else {
		entity.Embedding = embedding
	}

	if err := s.store.UpdateEntity(ctx, entity); err != nil {
		return err
	}

	if embedErr != nil {
		if err := s.index.Delete(ctx, entity.ID); err != nil {
			s.logger.Warn("removing stale entity vector failed", zap.String("entity_id", entity.ID), zap.Error(err))
		}
		return nil
	}
	if err := s.index.IndexEntity(ctx, *entity); err != nil {
		return fmt.Errorf("indexing entity: %w", err)
	}
	return nil
}
