package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
)

const entityColumns = `id, story_id, entity_type, name, normalized_name, description, base_prompt,
	reference_image, image_seed, embedding, version, created_at, updated_at`

// SaveEntity inserts a new World Bible entity.
func (r *Repository) SaveEntity(ctx context.Context, entity *entities.Entity) error {
	if entity.ID == "" {
		entity.ID = generateUUID()
	}
	if entity.Version == 0 {
		entity.Version = 1
	}
	now := timeNow()
	entity.NormalizedName = entities.NormalizeName(entity.Name)
	entity.CreatedAt, entity.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entity.ID, entity.StoryID, string(entity.EntityType), entity.Name, entity.NormalizedName,
		entity.Description, entity.BasePrompt, entity.ReferenceImage, nullInt64(entity.ImageSeed),
		encodeEmbedding(entity.Embedding), entity.Version, entity.CreatedAt, entity.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return errs.Validation("entity %q already exists in story %s", entity.Name, entity.StoryID)
	}
	if err != nil {
		return fmt.Errorf("saving entity: %w", err)
	}
	return nil
}

// UpdateEntity persists an edited entity.
func (r *Repository) UpdateEntity(ctx context.Context, entity *entities.Entity) error {
	entity.NormalizedName = entities.NormalizeName(entity.Name)
	entity.UpdatedAt = timeNow()

	result, err := r.db.ExecContext(ctx, `
		UPDATE entities
		SET entity_type = ?, name = ?, normalized_name = ?, description = ?, base_prompt = ?,
			reference_image = ?, image_seed = ?, embedding = ?, version = ?, updated_at = ?
		WHERE id = ?
	`,
		string(entity.EntityType), entity.Name, entity.NormalizedName, entity.Description,
		entity.BasePrompt, entity.ReferenceImage, nullInt64(entity.ImageSeed),
		encodeEmbedding(entity.Embedding), entity.Version, entity.UpdatedAt, entity.ID,
	)
	if isUniqueViolation(err) {
		return errs.Validation("entity %q already exists in story %s", entity.Name, entity.StoryID)
	}
	if err != nil {
		return fmt.Errorf("updating entity: %w", err)
	}
	return requireAffected(result, "entity", entity.ID)
}

// FindEntity finds an entity by ID.
func (r *Repository) FindEntity(ctx context.Context, entityID string) (*entities.Entity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, entityID)
	return findOneEntity(row)
}

// FindEntityByName finds an entity by its normalized name (case-insensitive).
func (r *Repository) FindEntityByName(ctx context.Context, storyID, name string) (*entities.Entity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE story_id = ? AND normalized_name = ?
	`, storyID, entities.NormalizeName(name))
	return findOneEntity(row)
}

// FindEntities finds multiple entities by their IDs, in the order of entityIDs.
func (r *Repository) FindEntities(ctx context.Context, entityIDs []string) ([]*entities.Entity, error) {
	if len(entityIDs) == 0 {
		return []*entities.Entity{}, nil
	}

	marks, args := placeholders(entityIDs)
	found, err := r.queryEntities(ctx, `SELECT `+entityColumns+` FROM entities WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*entities.Entity, len(found))
	for _, e := range found {
		byID[e.ID] = e
	}
	ordered := make([]*entities.Entity, 0, len(found))
	for _, id := range entityIDs {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// ListEntities lists a story's World Bible ordered by name.
func (r *Repository) ListEntities(ctx context.Context, storyID string) ([]*entities.Entity, error) {
	return r.queryEntities(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE story_id = ?
		ORDER BY name ASC
	`, storyID)
}

// DeleteEntity deletes an entity by ID.
func (r *Repository) DeleteEntity(ctx context.Context, entityID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	return requireAffected(result, "entity", entityID)
}

func findOneEntity(row *sql.Row) (*entities.Entity, error) {
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// queryEntities is a helper to execute entity queries.
func (r *Repository) queryEntities(ctx context.Context, query string, args ...any) ([]*entities.Entity, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	result := make([]*entities.Entity, 0, 16)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, entity)
	}
	return result, rows.Err()
}

func scanEntity(row rowScanner) (*entities.Entity, error) {
	var (
		entity     entities.Entity
		entityType string
		seed       sql.NullInt64
		embedding  []byte
	)
	err := row.Scan(
		&entity.ID,
		&entity.StoryID,
		&entityType,
		&entity.Name,
		&entity.NormalizedName,
		&entity.Description,
		&entity.BasePrompt,
		&entity.ReferenceImage,
		&seed,
		&embedding,
		&entity.Version,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entity: %w", err)
	}

	entity.EntityType = entities.EntityType(entityType)
	if seed.Valid {
		s := seed.Int64
		entity.ImageSeed = &s
	}
	if entity.Embedding, err = decodeEmbedding(embedding); err != nil {
		return nil, fmt.Errorf("decoding entity %s embedding: %w", entity.ID, err)
	}
	return &entity, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
