package entities

import (
	"strings"
	"time"

	"github.com/ersonp/storyforge/internal/domain/errs"
)

// EntityType categorises a World Bible record.
type EntityType string

// Entity types.
const (
	EntityTypeCharacter EntityType = "character"
	EntityTypeLocation  EntityType = "location"
	EntityTypeProp      EntityType = "prop"
)

// ParseEntityType converts user or model input to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case EntityTypeCharacter, EntityTypeLocation, EntityTypeProp:
		return t, nil
	}
	return "", errs.Validation("entity_type must be character, location or prop, got %q", s)
}

// Entity is a World Bible record: a recurring character, location or prop.
// Name is unique per story, compared case-insensitively via NormalizedName.
type Entity struct {
	ID             string     `json:"id"`
	StoryID        string     `json:"story_id"`
	EntityType     EntityType `json:"entity_type"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	Description    string     `json:"description"`
	BasePrompt     string     `json:"base_prompt"`
	ReferenceImage string     `json:"reference_image,omitempty"`
	ImageSeed      *int64     `json:"image_seed,omitempty"`
	Embedding      []float32  `json:"embedding,omitempty"`
	Version        int        `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// BibleLine renders the entity as a single World Bible line.
func (e *Entity) BibleLine() string {
	return "- " + e.Name + " (" + string(e.EntityType) + "): " + e.Description
}

// EmbeddingText is the text an entity's vector is derived from.
func (e *Entity) EmbeddingText() string {
	return e.Name + " (" + string(e.EntityType) + "): " + e.Description
}

// EntityDraft is a proposed World Bible record not yet persisted.
type EntityDraft struct {
	Name        string     `json:"name"`
	EntityType  EntityType `json:"entity_type"`
	Description string     `json:"description"`
	BasePrompt  string     `json:"base_prompt"`
}

// NormalizeName converts a name to lowercase for case-insensitive matching.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
