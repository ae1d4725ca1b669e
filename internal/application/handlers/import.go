package handlers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/ports"
	"github.com/ersonp/storyforge/internal/domain/services"
	"github.com/ersonp/storyforge/internal/infrastructure/parsers"
)

// ConflictStrategy decides what happens to an entry whose name already exists.
type ConflictStrategy string

// Conflict strategies.
const (
	ConflictSkip   ConflictStrategy = "skip"
	ConflictUpdate ConflictStrategy = "update"
)

// ParseConflictStrategy converts user input to a ConflictStrategy.
func ParseConflictStrategy(s string) (ConflictStrategy, error) {
	switch c := ConflictStrategy(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return ConflictSkip, nil
	case ConflictSkip, ConflictUpdate:
		return c, nil
	}
	return "", errs.Validation("on-conflict must be %q or %q, got %q", ConflictSkip, ConflictUpdate, s)
}

// ImportHandler handles importing World Bible entries from files.
type ImportHandler struct {
	bible *services.WorldBibleService
	store ports.NarrativeStore
}

// NewImportHandler creates a new import handler.
func NewImportHandler(bible *services.WorldBibleService, store ports.NarrativeStore) *ImportHandler {
	return &ImportHandler{
		bible: bible,
		store: store,
	}
}

// ImportOptions controls import behavior.
type ImportOptions struct {
	Format     string // "json", "csv", or "auto"
	DryRun     bool   // Validate without saving
	OnConflict ConflictStrategy
}

// ImportError reports an entry that could not be imported.
type ImportError struct {
	LineNum int    `json:"line"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

func (e ImportError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("line %d: %s", e.LineNum, e.Message)
	}
	return fmt.Sprintf("line %d (%s): %s", e.LineNum, e.Name, e.Message)
}

// ImportResult contains the result of an import operation.
type ImportResult struct {
	Imported int           `json:"imported"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors,omitempty"`
}

// Handle imports entries from a JSON or CSV file into a story's World Bible.
// Invalid entries are reported and the rest still import.
func (h *ImportHandler) Handle(ctx context.Context, storyID, filePath string, opts ImportOptions) (*ImportResult, error) {
	var parser parsers.Parser
	if opts.Format == "" || opts.Format == "auto" {
		parser = parsers.ForFile(filePath)
	} else {
		parser = parsers.ForFormat(opts.Format)
	}

	if parser == nil {
		return nil, fmt.Errorf("unsupported format for file: %s", filePath)
	}
	if opts.OnConflict == "" {
		opts.OnConflict = ConflictSkip
	}

	story, err := h.store.FindStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("finding story: %w", err)
	}
	if story == nil {
		return nil, errs.NotFound("story", storyID)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	items, err := parser.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parsing file: %w", err)
	}

	result := &ImportResult{}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if err := validateRaw(item); err != nil {
			result.Errors = append(result.Errors, importError(item, err))
			continue
		}
		key := entities.NormalizeName(item.Name)
		if seen[key] {
			result.Errors = append(result.Errors, importError(item, fmt.Errorf("duplicate name in file")))
			continue
		}
		seen[key] = true

		if err := h.importOne(ctx, storyID, item, opts, result); err != nil {
			if errs.KindOf(err) == errs.KindValidation {
				result.Errors = append(result.Errors, importError(item, err))
				continue
			}
			return result, fmt.Errorf("importing %q: %w", item.Name, err)
		}
	}

	return result, nil
}

func (h *ImportHandler) importOne(ctx context.Context, storyID string, item parsers.RawEntity, opts ImportOptions, result *ImportResult) error {
	existing, err := h.store.FindEntityByName(ctx, storyID, item.Name)
	if err != nil {
		return fmt.Errorf("checking entity name: %w", err)
	}

	if existing != nil {
		if opts.OnConflict != ConflictUpdate {
			result.Skipped++
			return nil
		}
		if opts.DryRun {
			result.Updated++
			return nil
		}
		changes := services.EntityChanges{
			Description: nonEmpty(item.Description),
			BasePrompt:  nonEmpty(item.BasePrompt),
		}
		if item.EntityType != "" {
			changes.EntityType = &item.EntityType
		}
		entity, err := h.bible.Update(ctx, existing.ID, changes)
		if err != nil {
			return err
		}
		if err := h.setReference(ctx, entity, item); err != nil {
			return err
		}
		result.Updated++
		return nil
	}

	if opts.DryRun {
		result.Imported++
		return nil
	}
	entity, err := h.bible.Create(ctx, services.CreateEntityInput{
		StoryID:     storyID,
		EntityType:  entityTypeOrDefault(item.EntityType),
		Name:        item.Name,
		Description: item.Description,
		BasePrompt:  item.BasePrompt,
	})
	if err != nil {
		return err
	}
	if err := h.setReference(ctx, entity, item); err != nil {
		return err
	}
	result.Imported++
	return nil
}

func (h *ImportHandler) setReference(ctx context.Context, entity *entities.Entity, item parsers.RawEntity) error {
	if item.ReferenceImage == "" && item.ImageSeed == nil {
		return nil
	}
	ref := item.ReferenceImage
	if ref == "" {
		ref = entity.ReferenceImage
	}
	_, err := h.bible.SetReferenceImage(ctx, entity.ID, ref, item.ImageSeed)
	return err
}

func validateRaw(item parsers.RawEntity) error {
	if strings.TrimSpace(item.Name) == "" {
		return errs.Validation("name is required")
	}
	if item.EntityType != "" {
		if _, err := entities.ParseEntityType(item.EntityType); err != nil {
			return err
		}
	}
	return nil
}

func importError(item parsers.RawEntity, err error) ImportError {
	return ImportError{
		LineNum: item.LineNum,
		Name:    strings.TrimSpace(item.Name),
		Message: err.Error(),
	}
}

func entityTypeOrDefault(s string) string {
	if strings.TrimSpace(s) == "" {
		return string(entities.EntityTypeCharacter)
	}
	return s
}

func nonEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
