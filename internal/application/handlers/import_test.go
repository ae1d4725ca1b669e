package handlers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestImportHandler_Handle_JSONFile(t *testing.T) {
	a := newApp(t)
	handler := NewImportHandler(a.bible, a.store)
	story, _ := a.story(t, "Tide")

	path := writeFile(t, "bible.json", `[
		{"name": "Mara", "entity_type": "character", "description": "The lamplighter."},
		{"name": "Black Tower", "entity_type": "location", "description": "A ruined watchtower.", "reference_image": "refs/tower.png", "image_seed": 9}
	]`)

	result, err := handler.Handle(t.Context(), story.ID, path, ImportOptions{})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Empty(t, result.Errors)

	tower, err := a.store.FindEntityByName(t.Context(), story.ID, "black tower")
	require.NoError(t, err)
	require.NotNil(t, tower)
	assert.Equal(t, entities.EntityTypeLocation, tower.EntityType)
	assert.Equal(t, "refs/tower.png", tower.ReferenceImage)
	require.NotNil(t, tower.ImageSeed)
	assert.Equal(t, int64(9), *tower.ImageSeed)
	assert.True(t, a.index.Has(tower.ID))
}

func TestImportHandler_Handle_CSVFile(t *testing.T) {
	a := newApp(t)
	handler := NewImportHandler(a.bible, a.store)
	story, _ := a.story(t, "Tide")

	path := writeFile(t, "cast.csv", "name,type,description\nMara,character,The lamplighter.\nLantern,,A brass lantern.\n")

	result, err := handler.Handle(t.Context(), story.ID, path, ImportOptions{Format: "auto"})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)

	lantern, err := a.store.FindEntityByName(t.Context(), story.ID, "Lantern")
	require.NoError(t, err)
	require.NotNil(t, lantern)
	assert.Equal(t, entities.EntityTypeCharacter, lantern.EntityType)
}

func TestImportHandler_Handle_Conflicts(t *testing.T) {
	tests := []struct {
		name        string
		opts        ImportOptions
		imported    int
		updated     int
		skipped     int
		description string
	}{
		{
			name:        "skip keeps existing",
			opts:        ImportOptions{OnConflict: ConflictSkip},
			imported:    1,
			skipped:     1,
			description: "The lamplighter.",
		},
		{
			name:        "update overwrites given fields",
			opts:        ImportOptions{OnConflict: ConflictUpdate},
			imported:    1,
			updated:     1,
			description: "Keeper of the harbour lamps.",
		},
		{
			name:        "dry run changes nothing",
			opts:        ImportOptions{OnConflict: ConflictUpdate, DryRun: true},
			imported:    1,
			updated:     1,
			description: "The lamplighter.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newApp(t)
			handler := NewImportHandler(a.bible, a.store)
			story, _ := a.story(t, "Tide")
			a.entity(t, story.ID, "Mara", "character", "The lamplighter.")

			path := writeFile(t, "bible.json", `[
				{"name": "MARA", "description": "Keeper of the harbour lamps."},
				{"name": "Silas", "entity_type": "character"}
			]`)

			result, err := handler.Handle(t.Context(), story.ID, path, tt.opts)

			require.NoError(t, err)
			assert.Equal(t, tt.imported, result.Imported)
			assert.Equal(t, tt.updated, result.Updated)
			assert.Equal(t, tt.skipped, result.Skipped)

			mara, err := a.store.FindEntityByName(t.Context(), story.ID, "mara")
			require.NoError(t, err)
			assert.Equal(t, tt.description, mara.Description)
			assert.Equal(t, entities.EntityTypeCharacter, mara.EntityType)

			silas, err := a.store.FindEntityByName(t.Context(), story.ID, "silas")
			require.NoError(t, err)
			assert.Equal(t, tt.opts.DryRun, silas == nil)
		})
	}
}

func TestImportHandler_Handle_InvalidEntries(t *testing.T) {
	a := newApp(t)
	handler := NewImportHandler(a.bible, a.store)
	story, _ := a.story(t, "Tide")

	path := writeFile(t, "bible.json", `[
		{"name": ""},
		{"name": "Skiff", "entity_type": "vehicle"},
		{"name": "Mara"},
		{"name": "mara"}
	]`)

	result, err := handler.Handle(t.Context(), story.ID, path, ImportOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.Errors, 3)
	assert.Equal(t, 1, result.Errors[0].LineNum)
	assert.Equal(t, "Skiff", result.Errors[1].Name)
	assert.Contains(t, result.Errors[2].Error(), "line 4 (mara): duplicate name")
}

func TestImportHandler_Handle_Errors(t *testing.T) {
	a := newApp(t)
	handler := NewImportHandler(a.bible, a.store)
	story, _ := a.story(t, "Tide")

	_, err := handler.Handle(t.Context(), story.ID, writeFile(t, "notes.txt", "Mara"), ImportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")

	_, err = handler.Handle(t.Context(), "missing", writeFile(t, "bible.json", "[]"), ImportOptions{})
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = handler.Handle(t.Context(), story.ID, writeFile(t, "bible.json", "{"), ImportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing file")

	_, err = handler.Handle(t.Context(), story.ID, filepath.Join(t.TempDir(), "gone.csv"), ImportOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opening file")
}

func TestParseConflictStrategy(t *testing.T) {
	tests := []struct {
		input   string
		want    ConflictStrategy
		wantErr bool
	}{
		{input: "", want: ConflictSkip},
		{input: "skip", want: ConflictSkip},
		{input: " Update ", want: ConflictUpdate},
		{input: "overwrite", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConflictStrategy(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
