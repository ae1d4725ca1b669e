package handlers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/services"
)

func TestEntityHandler_CRUD(t *testing.T) {
	a := newApp(t)
	handler := NewEntityHandler(a.bible)
	story, _ := a.story(t, "Tide")

	mara, err := handler.HandleCreate(t.Context(), services.CreateEntityInput{
		StoryID:     story.ID,
		EntityType:  "character",
		Name:        "Mara",
		Description: "The lamplighter.",
	})
	require.NoError(t, err)
	a.entity(t, story.ID, "Black Tower", "location", "A ruined watchtower.")

	all, err := handler.HandleList(t.Context(), story.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	places, err := handler.HandleList(t.Context(), story.ID, "location")
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "Black Tower", places[0].Name)

	description := "The last lamplighter of the harbour."
	updated, err := handler.HandleUpdate(t.Context(), mara.ID, services.EntityChanges{Description: &description})
	require.NoError(t, err)
	assert.Equal(t, description, updated.Description)
	assert.Equal(t, 2, updated.Version)

	got, err := handler.HandleGet(t.Context(), mara.ID)
	require.NoError(t, err)
	assert.Equal(t, description, got.Description)

	require.NoError(t, handler.HandleDelete(t.Context(), mara.ID))
	_, err = handler.HandleGet(t.Context(), mara.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestEntityHandler_HandleList_BadType(t *testing.T) {
	a := newApp(t)
	handler := NewEntityHandler(a.bible)
	story, _ := a.story(t, "Tide")

	_, err := handler.HandleList(t.Context(), story.ID, "vehicle")

	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestEntityHandler_HandleDescribe(t *testing.T) {
	a := newApp(t)
	handler := NewEntityHandler(a.bible)
	story, _ := a.story(t, "Tide")
	mara := a.entity(t, story.ID, "Mara", "character", "")

	imagePath := filepath.Join(t.TempDir(), "mara.png")
	require.NoError(t, os.WriteFile(imagePath, []byte{0x89, 'P', 'N', 'G'}, 0644))

	described, err := handler.HandleDescribe(t.Context(), mara.ID, imagePath)

	require.NoError(t, err)
	assert.Equal(t, "A tall woman in a salt-stained coat.", described.Description)
	reqs := a.engine.Requests()
	require.NotEmpty(t, reqs)
	assert.Equal(t, visionModel, reqs[len(reqs)-1].Model)
}

func TestEntityHandler_HandleDescribe_BadPath(t *testing.T) {
	a := newApp(t)
	handler := NewEntityHandler(a.bible)
	story, _ := a.story(t, "Tide")
	mara := a.entity(t, story.ID, "Mara", "character", "")

	_, err := handler.HandleDescribe(t.Context(), mara.ID, filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accessing image")

	_, err = handler.HandleDescribe(t.Context(), mara.ID, t.TempDir())
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestEntityHandler_HandleSetReference(t *testing.T) {
	a := newApp(t)
	handler := NewEntityHandler(a.bible)
	story, _ := a.story(t, "Tide")
	mara := a.entity(t, story.ID, "Mara", "character", "The lamplighter.")

	seed := int64(1234)
	updated, err := handler.HandleSetReference(t.Context(), mara.ID, "refs/mara.png", &seed)

	require.NoError(t, err)
	assert.Equal(t, "refs/mara.png", updated.ReferenceImage)
	require.NotNil(t, updated.ImageSeed)
	assert.Equal(t, seed, *updated.ImageSeed)
	assert.Equal(t, entities.EntityTypeCharacter, updated.EntityType)
}
