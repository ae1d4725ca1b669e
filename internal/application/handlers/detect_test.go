package handlers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/errs"
)

const detectedCast = `[
	{"name": "Mara", "entity_type": "character", "description": "The lamplighter.", "base_prompt": "woman, grey coat"},
	{"name": "Black Tower", "entity_type": "location", "description": "A ruined watchtower."}
]`

func names(t *testing.T, result *DetectResult) []string {
	t.Helper()
	out := make([]string, 0, len(result.Entities))
	for _, e := range result.Entities {
		out = append(out, e.Name)
	}
	return out
}

func TestDetectHandler_HandleText(t *testing.T) {
	a := newApp(t)
	a.setDetected(detectedCast)
	handler := NewDetectHandler(a.bible, a.narrative)
	story, _ := a.story(t, "Tide")

	result, err := handler.HandleText(t.Context(), story.ID, "Mara walked to the Black Tower.")

	require.NoError(t, err)
	assert.Equal(t, []string{"Mara", "Black Tower"}, names(t, result))

	again, err := handler.HandleText(t.Context(), story.ID, "Mara walked to the Black Tower again.")
	require.NoError(t, err)
	assert.Empty(t, again.Entities)
}

func TestDetectHandler_HandleNode(t *testing.T) {
	a := newApp(t)
	a.setDetected(detectedCast)
	handler := NewDetectHandler(a.bible, a.narrative)
	story, _ := a.story(t, "Tide")
	node := a.scene(t, story.ID, "climb the Black Tower")

	result, err := handler.HandleNode(t.Context(), node.ID)

	require.NoError(t, err)
	assert.Equal(t, node.ID, result.Source)
	assert.Len(t, result.Entities, 2)

	_, err = handler.HandleNode(t.Context(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDetectHandler_HandleFile(t *testing.T) {
	a := newApp(t)
	a.setDetected(detectedCast)
	handler := NewDetectHandler(a.bible, a.narrative)
	story, _ := a.story(t, "Tide")

	path := writeFile(t, "chapter1.txt", "Mara walked to the Black Tower.")
	result, err := handler.HandleFile(t.Context(), story.ID, path)

	require.NoError(t, err)
	assert.Equal(t, path, result.Source)
	assert.Len(t, result.Entities, 2)

	_, err = handler.HandleFile(t.Context(), story.ID, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")
}

func TestDetectHandler_HandleDirectory(t *testing.T) {
	a := newApp(t)
	a.setDetected(detectedCast)
	handler := NewDetectHandler(a.bible, a.narrative)
	story, _ := a.story(t, "Tide")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ch1.txt"), []byte("Mara arrives."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ch2.txt"), []byte("The Black Tower looms."), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("ignored"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "drafts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drafts", "ch3.txt"), []byte("Mara again."), 0644))

	var seen []string
	result, err := handler.HandleDirectory(t.Context(), story.ID, dir, "*.txt", false, func(file string) {
		seen = append(seen, filepath.Base(file))
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"ch1.txt", "ch2.txt"}, seen)
	assert.Equal(t, 2, result.TotalFiles)
	// The first file claims both names; the second finds nothing new.
	assert.Equal(t, 2, result.TotalEntities)
	assert.Empty(t, result.Errors)

	recursive, err := handler.HandleDirectory(t.Context(), story.ID, dir, "*.txt", true, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, recursive.TotalFiles)
}

func TestDetectHandler_HandleDirectory_Errors(t *testing.T) {
	a := newApp(t)
	handler := NewDetectHandler(a.bible, a.narrative)
	story, _ := a.story(t, "Tide")

	_, err := handler.HandleDirectory(t.Context(), story.ID, t.TempDir(), "*.txt", false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no files matching")

	file := writeFile(t, "ch1.txt", "Mara")
	_, err = handler.HandleDirectory(t.Context(), story.ID, file, "*.txt", false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestPathHelpers(t *testing.T) {
	assert.True(t, IsDirectory(t.TempDir()))
	assert.False(t, IsDirectory(filepath.Join(t.TempDir(), "missing")))

	assert.True(t, IsGlobPattern("chapters/*.txt"))
	assert.True(t, IsGlobPattern("ch?.txt"))
	assert.False(t, IsGlobPattern("chapters/ch1.txt"))
}
