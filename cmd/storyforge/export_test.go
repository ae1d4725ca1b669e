package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/infrastructure/parsers"
)

func strPtr(s string) *string { return &s }

func testPath() (*entities.Story, []*entities.Node) {
	story := &entities.Story{
		ID:          "story-1",
		Title:       "The Salt Road",
		Genre:       "adventure",
		ContentMode: entities.ContentModeSafe,
	}
	root := &entities.Node{ID: "node-1", StoryID: story.ID, NodeType: entities.NodeTypeRoot}
	first := &entities.Node{
		ID:       "node-2",
		StoryID:  story.ID,
		ParentID: strPtr("node-1"),
		Content:  "Mara reached the harbour at dusk.\n",
		Summary:  strPtr("Mara arrives."),
		NodeType: entities.NodeTypeScene,
		Metadata: entities.NodeMetadata{Prompt: "Mara arrives | at last"},
	}
	second := &entities.Node{
		ID:       "node-3",
		StoryID:  story.ID,
		ParentID: strPtr("node-2"),
		Content:  "The bell rang twice.",
		NodeType: entities.NodeTypeScene,
		Metadata: entities.NodeMetadata{ContinuityWarnings: []string{"the bell was melted down"}},
	}
	return story, []*entities.Node{root, first, second}
}

func TestFormatStoryMarkdown(t *testing.T) {
	story, path := testPath()

	var buf bytes.Buffer
	require.NoError(t, formatStoryMarkdown(&buf, story, path))

	result := buf.String()
	assert.True(t, strings.HasPrefix(result, "# The Salt Road\n\n_adventure_\n\n"))
	assert.Contains(t, result, "## Scene 1\n\n> Mara arrives \\| at last\n\nMara reached the harbour at dusk.\n\n")
	assert.Contains(t, result, "## Scene 2\n\nThe bell rang twice.\n\n")
	assert.NotContains(t, result, "Scene 3")
}

func TestFormatStoryMarkdown_RootOnly(t *testing.T) {
	story, path := testPath()

	var buf bytes.Buffer
	require.NoError(t, formatStoryMarkdown(&buf, story, path[:1]))
	assert.Contains(t, buf.String(), "_No scenes yet._")
}

func TestFormatStoryJSON(t *testing.T) {
	story, path := testPath()

	var buf bytes.Buffer
	require.NoError(t, formatStoryJSON(&buf, story, path))

	var parsed struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		ContentMode string `json:"content_mode"`
		Scenes      []struct {
			ID      string   `json:"id"`
			Prompt  string   `json:"prompt"`
			Content string   `json:"content"`
			Summary string   `json:"summary"`
			Notes   []string `json:"continuity_warnings"`
		} `json:"scenes"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))

	assert.Equal(t, "story-1", parsed.ID)
	assert.Equal(t, "safe", parsed.ContentMode)
	require.Len(t, parsed.Scenes, 2)
	assert.Equal(t, "node-2", parsed.Scenes[0].ID)
	assert.Equal(t, "Mara arrives.", parsed.Scenes[0].Summary)
	assert.Empty(t, parsed.Scenes[1].Summary)
	assert.Equal(t, []string{"the bell was melted down"}, parsed.Scenes[1].Notes)
}

func testBible() []*entities.Entity {
	seed := int64(42)
	return []*entities.Entity{
		{
			ID:             "entity-1",
			EntityType:     entities.EntityTypeCharacter,
			Name:           "Mara",
			Description:    "A smuggler, quick with \"favours\", slow to trust",
			BasePrompt:     "woman, salt-stained coat",
			ReferenceImage: "refs/mara.png",
			ImageSeed:      &seed,
			Embedding:      []float32{0.1, 0.2},
		},
		{
			ID:         "entity-2",
			EntityType: entities.EntityTypeLocation,
			Name:       "The Drowned Bell",
		},
	}
}

func TestFormatEntitiesJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, formatEntitiesJSON(&buf, testBible()))

	var parsed []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	require.Len(t, parsed, 2)

	assert.Equal(t, "Mara", parsed[0]["name"])
	assert.Equal(t, "character", parsed[0]["entity_type"])
	assert.Equal(t, float64(42), parsed[0]["image_seed"])
	assert.NotContains(t, parsed[0], "id")
	assert.NotContains(t, parsed[0], "embedding")
	assert.NotContains(t, parsed[1], "image_seed")
}

func TestFormatEntitiesJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, formatEntitiesJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestFormatEntitiesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, formatEntitiesCSV(&buf, testBible()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "name,entity_type,description,base_prompt,reference_image,image_seed", lines[0])
	assert.Equal(t, `Mara,character,"A smuggler, quick with ""favours"", slow to trust","woman, salt-stained coat",refs/mara.png,42`, lines[1])
	assert.Equal(t, "The Drowned Bell,location,,,,", lines[2])
}

func TestEntityExportsReimport(t *testing.T) {
	tests := []struct {
		format string
		write  func(*bytes.Buffer, []*entities.Entity) error
	}{
		{"json", func(b *bytes.Buffer, l []*entities.Entity) error { return formatEntitiesJSON(b, l) }},
		{"csv", func(b *bytes.Buffer, l []*entities.Entity) error { return formatEntitiesCSV(b, l) }},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.write(&buf, testBible()))

			raw, err := parsers.ForFormat(tt.format).Parse(&buf)
			require.NoError(t, err)
			require.Len(t, raw, 2)

			assert.Equal(t, "Mara", raw[0].Name)
			assert.Equal(t, "character", raw[0].EntityType)
			assert.Equal(t, "A smuggler, quick with \"favours\", slow to trust", raw[0].Description)
			assert.Equal(t, "refs/mara.png", raw[0].ReferenceImage)
			require.NotNil(t, raw[0].ImageSeed)
			assert.Equal(t, int64(42), *raw[0].ImageSeed)
			assert.Equal(t, "location", raw[1].EntityType)
			assert.Nil(t, raw[1].ImageSeed)
		})
	}
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", "simple"},
		{"with|pipe", "with\\|pipe"},
		{"with\nnewline", "with newline"},
		{"a|b\nc", "a\\|b c"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, escapeMarkdown(tt.input))
		})
	}
}
