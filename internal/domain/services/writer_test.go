package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/mocks"
)

var testBeat = entities.Beat{
	Setting:           "the docks at night",
	CharactersPresent: []string{"Mara"},
	KeyEvents:         []string{"Mara unloads the crates"},
	EmotionalTone:     "tense",
}

func TestWriter_ModeSelectsModelAndPrompt(t *testing.T) {
	tests := []struct {
		mode      entities.ContentMode
		wantModel string
	}{
		{mode: entities.ContentModeUnrestricted, wantModel: "writer-free"},
		{mode: entities.ContentModeSafe, wantModel: "writer-safe"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			engine := &mocks.TextGenerator{Text: "Mara hauls the last crate ashore."}
			writer := NewWriter(engine, WriterModels{Unrestricted: "writer-free", Safe: "writer-safe"}, nil)

			got, err := writer.Write(t.Context(), testBeat, "ctx", "unload", tt.mode)
			require.NoError(t, err)
			assert.Equal(t, "Mara hauls the last crate ashore.", got)

			req := engine.Requests()[0]
			assert.Equal(t, tt.wantModel, req.Model)
			assert.Equal(t, SystemPrompt(tt.mode), req.System)
			assert.False(t, req.JSON)
		})
	}

	assert.NotEqual(t, SystemPrompt(entities.ContentModeSafe), SystemPrompt(entities.ContentModeUnrestricted))
}

func TestWriter_SafeFallsBackToUnrestrictedModel(t *testing.T) {
	writer := NewWriter(&mocks.TextGenerator{}, WriterModels{Unrestricted: "writer-free"}, nil)

	assert.Equal(t, "writer-free", writer.ModelFor(entities.ContentModeSafe))
}

func TestWriter_PromptLayout(t *testing.T) {
	prompt := writerPrompt(testBeat, "Mara waits.", "unload the crates")

	for _, want := range []string{
		"Story so far:\nMara waits.",
		"Scene plan:",
		"  Setting: the docks at night",
		"  Characters present: Mara",
		"    - Mara unloads the crates",
		"  Emotional tone: tense",
		"Reader's direction: unload the crates",
	} {
		assert.Contains(t, prompt, want)
	}
	assert.True(t, strings.HasSuffix(prompt, "Write this scene as narrative prose:"))

	empty := writerPrompt(entities.DegenerateBeat(), "", "")
	assert.Contains(t, empty, "  Setting: Continuing from previous")
}

func TestWriter_CleansOutput(t *testing.T) {
	engine := &mocks.TextGenerator{Text: "Mara hauls the crate.\n\nLet me know if you'd like me to continue!"}
	writer := NewWriter(engine, WriterModels{Unrestricted: "w"}, nil)

	got, err := writer.Write(t.Context(), testBeat, "", "", entities.ContentModeUnrestricted)
	require.NoError(t, err)
	assert.Equal(t, "Mara hauls the crate.", got)
}

func TestWriter_EmptyAfterCleaning(t *testing.T) {
	engine := &mocks.TextGenerator{Text: "Let me know if you want more."}
	writer := NewWriter(engine, WriterModels{Unrestricted: "w"}, nil)

	_, err := writer.Write(t.Context(), testBeat, "", "", entities.ContentModeUnrestricted)
	assert.ErrorIs(t, err, errs.ErrGeneration)
	assert.Equal(t, WriterServiceName, errs.ServiceOf(err))
}

func TestWriter_StreamChunksAreRaw(t *testing.T) {
	raw := "Mara hauls the crate.\n\nLet me know if you'd like more!"
	engine := &mocks.TextGenerator{Text: raw}
	writer := NewWriter(engine, WriterModels{Unrestricted: "w"}, nil)

	var chunks []string
	got, err := writer.WriteStream(t.Context(), testBeat, "", "", entities.ContentModeUnrestricted, func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)

	assert.Equal(t, raw, strings.Join(chunks, ""))
	assert.Equal(t, "Mara hauls the crate.", got)
}

func TestWriter_EngineErrorPropagates(t *testing.T) {
	engine := &mocks.TextGenerator{Err: errs.ModelNotFound("ollama", "writer:13b", errors.New("404"))}
	writer := NewWriter(engine, WriterModels{Unrestricted: "writer:13b"}, nil)

	_, err := writer.Write(t.Context(), testBeat, "", "", entities.ContentModeUnrestricted)
	assert.ErrorIs(t, err, errs.ErrModelNotFound)
}
