package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/mocks"
)

const plannerModel = "planner:7b"

const cleanBeatJSON = `{
  "setting": "the docks at night",
  "characters_present": ["Mara"],
  "key_events": ["Mara unloads the crates", "A patrol boat passes"],
  "emotional_tone": "tense",
  "continuity_notes": "Mara's hand is still bandaged",
  "continuity_warnings": []
}`

func TestPlanner_Fixtures(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantFallback bool
		wantSetting  string
		wantEvents   int
	}{
		{name: "clean json", raw: cleanBeatJSON, wantSetting: "the docks at night", wantEvents: 2},
		{name: "fenced json", raw: "```json\n" + cleanBeatJSON + "\n```", wantSetting: "the docks at night", wantEvents: 2},
		{name: "unparseable prose", raw: "The scene should be moody and quiet.", wantFallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &mocks.TextGenerator{Text: tt.raw}
			planner := NewPlanner(engine, plannerModel, nil)

			got, err := planner.Plan(t.Context(), "[RECENT SCENES]\nMara waits.", "continue", nil)
			require.NoError(t, err)

			assert.Equal(t, tt.wantFallback, got.Fallback)
			assert.Equal(t, tt.wantSetting, got.Beat.Setting)
			assert.Len(t, got.Beat.KeyEvents, tt.wantEvents)
			assert.NotNil(t, got.Beat.CharactersPresent)
			assert.NotNil(t, got.Beat.ContinuityWarnings)
			assert.NotNil(t, got.Beat.UnknownCharacters)
			assert.NotEmpty(t, got.Beat.EmotionalTone)

			reqs := engine.Requests()
			require.Len(t, reqs, 1)
			assert.Equal(t, plannerModel, reqs[0].Model)
			assert.True(t, reqs[0].JSON)
			assert.Equal(t, plannerSystemPrompt, reqs[0].System)
			assert.Contains(t, reqs[0].Prompt, "Reader's direction: continue")
		})
	}
}

func TestPlanner_EngineErrorPropagates(t *testing.T) {
	engine := &mocks.TextGenerator{Err: errs.Unavailable("ollama", errors.New("connection refused"))}
	planner := NewPlanner(engine, plannerModel, nil)

	_, err := planner.Plan(t.Context(), "", "continue", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrServiceUnavailable)
	assert.Equal(t, "ollama", errs.ServiceOf(err))
}

func TestPlanner_UnknownCharacters(t *testing.T) {
	mara := &entities.Entity{ID: "e1", Name: "Mara", EntityType: entities.EntityTypeCharacter, Description: "A smuggler"}

	tests := []struct {
		name        string
		raw         string
		prompt      string
		want        []entities.EntityDraft
		wantWarning string
	}{
		{
			name:   "from the plan",
			raw:    `{"setting": "the docks", "characters_present": ["Mara", "Captain Reyes"], "key_events": ["Captain Reyes draws a pistol"], "emotional_tone": "tense"}`,
			prompt: "Mara meets Captain Reyes at the docks.",
			want: []entities.EntityDraft{{
				Name:        "Captain Reyes",
				EntityType:  entities.EntityTypeCharacter,
				Description: "Captain Reyes draws a pistol",
				BasePrompt:  "portrait of Captain Reyes, the docks, tense atmosphere",
			}},
			wantWarning: "Unknown characters (not in world bible): Captain Reyes",
		},
		{
			name:   "from the prompt",
			raw:    `{"setting": "the harbor", "characters_present": ["Mara"], "key_events": ["Mara waits"], "emotional_tone": "calm"}`,
			prompt: "Mara waits until Silas arrives with a lantern.",
			want: []entities.EntityDraft{{
				Name:        "Silas",
				EntityType:  entities.EntityTypeCharacter,
				Description: "Character appearing in: the harbor",
				BasePrompt:  "portrait of Silas, the harbor, calm atmosphere",
			}},
			wantWarning: "Unknown characters (not in world bible): Silas",
		},
		{
			name:   "known names and sentence openers are ignored",
			raw:    `{"setting": "the harbor", "characters_present": ["mara"], "key_events": ["Mara waits"], "emotional_tone": "calm"}`,
			prompt: "Suddenly Mara hears a bell. Harbor lights flicker.",
			want:   []entities.EntityDraft{},
		},
		{
			name:   "names inside other names are kept apart",
			raw:    `{"setting": "the docks", "characters_present": ["Ann", "Joanna", "Eve", "Steve"], "emotional_tone": "calm"}`,
			prompt: "continue",
			want: []entities.EntityDraft{
				dockHand("Ann"), dockHand("Joanna"), dockHand("Eve"), dockHand("Steve"),
			},
			wantWarning: "Unknown characters (not in world bible): Ann, Joanna, Eve, Steve",
		},
		{
			name:        "a shorter form of a listed name is merged",
			raw:         `{"setting": "the docks", "characters_present": ["Captain Reyes", "Reyes"], "emotional_tone": "calm"}`,
			prompt:      "continue",
			want:        []entities.EntityDraft{dockHand("Captain Reyes")},
			wantWarning: "Unknown characters (not in world bible): Captain Reyes",
		},
		{
			name:   "places named in the prompt are not characters",
			raw:    `{"setting": "a forest road", "characters_present": ["Mara"], "key_events": ["Mara reaches Blackwater Keep"], "emotional_tone": "calm"}`,
			prompt: "Mara rides to Blackwater Keep at dawn",
			want:   []entities.EntityDraft{},
		},
		{
			name:   "model supplied unknowns are replaced",
			raw:    `{"setting": "the harbor", "characters_present": ["Mara"], "unknown_characters": [{"name": "Ghost"}]}`,
			prompt: "continue",
			want:   []entities.EntityDraft{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planner := NewPlanner(&mocks.TextGenerator{Text: tt.raw}, plannerModel, nil)

			got, err := planner.Plan(t.Context(), "", tt.prompt, []*entities.Entity{mara})
			require.NoError(t, err)

			assert.Equal(t, tt.want, got.Beat.UnknownCharacters)
			if tt.wantWarning != "" {
				assert.Contains(t, got.Beat.ContinuityWarnings, tt.wantWarning)
			} else {
				assert.Empty(t, got.Beat.ContinuityWarnings)
			}
		})
	}
}

// dockHand is the draft inferred for a character seen only at the calm docks.
func dockHand(name string) entities.EntityDraft {
	return entities.EntityDraft{
		Name:        name,
		EntityType:  entities.EntityTypeCharacter,
		Description: "Character appearing in: the docks",
		BasePrompt:  "portrait of " + name + ", the docks, calm atmosphere",
	}
}

func TestPlanner_PromptIncludesWorldBible(t *testing.T) {
	engine := &mocks.TextGenerator{Text: cleanBeatJSON}
	planner := NewPlanner(engine, plannerModel, nil)
	bible := []*entities.Entity{{Name: "Mara", EntityType: entities.EntityTypeCharacter, Description: "A smuggler"}}

	_, err := planner.Plan(t.Context(), "ctx", "go on", bible)
	require.NoError(t, err)

	assert.Contains(t, engine.Requests()[0].Prompt, "- Mara (character): A smuggler")
}
