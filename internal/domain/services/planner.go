package services

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"
	"go.uber.org/zap"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

const plannerSystemPrompt = `You are a story planner. Given context from an ongoing interactive story and the reader's direction, produce a structured JSON plan for the NEXT scene.

Respond with ONLY valid JSON (no markdown fences, no commentary) matching this schema:
{
  "setting": "Where this scene takes place",
  "characters_present": ["Name1", "Name2"],
  "key_events": ["Event 1", "Event 2", "Event 3"],
  "emotional_tone": "The dominant mood/atmosphere",
  "continuity_notes": "Important details to maintain from prior scenes",
  "continuity_warnings": ["Any inconsistencies or unknowns spotted"]
}

Keep events to 2-4 items. Be specific and actionable. If you spot characters or details that contradict earlier scenes, add warnings to continuity_warnings.

PHYSICAL CONTINUITY: check these before planning:
- Who is driving/navigating? Do not swap roles unless the plan includes an event showing the switch.
- Time of day must advance, not repeat. If the sun already set, it stays dark.
- Track character positions (inside/outside a vehicle, seated/standing, room location). Do not teleport characters between positions without an event covering the movement.
- Communication mode: text messages are read on a screen, not spoken aloud. Phone calls are heard through a speaker or earpiece. Note the mode in continuity_notes.
- If the prior scene established a specific physical detail (injury, clothing, weather), carry it forward in continuity_notes.`

// unknownCharactersWarning prefixes the warning listing unknown characters.
const unknownCharactersWarning = "Unknown characters (not in world bible): "

// PlanResult is a beat plus how it was obtained.
type PlanResult struct {
	Beat     entities.Beat
	Fallback bool
	Stage    ParseStage
}

// Planner turns story context and the reader's direction into a beat.
type Planner struct {
	engine    ports.TextGenerator
	model     string
	stopwords *stopwords.Stopwords
	logger    *zap.Logger
}

// NewPlanner creates a planner that calls model on engine.
func NewPlanner(engine ports.TextGenerator, model string, logger *zap.Logger) *Planner {
	return &Planner{
		engine:    engine,
		model:     model,
		stopwords: stopwords.MustGet("en"),
		logger:    named(logger, "planner"),
	}
}

// Model returns the model the planner calls.
func (p *Planner) Model() string {
	return p.model
}

// Plan requests a beat for the next scene. Output that cannot be parsed
// yields a degenerate beat with Fallback set; only engine failures are
// returned as errors. Nothing is written to the store.
func (p *Planner) Plan(ctx context.Context, storyContext, prompt string, bible []*entities.Entity) (*PlanResult, error) {
	raw, err := p.engine.Generate(ctx, ports.GenerateRequest{
		Model:  p.model,
		System: plannerSystemPrompt,
		Prompt: plannerPrompt(storyContext, prompt, bible),
		JSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("planning scene: %w", err)
	}

	parsed := ParseStructured(raw, entities.DegenerateBeat())
	beat := parsed.Value
	if parsed.Fallback {
		p.logger.Warn("planner output was not JSON, using degenerate beat",
			zap.String("model", p.model), zap.Int("raw_len", len(raw)))
	}
	beat.Normalize()
	// Unknown characters are derived here, never taken from the model.
	beat.UnknownCharacters = []entities.EntityDraft{}

	matcher, err := NewNameMatcher(bible)
	if err != nil {
		return nil, fmt.Errorf("building name matcher: %w", err)
	}
	unknown := p.unknownCharacters(&beat, prompt, matcher)
	if len(unknown) > 0 {
		names := make([]string, len(unknown))
		for i, d := range unknown {
			names[i] = d.Name
		}
		beat.UnknownCharacters = unknown
		beat.ContinuityWarnings = append(beat.ContinuityWarnings, unknownCharactersWarning+strings.Join(names, ", "))
	}

	p.logger.Info("beat planned",
		zap.String("model", p.model),
		zap.String("stage", string(parsed.Stage)),
		zap.Int("events", len(beat.KeyEvents)),
		zap.Int("warnings", len(beat.ContinuityWarnings)),
	)
	return &PlanResult{Beat: beat, Fallback: parsed.Fallback, Stage: parsed.Stage}, nil
}

func plannerPrompt(storyContext, prompt string, bible []*entities.Entity) string {
	parts := []string{"Story context:\n" + storyContext}
	if len(bible) > 0 {
		lines := make([]string, len(bible))
		for i, e := range bible {
			lines[i] = e.BibleLine()
		}
		parts = append(parts, "\nKnown world bible entities:\n"+strings.Join(lines, "\n"))
	}
	parts = append(parts, "\nReader's direction: "+prompt, "\nPlan the next scene as JSON:")
	return strings.Join(parts, "\n")
}

// unknownCharacters lists names from the plan and the prompt that have no
// World Bible entry, in first-seen order.
func (p *Planner) unknownCharacters(beat *entities.Beat, prompt string, matcher *NameMatcher) []entities.EntityDraft {
	var (
		drafts []entities.EntityDraft
		listed []string
	)
	add := func(name string) {
		name = strings.TrimSpace(name)
		key := entities.NormalizeName(name)
		if key == "" || matcher.Contains(name) {
			return
		}
		for _, l := range listed {
			if containsWords(l, key) || containsWords(key, l) {
				return
			}
		}
		listed = append(listed, key)
		drafts = append(drafts, draftCharacter(beat, name))
	}

	for _, name := range beat.CharactersPresent {
		add(name)
	}

	cast := strings.ToLower(strings.Join(beat.CharactersPresent, " "))
	planText := strings.ToLower(strings.Join(append(append([]string{}, beat.CharactersPresent...), beat.KeyEvents...), " "))
	setting := strings.ToLower(beat.Setting)
	for _, c := range p.promptNames(prompt) {
		key := strings.ToLower(c.name)
		if setting != "" && strings.Contains(setting, key) {
			continue
		}
		if len(matcher.Match(c.name)) > 0 {
			continue
		}
		if c.sentenceStart && !containsWords(planText, key) {
			continue
		}
		// "to Blackwater Keep" names a place unless the plan puts it on stage.
		if c.afterPlace && !containsWords(cast, key) {
			continue
		}
		add(c.name)
	}
	return drafts
}

// placePrepositions introduce a destination or location rather than a person.
var placePrepositions = map[string]bool{
	"to": true, "at": true, "in": true, "into": true, "inside": true, "from": true,
	"toward": true, "towards": true, "through": true, "across": true, "near": true,
	"onto": true, "past": true, "beyond": true, "within": true, "outside": true,
}

// containsWords reports whether the words of needle appear consecutively
// in haystack, so "mara voss" contains "mara" but "joanna" does not
// contain "ann".
func containsWords(haystack, needle string) bool {
	h := strings.FieldsFunc(strings.ToLower(haystack), notNameRune)
	n := strings.FieldsFunc(strings.ToLower(needle), notNameRune)
	if len(n) == 0 || len(n) > len(h) {
		return false
	}
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			if h[i+j] != n[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func notNameRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
}

type nameCandidate struct {
	name          string
	sentenceStart bool
	afterPlace    bool
}

// promptNames returns runs of capitalised, non-stopword words. A run that
// opens a sentence is flagged since capitalisation there proves nothing,
// and so is one that follows a place preposition.
func (p *Planner) promptNames(prompt string) []nameCandidate {
	var (
		candidates []nameCandidate
		run        []string
		runStart   bool
		runPlace   bool
		atStart    = true
		prev       string
	)
	flush := func() {
		if len(run) > 0 {
			candidates = append(candidates, nameCandidate{
				name:          strings.Join(run, " "),
				sentenceStart: runStart,
				afterPlace:    runPlace,
			})
		}
		run = nil
	}

	for _, field := range strings.Fields(prompt) {
		word := strings.TrimFunc(field, func(r rune) bool { return !unicode.IsLetter(r) && r != '\'' && r != '-' })
		word = strings.TrimSuffix(strings.TrimSuffix(word, "'s"), "'")
		endsSentence := strings.ContainsAny(field[len(field)-1:], ".!?")

		first, _ := firstRune(word)
		if word != "" && unicode.IsUpper(first) && !p.stopwords.Contains(strings.ToLower(word)) {
			if len(run) == 0 {
				runStart = atStart
				runPlace = placePrepositions[prev]
			}
			run = append(run, word)
			if word != strings.TrimRight(field, ".!?") || endsSentence {
				flush()
			}
		} else {
			flush()
		}
		atStart = endsSentence
		prev = strings.ToLower(word)
	}
	flush()
	return candidates
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}

// draftCharacter infers a World Bible draft for name from the beat.
func draftCharacter(beat *entities.Beat, name string) entities.EntityDraft {
	key := strings.ToLower(name)
	var mentions []string
	for _, e := range beat.KeyEvents {
		if strings.Contains(strings.ToLower(e), key) {
			mentions = append(mentions, e)
		}
	}
	description := strings.Join(mentions, "; ")
	if description == "" {
		setting := beat.Setting
		if setting == "" {
			setting = "unknown setting"
		}
		description = "Character appearing in: " + setting
	}

	promptParts := []string{"portrait of " + name}
	if beat.Setting != "" {
		promptParts = append(promptParts, beat.Setting)
	}
	if beat.EmotionalTone != "" {
		promptParts = append(promptParts, beat.EmotionalTone+" atmosphere")
	}

	return entities.EntityDraft{
		Name:        name,
		EntityType:  entities.EntityTypeCharacter,
		Description: description,
		BasePrompt:  strings.Join(promptParts, ", "),
	}
}
