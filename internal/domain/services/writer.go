package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

// WriterServiceName tags writer errors that originate in output handling.
const WriterServiceName = "writer"

const writerRules = `STRICT RULES: violating any of these ruins the story:
- Output ONLY narrative prose. No meta-commentary, sign-offs, or questions to the reader (e.g. never write 'Let me know if you would like me to continue').
- Never include [WORLD BIBLE], Scene plan:, or any formatting markers in your output.
- Do not repeat the opening description at the end of the scene.
- Text messages between characters must be described as text on a screen, not spoken aloud.
- Maintain physical consistency: whoever is driving stays driving unless the scene shows them switching. Track spatial positions (inside/outside, seated/standing).
- Time of day must progress naturally. The sun sets once, not repeatedly.`

const writerPreamble = `You are a creative fiction writer collaborating with a reader on an interactive story. You will be given a scene plan (beat) and story context. Expand the beat into vivid, engaging prose of 2-4 paragraphs. Follow the beat's structure (setting, characters, events, tone) but do NOT echo the beat verbatim or reference it as a plan. Write naturally as narrative prose. End at a moment that invites the reader to choose what happens next. Do not break the fourth wall or mention that you are an AI. `

var writerSystemPrompts = map[entities.ContentMode]string{
	entities.ContentModeUnrestricted: writerPreamble +
		"You have full creative freedom to explore any themes, emotions, or situations the story demands without restriction.\n\n" +
		writerRules,
	entities.ContentModeSafe: writerPreamble +
		"Keep content appropriate for a general audience: avoid graphic violence, explicit sexual content, and excessive profanity.\n\n" +
		writerRules,
}

// WriterModels pairs each content mode with a model.
type WriterModels struct {
	Unrestricted string
	Safe         string
}

// Writer expands a beat into prose under a content mode.
type Writer struct {
	engine ports.TextGenerator
	models WriterModels
	logger *zap.Logger
}

// NewWriter creates a new Writer. An empty Safe model falls back to Unrestricted.
func NewWriter(engine ports.TextGenerator, models WriterModels, logger *zap.Logger) *Writer {
	if models.Safe == "" {
		models.Safe = models.Unrestricted
	}
	return &Writer{
		engine: engine,
		models: models,
		logger: named(logger, "writer"),
	}
}

// ModelFor returns the model used for mode.
func (w *Writer) ModelFor(mode entities.ContentMode) string {
	if mode == entities.ContentModeSafe {
		return w.models.Safe
	}
	return w.models.Unrestricted
}

// SystemPrompt returns the system prompt used for mode.
func SystemPrompt(mode entities.ContentMode) string {
	if p, ok := writerSystemPrompts[mode]; ok {
		return p
	}
	return writerSystemPrompts[entities.ContentModeUnrestricted]
}

// Write generates and cleans the scene in one call.
func (w *Writer) Write(ctx context.Context, beat entities.Beat, storyContext, prompt string, mode entities.ContentMode) (string, error) {
	raw, err := w.engine.Generate(ctx, w.request(beat, storyContext, prompt, mode))
	if err != nil {
		return "", fmt.Errorf("writing scene: %w", err)
	}
	return w.finish(raw, mode)
}

// WriteStream generates the scene, passing raw chunks to onChunk as they
// arrive. Cleaning runs once over the assembled text.
func (w *Writer) WriteStream(ctx context.Context, beat entities.Beat, storyContext, prompt string, mode entities.ContentMode, onChunk func(string)) (string, error) {
	raw, err := w.engine.GenerateStream(ctx, w.request(beat, storyContext, prompt, mode), onChunk)
	if err != nil {
		return "", fmt.Errorf("writing scene: %w", err)
	}
	return w.finish(raw, mode)
}

func (w *Writer) request(beat entities.Beat, storyContext, prompt string, mode entities.ContentMode) ports.GenerateRequest {
	return ports.GenerateRequest{
		Model:  w.ModelFor(mode),
		System: SystemPrompt(mode),
		Prompt: writerPrompt(beat, storyContext, prompt),
	}
}

func (w *Writer) finish(raw string, mode entities.ContentMode) (string, error) {
	cleaned := CleanOutput(raw)
	if cleaned == "" {
		return "", errs.Generation(WriterServiceName, "output was empty after cleaning", nil)
	}
	if removed := len(strings.TrimSpace(raw)) - len(cleaned); removed > 0 {
		w.logger.Debug("cleaned writer output", zap.Int("removed_chars", removed))
	}
	w.logger.Info("scene written", zap.String("mode", string(mode)), zap.Int("chars", len(cleaned)))
	return cleaned, nil
}

func writerPrompt(beat entities.Beat, storyContext, prompt string) string {
	setting := beat.Setting
	if setting == "" {
		setting = "Continuing from previous"
	}
	parts := []string{
		"Story so far:\n" + storyContext,
		"\nScene plan:",
		"  Setting: " + setting,
	}
	if len(beat.CharactersPresent) > 0 {
		parts = append(parts, "  Characters present: "+strings.Join(beat.CharactersPresent, ", "))
	}
	if len(beat.KeyEvents) > 0 {
		parts = append(parts, "  Key events:")
		for _, e := range beat.KeyEvents {
			parts = append(parts, "    - "+e)
		}
	}
	if beat.EmotionalTone != "" {
		parts = append(parts, "  Emotional tone: "+beat.EmotionalTone)
	}
	if beat.ContinuityNotes != "" {
		parts = append(parts, "  Continuity notes: "+beat.ContinuityNotes)
	}
	if strings.TrimSpace(prompt) != "" {
		parts = append(parts, "\nReader's direction: "+prompt)
	}
	parts = append(parts, "\nWrite this scene as narrative prose:")
	return strings.Join(parts, "\n")
}
