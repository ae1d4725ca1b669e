package ports

import (
	"context"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

// GenerateRequest is a single completion request to the inference engine.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	// JSON asks the engine to constrain output to a JSON object where supported.
	JSON bool
}

// TextGenerator defines the text-generation engine operations.
// Implementations bound every call with a timeout and classify failures
// with the errs package.
type TextGenerator interface {
	// Generate returns the full completion for req.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// GenerateStream calls onChunk for every token chunk as it arrives and
	// returns the concatenated completion.
	GenerateStream(ctx context.Context, req GenerateRequest, onChunk func(string)) (string, error)

	// Describe answers prompt about image using a vision-capable model.
	Describe(ctx context.Context, model, prompt string, image []byte) (string, error)
}

// ModelController issues residency hints to the inference engine.
// Hints are advisory: callers do not verify that the engine honoured them.
type ModelController interface {
	// Preload asks the engine to load model and keep it resident.
	Preload(ctx context.Context, model string) error

	// Unload asks the engine to evict model.
	Unload(ctx context.Context, model string) error

	// ListLoaded reports the models currently resident.
	ListLoaded(ctx context.Context) ([]entities.LoadedModel, error)
}

// Illustrator renders an illustration for a scene. It is owned by an
// external subsystem; the returned string is an opaque reference.
type Illustrator interface {
	Illustrate(ctx context.Context, story *entities.Story, node *entities.Node, references []*entities.Entity) (string, error)
}
