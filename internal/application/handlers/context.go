package handlers

import (
	"context"
	"strings"

	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/services"
)

// PreviewPrompt stands in for the reader's direction when previewing context.
const PreviewPrompt = "(context preview)"

// ContextHandler previews the retrieval context a scene would be written with.
type ContextHandler struct {
	assembler *services.ContextAssembler
	narrative *services.NarrativeService
}

// NewContextHandler creates a new context handler.
func NewContextHandler(assembler *services.ContextAssembler, narrative *services.NarrativeService) *ContextHandler {
	return &ContextHandler{
		assembler: assembler,
		narrative: narrative,
	}
}

// HandlePreview assembles the context for a child of nodeID, or of the
// story's current scene when nodeID is empty.
func (h *ContextHandler) HandlePreview(ctx context.Context, storyID, nodeID, prompt string) (*services.AssembledContext, error) {
	story, err := h.narrative.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if nodeID == "" {
		if story.CurrentLeafID == nil {
			return nil, errs.Validation("story %s has no current scene", storyID)
		}
		nodeID = *story.CurrentLeafID
	}
	node, err := h.narrative.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.StoryID != storyID {
		return nil, errs.Validation("node %s does not belong to story %s", nodeID, storyID)
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = PreviewPrompt
	}

	return h.assembler.Assemble(ctx, services.AssembleRequest{
		StoryID:    storyID,
		FromNodeID: nodeID,
		Prompt:     prompt,
		Depth:      story.Depth(),
	})
}
