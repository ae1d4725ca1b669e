package handlers

import (
	"context"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/services"
)

// ContinuityHandler handles continuity audits.
type ContinuityHandler struct {
	orchestrator *services.Orchestrator
}

// NewContinuityHandler creates a new continuity handler.
func NewContinuityHandler(orchestrator *services.Orchestrator) *ContinuityHandler {
	return &ContinuityHandler{
		orchestrator: orchestrator,
	}
}

// ContinuityResult contains the issues found along a story's current path.
type ContinuityResult struct {
	StoryID    string                    `json:"story_id"`
	Issues     []entities.Issue          `json:"issues"`
	BySeverity map[entities.Severity]int `json:"by_severity"`
}

// Consistent reports whether the audit found nothing.
func (r *ContinuityResult) Consistent() bool {
	return len(r.Issues) == 0
}

// Handle audits the path ending at the story's current leaf.
func (h *ContinuityHandler) Handle(ctx context.Context, storyID string) (*ContinuityResult, error) {
	issues, err := h.orchestrator.CheckContinuity(ctx, storyID)
	if err != nil {
		return nil, err
	}

	result := &ContinuityResult{
		StoryID:    storyID,
		Issues:     issues,
		BySeverity: make(map[entities.Severity]int),
	}
	for _, issue := range issues {
		result.BySeverity[issue.Severity]++
	}
	return result, nil
}
