package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

const auditSystemPrompt = `You are a continuity editor for an interactive story. You will be given every scene on one path through the story, numbered from 1, followed by the story's world bible.

Find continuity problems: physical continuity (positions, who is driving, injuries, clothing, weather), timeline errors (time of day repeating or running backwards), facts that contradict earlier scenes, unresolved threads, and mismatches with the world bible.

Respond with ONLY a JSON array (no markdown fences, no commentary). Each element must be:
{"scene_index": <number of the scene where the problem appears>, "issue": "<what is inconsistent>", "severity": "minor" | "major" | "critical"}

Return [] if the scenes are consistent.`

// ContinuityAuditor checks a whole root-to-leaf path for inconsistencies.
// It never writes to the store.
type ContinuityAuditor struct {
	narrative   *NarrativeService
	store       ports.NarrativeStore
	engine      ports.TextGenerator
	coordinator *Coordinator
	model       string
	logger      *zap.Logger
}

// NewContinuityAuditor creates a new ContinuityAuditor that asks model.
func NewContinuityAuditor(
	narrative *NarrativeService,
	store ports.NarrativeStore,
	engine ports.TextGenerator,
	coordinator *Coordinator,
	model string,
	logger *zap.Logger,
) *ContinuityAuditor {
	return &ContinuityAuditor{
		narrative:   narrative,
		store:       store,
		engine:      engine,
		coordinator: coordinator,
		model:       model,
		logger:      named(logger, "continuity"),
	}
}

// rawIssue tolerates models that quote numbers.
type rawIssue struct {
	SceneIndex json.RawMessage `json:"scene_index"`
	Issue      string          `json:"issue"`
	Severity   string          `json:"severity"`
}

// Audit checks the path ending at the story's current leaf. A story with no
// scenes yet, or model output that cannot be parsed, yields no issues.
func (a *ContinuityAuditor) Audit(ctx context.Context, storyID string) ([]entities.Issue, error) {
	story, err := a.narrative.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.CurrentLeafID == nil {
		return []entities.Issue{}, nil
	}

	path, err := a.narrative.Path(ctx, *story.CurrentLeafID)
	if err != nil {
		return nil, err
	}
	scenes := make([]*entities.Node, 0, len(path))
	for _, n := range path {
		if !n.IsRoot() {
			scenes = append(scenes, n)
		}
	}
	if len(scenes) == 0 {
		return []entities.Issue{}, nil
	}

	bible, err := a.store.ListEntities(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("listing world bible: %w", err)
	}

	var raw string
	err = a.coordinator.WithGeneration(ctx, func(ctx context.Context) error {
		a.coordinator.EnsureLoaded(ctx, a.model)
		var genErr error
		raw, genErr = a.engine.Generate(ctx, ports.GenerateRequest{
			Model:  a.model,
			System: auditSystemPrompt,
			Prompt: auditPrompt(scenes, bible),
		})
		return genErr
	})
	if err != nil {
		return nil, fmt.Errorf("checking continuity: %w", err)
	}

	issues := parseIssues(raw, scenes)
	a.logger.Info("continuity checked",
		zap.String("story_id", storyID),
		zap.Int("scenes", len(scenes)),
		zap.Int("issues", len(issues)),
	)
	return issues, nil
}

func auditPrompt(scenes []*entities.Node, bible []*entities.Entity) string {
	var sb strings.Builder
	for i, n := range scenes {
		fmt.Fprintf(&sb, "Scene %d:\n%s\n\n", i+1, n.Content)
	}
	if len(bible) > 0 {
		sb.WriteString("World bible:\n")
		for _, e := range bible {
			sb.WriteString(e.BibleLine())
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("List the continuity issues as JSON:")
	return sb.String()
}

// parseIssues accepts a bare array or an object with an "issues" array and
// drops entries whose scene index is outside the path.
func parseIssues(raw string, scenes []*entities.Node) []entities.Issue {
	parsed := ParseStructured[json.RawMessage](raw, nil)
	if parsed.Fallback {
		return []entities.Issue{}
	}

	var list []rawIssue
	if err := json.Unmarshal(parsed.Value, &list); err != nil {
		var wrapped struct {
			Issues []rawIssue `json:"issues"`
		}
		if err := json.Unmarshal(parsed.Value, &wrapped); err != nil {
			return []entities.Issue{}
		}
		list = wrapped.Issues
	}

	issues := make([]entities.Issue, 0, len(list))
	for _, r := range list {
		idx, ok := sceneIndex(r.SceneIndex)
		if !ok || idx < 1 || idx > len(scenes) || strings.TrimSpace(r.Issue) == "" {
			continue
		}
		issues = append(issues, entities.Issue{
			SceneIndex: idx,
			NodeID:     scenes[idx-1].ID,
			Issue:      strings.TrimSpace(r.Issue),
			Severity:   entities.ParseSeverity(r.Severity),
		})
	}
	return issues
}

func sceneIndex(raw json.RawMessage) (int, bool) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "scene"))
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}
