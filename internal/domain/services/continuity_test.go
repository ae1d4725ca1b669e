package services

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/mocks"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

var scenePattern = regexp.MustCompile(`(?m)^Scene (\d+):\n(.*)$`)

// handsChecker plays a continuity editor that knows one rule: a character
// who lost a hand cannot later use both.
func handsChecker(req ports.GenerateRequest) (string, error) {
	lost := false
	var issues []string
	for _, m := range scenePattern.FindAllStringSubmatch(req.Prompt, -1) {
		text := strings.ToLower(m[2])
		if strings.Contains(text, "lost her left hand") {
			lost = true
		}
		if lost && strings.Contains(text, "both hands") {
			issues = append(issues, fmt.Sprintf(`{"scene_index": %s, "issue": "Mara uses both hands after losing one in scene 1", "severity": "major"}`, m[1]))
		}
	}
	return "[" + strings.Join(issues, ",") + "]", nil
}

type auditFixture struct {
	*narrativeFixture
	engine      *mocks.TextGenerator
	coordinator *Coordinator
	auditor     *ContinuityAuditor
	story       *entities.Story
	root        *entities.Node
}

func newAuditFixture(t *testing.T, respond func(ports.GenerateRequest) (string, error)) *auditFixture {
	t.Helper()
	f := &auditFixture{narrativeFixture: newNarrativeFixture()}
	f.engine = &mocks.TextGenerator{Respond: respond}
	f.coordinator = NewCoordinator(nil, bothLocks(), nil)
	f.auditor = NewContinuityAuditor(f.svc, f.store, f.engine, f.coordinator, plannerModel, nil)

	story, root, err := f.svc.CreateStory(t.Context(), CreateStoryInput{Title: "Tale"})
	require.NoError(t, err)
	f.story, f.root = story, root
	return f
}

// scenes appends a chain below the root and moves the leaf to its end.
func (f *auditFixture) scenes(t *testing.T, contents ...string) []*entities.Node {
	t.Helper()
	nodes := f.chain(t, f.story.ID, f.root.ID, contents...)
	require.NoError(t, f.svc.SetLeaf(t.Context(), f.story.ID, nodes[len(nodes)-1].ID))
	return nodes
}

func TestContinuityAuditor_FindsContradiction(t *testing.T) {
	f := newAuditFixture(t, handsChecker)
	nodes := f.scenes(t,
		"Mara lost her left hand in the fire.",
		"She rests at the inn for a week.",
		"Mara claps with both hands as the ship arrives.",
		"The captain greets her at the pier.",
		"They sail at dawn.",
	)

	issues, err := f.auditor.Audit(t.Context(), f.story.ID)
	require.NoError(t, err)

	require.NotEmpty(t, issues)
	assert.Equal(t, 3, issues[0].SceneIndex)
	assert.Equal(t, nodes[2].ID, issues[0].NodeID)
	assert.Equal(t, entities.SeverityMajor, issues[0].Severity)

	reqs := f.engine.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, plannerModel, reqs[0].Model)
	assert.Equal(t, auditSystemPrompt, reqs[0].System)
	assert.NotContains(t, reqs[0].Prompt, f.root.Content, "the root is not a scene")
	assert.Equal(t, int64(1), f.coordinator.Stats().Generation.Completed)
}

func TestContinuityAuditor_IncludesWorldBible(t *testing.T) {
	f := newAuditFixture(t, func(ports.GenerateRequest) (string, error) { return "[]", nil })
	f.scenes(t, "Mara waits.")
	f.entity(t, f.story.ID, "Mara", entities.EntityTypeCharacter, "Has one hand")

	issues, err := f.auditor.Audit(t.Context(), f.story.ID)
	require.NoError(t, err)

	assert.Empty(t, issues)
	assert.Contains(t, f.engine.Requests()[0].Prompt, "- Mara (character): Has one hand")
}

func TestContinuityAuditor_OutputShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []entities.Issue
	}{
		{
			name: "wrapped object",
			raw:  `{"issues": [{"scene_index": 2, "issue": "Time runs backwards", "severity": "CRITICAL"}]}`,
			want: []entities.Issue{{SceneIndex: 2, Issue: "Time runs backwards", Severity: entities.SeverityCritical}},
		},
		{
			name: "fenced with quoted index",
			raw:  "```json\n[{\"scene_index\": \"2\", \"issue\": \"Wrong weather\", \"severity\": \"odd\"}]\n```",
			want: []entities.Issue{{SceneIndex: 2, Issue: "Wrong weather", Severity: entities.SeverityMinor}},
		},
		{
			name: "out of range and blank issues dropped",
			raw:  `[{"scene_index": 0, "issue": "x"}, {"scene_index": 9, "issue": "y"}, {"scene_index": 1, "issue": " "}]`,
			want: []entities.Issue{},
		},
		{
			name: "prose",
			raw:  "Everything looks consistent to me.",
			want: []entities.Issue{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuditFixture(t, func(ports.GenerateRequest) (string, error) { return tt.raw, nil })
			nodes := f.scenes(t, "One.", "Two.")
			for i := range tt.want {
				tt.want[i].NodeID = nodes[tt.want[i].SceneIndex-1].ID
			}

			issues, err := f.auditor.Audit(t.Context(), f.story.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, issues)
		})
	}
}

func TestContinuityAuditor_NoScenes(t *testing.T) {
	f := newAuditFixture(t, handsChecker)

	issues, err := f.auditor.Audit(t.Context(), f.story.ID)
	require.NoError(t, err)

	assert.Empty(t, issues)
	assert.NotNil(t, issues)
	assert.Empty(t, f.engine.Requests())
}

func TestContinuityAuditor_Errors(t *testing.T) {
	f := newAuditFixture(t, func(ports.GenerateRequest) (string, error) {
		return "", errs.Unavailable("ollama", errors.New("connection refused"))
	})
	f.scenes(t, "One.")

	_, err := f.auditor.Audit(t.Context(), f.story.ID)
	assert.ErrorIs(t, err, errs.ErrServiceUnavailable)

	_, err = f.auditor.Audit(t.Context(), "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
