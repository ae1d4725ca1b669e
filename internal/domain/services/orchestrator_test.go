package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/mocks"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

const (
	writerModel = "writer:13b"
	sceneBeat   = `{"setting": "the docks", "characters_present": ["Mara"], "key_events": ["Mara casts off"], "emotional_tone": "hopeful", "continuity_warnings": []}`
	sceneSumm   = "Mara sets out from the docks."
)

type pipeline struct {
	*narrativeFixture
	recorder    *mocks.Recorder
	engine      *mocks.TextGenerator
	models      *mocks.ModelController
	illustrator *mocks.Illustrator
	coordinator *Coordinator
	orch        *Orchestrator

	mu      sync.Mutex
	failing map[string]error
}

func newPipeline(t *testing.T, opts OrchestratorOptions) *pipeline {
	t.Helper()
	p := &pipeline{
		narrativeFixture: newNarrativeFixture(),
		recorder:         &mocks.Recorder{},
		failing:          make(map[string]error),
	}
	p.embedder.Recorder = p.recorder
	p.engine = &mocks.TextGenerator{Respond: p.respond, Recorder: p.recorder}
	p.models = &mocks.ModelController{Recorder: p.recorder}
	p.illustrator = &mocks.Illustrator{Ref: "illustrations/1.png"}
	p.coordinator = NewCoordinator(p.models, bothLocks(), nil)

	p.orch = NewOrchestrator(OrchestratorDeps{
		Store:       p.store,
		Narrative:   p.svc,
		Assembler:   NewContextAssembler(p.store, p.svc, p.embedder, p.index, ContextOptions{}, nil),
		Planner:     NewPlanner(p.engine, plannerModel, nil),
		Writer:      NewWriter(p.engine, WriterModels{Unrestricted: writerModel}, nil),
		Auditor:     NewContinuityAuditor(p.svc, p.store, p.engine, p.coordinator, plannerModel, nil),
		Coordinator: p.coordinator,
		Engine:      p.engine,
		Embedder:    p.embedder,
		Index:       p.index,
		Illustrator: p.illustrator,
	}, opts, nil)
	return p
}

// fail makes every request with the given system prompt return err.
func (p *pipeline) fail(system string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[system] = err
}

func (p *pipeline) respond(req ports.GenerateRequest) (string, error) {
	p.mu.Lock()
	err := p.failing[req.System]
	p.mu.Unlock()
	if err != nil {
		return "", err
	}

	switch req.System {
	case plannerSystemPrompt:
		return sceneBeat, nil
	case summarySystemPrompt:
		return sceneSumm, nil
	default:
		return "Mara chose to " + direction(req.Prompt) + ".\n\nLet me know if you'd like more!", nil
	}
}

// direction extracts the reader's direction from a writer prompt.
func direction(prompt string) string {
	_, after, ok := strings.Cut(prompt, "Reader's direction: ")
	if !ok {
		return "wait"
	}
	line, _, _ := strings.Cut(after, "\n")
	return line
}

func (p *pipeline) story(t *testing.T, in CreateStoryInput) (*entities.Story, *entities.Node) {
	t.Helper()
	if in.Title == "" {
		in.Title = "Tale"
	}
	story, root, err := p.svc.CreateStory(t.Context(), in)
	require.NoError(t, err)
	return story, root
}

func (p *pipeline) leaf(t *testing.T, storyID string) string {
	t.Helper()
	story, err := p.svc.GetStory(t.Context(), storyID)
	require.NoError(t, err)
	require.NotNil(t, story.CurrentLeafID)
	return *story.CurrentLeafID
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	story, root := p.story(t, CreateStoryInput{})

	nodes, err := p.store.ListNodes(t.Context(), story.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	first, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, "sail out")
	require.NoError(t, err)

	require.NotNil(t, first.ParentID)
	assert.Equal(t, root.ID, *first.ParentID)
	assert.Equal(t, entities.NodeTypeScene, first.NodeType)
	assert.Equal(t, "Mara chose to sail out.", first.Content)
	assert.NotEmpty(t, first.Embedding)
	require.NotNil(t, first.Summary)
	assert.Equal(t, sceneSumm, *first.Summary)
	require.NotNil(t, first.Metadata.Beat)
	assert.Equal(t, "the docks", first.Metadata.Beat.Setting)
	assert.Equal(t, "sail out", first.Metadata.Prompt)
	assert.False(t, first.Metadata.PlanFallback)
	assert.Equal(t, first.ID, p.leaf(t, story.ID))
	assert.True(t, p.index.Has(first.ID))

	branch, err := p.orch.CreateBranch(t.Context(), first.ID, "alternate direction")
	require.NoError(t, err)

	require.NotNil(t, branch.ParentID)
	assert.Equal(t, root.ID, *branch.ParentID, "a branch is a sibling")
	assert.Equal(t, "Mara chose to alternate direction.", branch.Content)
	assert.Equal(t, branch.ID, p.leaf(t, story.ID))

	unchanged, err := p.svc.GetNode(t.Context(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Content, unchanged.Content)

	children, err := p.store.Children(t.Context(), root.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
	assert.NoError(t, p.svc.CheckIntegrity(t.Context(), story.ID))
}

func TestOrchestrator_ContinuesFromLeaf(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	story, _ := p.story(t, CreateStoryInput{})

	first, err := p.orch.GenerateScene(t.Context(), story.ID, "", "sail out")
	require.NoError(t, err)
	second, err := p.orch.GenerateScene(t.Context(), story.ID, "", "drop anchor")
	require.NoError(t, err)

	assert.Equal(t, first.ID, *second.ParentID)
	assert.Equal(t, second.ID, p.leaf(t, story.ID))
}

func TestOrchestrator_CallOrder(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{UnloadBetweenStages: true})
	story, root := p.story(t, CreateStoryInput{})

	_, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, "sail out")
	require.NoError(t, err)

	assert.Equal(t, []string{
		mocks.KindEmbed,    // context retrieval
		mocks.KindPreload,  // planner
		mocks.KindGenerate, // plan
		mocks.KindUnload,   // planner
		mocks.KindPreload,  // writer
		mocks.KindGenerate, // prose
		mocks.KindGenerate, // summary
		mocks.KindEmbed,    // scene vector
	}, p.recorder.Kinds())

	calls := p.recorder.Calls()
	assert.Equal(t, plannerModel, calls[1].Model)
	assert.Equal(t, plannerModel, calls[2].Model)
	assert.Equal(t, writerModel, calls[4].Model)
	assert.Equal(t, writerModel, calls[5].Model)
	assert.Equal(t, plannerModel, calls[6].Model)
	assert.Equal(t, 1, p.recorder.MaxActive())
}

func TestOrchestrator_NoUnloadWhenSameModel(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{UnloadBetweenStages: true})
	p.orch.deps.Writer = NewWriter(p.engine, WriterModels{Unrestricted: plannerModel}, nil)
	story, root := p.story(t, CreateStoryInput{})

	_, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, "sail out")
	require.NoError(t, err)

	assert.Empty(t, p.models.Unloads())
}

func TestOrchestrator_ConcurrentStoriesNeverOverlap(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	p.engine.Delay = 5 * time.Millisecond

	const n = 4
	stories := make([]*entities.Story, n)
	roots := make([]*entities.Node, n)
	for i := range n {
		stories[i], roots[i] = p.story(t, CreateStoryInput{Title: "Tale"})
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.orch.GenerateScene(t.Context(), stories[i].ID, roots[i].ID, "sail out")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, p.recorder.MaxActive(), "engine calls from different stories overlapped")
	assert.Equal(t, int64(n), p.coordinator.Stats().Generation.Completed)
	for i := range n {
		assert.NotEqual(t, roots[i].ID, p.leaf(t, stories[i].ID))
	}
}

func TestOrchestrator_Stream(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	story, root := p.story(t, CreateStoryInput{})

	var events []entities.StreamEvent
	node, err := p.orch.GenerateSceneStream(t.Context(), story.ID, root.ID, "sail out", func(e entities.StreamEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, entities.StreamEvent{Kind: entities.StreamEventPhase, Phase: entities.PhasePlanning}, events[0])
	assert.Equal(t, entities.StreamEvent{Kind: entities.StreamEventPhase, Phase: entities.PhaseWriting}, events[1])

	last := events[len(events)-1]
	assert.Equal(t, entities.StreamEventNode, last.Kind)
	require.NotNil(t, last.Node)
	assert.Equal(t, node.ID, last.Node.ID)

	var streamed strings.Builder
	for _, e := range events[2 : len(events)-1] {
		assert.Equal(t, entities.StreamEventChunk, e.Kind)
		streamed.WriteString(e.Chunk)
	}
	assert.Equal(t, "Mara chose to sail out.\n\nLet me know if you'd like more!", streamed.String(), "chunks are raw")
	assert.Equal(t, "Mara chose to sail out.", node.Content, "the stored scene is cleaned")
}

func TestOrchestrator_BranchStream(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	story, root := p.story(t, CreateStoryInput{})
	first, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, "sail out")
	require.NoError(t, err)

	var kinds []entities.StreamEventKind
	branch, err := p.orch.CreateBranchStream(t.Context(), first.ID, "stay ashore", func(e entities.StreamEvent) {
		kinds = append(kinds, e.Kind)
	})
	require.NoError(t, err)

	assert.Equal(t, root.ID, *branch.ParentID)
	assert.Equal(t, entities.StreamEventNode, kinds[len(kinds)-1])
}

func TestOrchestrator_Rejects(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	story, root := p.story(t, CreateStoryInput{})
	_, otherRoot := p.story(t, CreateStoryInput{Title: "Other"})

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{
			name: "empty prompt",
			call: func() error { _, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, " "); return err },
			want: errs.ErrValidation,
		},
		{
			name: "missing story",
			call: func() error { _, err := p.orch.GenerateScene(t.Context(), "missing", root.ID, "go"); return err },
			want: errs.ErrNotFound,
		},
		{
			name: "parent from another story",
			call: func() error { _, err := p.orch.GenerateScene(t.Context(), story.ID, otherRoot.ID, "go"); return err },
			want: errs.ErrNotFound,
		},
		{
			name: "branch from root",
			call: func() error { _, err := p.orch.CreateBranch(t.Context(), root.ID, "go"); return err },
			want: errs.ErrValidation,
		},
		{
			name: "branch from missing node",
			call: func() error { _, err := p.orch.CreateBranch(t.Context(), "missing", "go"); return err },
			want: errs.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.want)
		})
	}
	assert.Empty(t, p.recorder.Calls(), "nothing reached the engine")
}

func TestOrchestrator_FailuresLeaveLeafAlone(t *testing.T) {
	unavailable := errs.Unavailable("ollama", errors.New("connection refused"))

	tests := []struct {
		name  string
		setup func(p *pipeline)
		want  error
	}{
		{
			name:  "planner down",
			setup: func(p *pipeline) { p.fail(plannerSystemPrompt, unavailable) },
			want:  errs.ErrServiceUnavailable,
		},
		{
			name: "writer model missing",
			setup: func(p *pipeline) {
				p.fail(SystemPrompt(entities.ContentModeUnrestricted), errs.ModelNotFound("ollama", writerModel, nil))
			},
			want: errs.ErrModelNotFound,
		},
		{
			name:  "embedder down",
			setup: func(p *pipeline) { p.embedder.Err = errs.Unavailable("embedder", errors.New("connection refused")) },
			want:  errs.ErrServiceUnavailable,
		},
		{
			name:  "store rejects the scene",
			setup: func(p *pipeline) { p.store.AppendErr = errors.New("disk full") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, OrchestratorOptions{})
			story, root := p.story(t, CreateStoryInput{})
			tt.setup(p)

			_, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, "sail out")
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}

			assert.Equal(t, root.ID, p.leaf(t, story.ID))
			children, err := p.store.Children(t.Context(), root.ID)
			require.NoError(t, err)
			assert.Empty(t, children)
		})
	}
}

func TestOrchestrator_SummaryIsBestEffort(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	p.fail(summarySystemPrompt, errs.Timeout("ollama", time.Second, context.DeadlineExceeded))
	story, root := p.story(t, CreateStoryInput{})

	node, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, "sail out")
	require.NoError(t, err)

	assert.Nil(t, node.Summary)
	assert.Equal(t, node.ID, p.leaf(t, story.ID))
}

func TestOrchestrator_SummaryCutOnRuneBoundary(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	long := strings.Repeat("a", maxSummaryChars-1) + "é…"
	p.engine.Respond = func(req ports.GenerateRequest) (string, error) {
		if req.System == summarySystemPrompt {
			return long, nil
		}
		return p.respond(req)
	}
	story, root := p.story(t, CreateStoryInput{})

	node, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, "sail out")
	require.NoError(t, err)

	require.NotNil(t, node.Summary)
	assert.True(t, utf8.ValidString(*node.Summary))
	assert.Equal(t, strings.Repeat("a", maxSummaryChars-1), *node.Summary)
}

func TestOrchestrator_SettingsChangedWhileQueued(t *testing.T) {
	const safeWriter = "writer-safe:7b"
	p := newPipeline(t, OrchestratorOptions{})
	p.orch.deps.Writer = NewWriter(p.engine, WriterModels{Unrestricted: writerModel, Safe: safeWriter}, nil)
	story, root := p.story(t, CreateStoryInput{})

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = p.coordinator.WithGeneration(context.Background(), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	done := make(chan error, 1)
	go func() {
		_, err := p.orch.GenerateScene(context.Background(), story.ID, root.ID, "sail out")
		done <- err
	}()
	require.Eventually(t, func() bool {
		return p.coordinator.Stats().Generation.Queued == 1
	}, time.Second, time.Millisecond)

	mode := string(entities.ContentModeSafe)
	_, err := p.svc.UpdateSettings(t.Context(), story.ID, StorySettings{ContentMode: &mode})
	require.NoError(t, err)
	close(release)
	require.NoError(t, <-done)

	var models []string
	for _, req := range p.engine.Requests() {
		models = append(models, req.Model)
	}
	assert.Contains(t, models, safeWriter)
	assert.NotContains(t, models, writerModel)
}

func TestOrchestrator_CallerCancellationDoesNotAbortScene(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	p.engine.Delay = 20 * time.Millisecond
	story, root := p.story(t, CreateStoryInput{})

	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(5*time.Millisecond, cancel)

	node, err := p.orch.GenerateScene(ctx, story.ID, root.ID, "sail out")
	require.NoError(t, err)
	assert.Equal(t, node.ID, p.leaf(t, story.ID))
}

func TestOrchestrator_AutoIllustrate(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	story, root := p.story(t, CreateStoryInput{AutoIllustrate: true})
	mara := p.entity(t, story.ID, "Mara", entities.EntityTypeCharacter, "A smuggler")

	node, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, "sail out")
	require.NoError(t, err)
	p.orch.Wait()

	assert.Equal(t, []string{node.ID}, p.illustrator.Nodes())
	refs := p.illustrator.References()
	require.Len(t, refs, 1)
	require.Len(t, refs[0], 1)
	assert.Equal(t, mara.ID, refs[0][0].ID)

	stored, err := p.svc.GetNode(t.Context(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, "illustrations/1.png", stored.Metadata.IllustrationRef)
	assert.Equal(t, int64(1), p.coordinator.Stats().Illustration.Completed)
}

func TestOrchestrator_IllustrationFailureIsSilent(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	p.illustrator.Err = errors.New("gpu out of memory")
	story, root := p.story(t, CreateStoryInput{AutoIllustrate: true})

	node, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, "sail out")
	require.NoError(t, err)
	p.orch.Wait()

	stored, err := p.svc.GetNode(t.Context(), node.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Metadata.IllustrationRef)
	assert.Equal(t, node.ID, p.leaf(t, story.ID))
}

func TestOrchestrator_NoIllustrationUnlessEnabled(t *testing.T) {
	p := newPipeline(t, OrchestratorOptions{})
	story, root := p.story(t, CreateStoryInput{})

	_, err := p.orch.GenerateScene(t.Context(), story.ID, root.ID, "sail out")
	require.NoError(t, err)
	p.orch.Wait()

	assert.Empty(t, p.illustrator.Nodes())
}
