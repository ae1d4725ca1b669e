package handlers

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/mocks"
	"github.com/ersonp/storyforge/internal/domain/ports"
	"github.com/ersonp/storyforge/internal/domain/services"
)

const (
	plannerModel = "planner:7b"
	writerModel  = "writer:13b"
	safeModel    = "writer-safe:7b"
	summaryModel = "summary:3b"
	auditModel   = "audit:7b"
	detectModel  = "detect:7b"
	visionModel  = "llava:7b"

	testBeat = `{"setting": "the harbour", "characters_present": ["Mara"], "key_events": ["Mara acts"], "emotional_tone": "tense", "continuity_warnings": []}`
)

// app wires the real services over mocks, the way the CLI wires them over
// real adapters. Engine replies are chosen by model.
type app struct {
	store       *mocks.Store
	embedder    *mocks.Embedder
	index       *mocks.VectorIndex
	engine      *mocks.TextGenerator
	models      *mocks.ModelController
	coordinator *services.Coordinator

	narrative    *services.NarrativeService
	bible        *services.WorldBibleService
	orchestrator *services.Orchestrator

	mu       sync.Mutex
	audit    string
	detected string
}

func newApp(t *testing.T) *app {
	t.Helper()
	a := &app{
		store:    mocks.NewStore(),
		embedder: &mocks.Embedder{},
		index:    mocks.NewVectorIndex(),
		models:   &mocks.ModelController{},
		audit:    "[]",
		detected: "[]",
	}
	a.engine = &mocks.TextGenerator{Respond: a.respond, Description: "A tall woman in a salt-stained coat."}
	a.coordinator = services.NewCoordinator(a.models, services.CoordinatorOptions{GenerationLock: true, IllustrationLock: true}, nil)

	a.narrative = services.NewNarrativeService(a.store, a.embedder, a.index, nil)
	a.bible = services.NewWorldBibleService(a.store, a.embedder, a.index, a.engine, a.coordinator,
		services.WorldBibleModels{Detect: detectModel, Vision: visionModel}, nil)
	a.orchestrator = services.NewOrchestrator(services.OrchestratorDeps{
		Store:       a.store,
		Narrative:   a.narrative,
		Assembler:   services.NewContextAssembler(a.store, a.narrative, a.embedder, a.index, services.ContextOptions{}, nil),
		Planner:     services.NewPlanner(a.engine, plannerModel, nil),
		Writer:      services.NewWriter(a.engine, services.WriterModels{Unrestricted: writerModel, Safe: safeModel}, nil),
		Auditor:     services.NewContinuityAuditor(a.narrative, a.store, a.engine, a.coordinator, auditModel, nil),
		Coordinator: a.coordinator,
		Engine:      a.engine,
		Embedder:    a.embedder,
		Index:       a.index,
	}, services.OrchestratorOptions{SummaryModel: summaryModel}, nil)
	return a
}

func (a *app) respond(req ports.GenerateRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch req.Model {
	case plannerModel:
		return testBeat, nil
	case summaryModel:
		return "Mara made a choice.", nil
	case auditModel:
		return a.audit, nil
	case detectModel:
		return a.detected, nil
	default:
		return "Mara chose to " + direction(req.Prompt) + ".", nil
	}
}

func (a *app) setAudit(reply string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audit = reply
}

func (a *app) setDetected(reply string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detected = reply
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

func (a *app) story(t *testing.T, title string) (*entities.Story, *entities.Node) {
	t.Helper()
	story, root, err := a.narrative.CreateStory(t.Context(), services.CreateStoryInput{Title: title})
	require.NoError(t, err)
	return story, root
}

func (a *app) scene(t *testing.T, storyID, prompt string) *entities.Node {
	t.Helper()
	node, err := a.orchestrator.GenerateScene(t.Context(), storyID, "", prompt)
	require.NoError(t, err)
	return node
}

func (a *app) entity(t *testing.T, storyID, name, entityType, description string) *entities.Entity {
	t.Helper()
	e, err := a.bible.Create(t.Context(), services.CreateEntityInput{
		StoryID:     storyID,
		EntityType:  entityType,
		Name:        name,
		Description: description,
	})
	require.NoError(t, err)
	return e
}
