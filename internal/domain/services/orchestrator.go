package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

const summarySystemPrompt = "You summarize scenes of an interactive story for later retrieval. Reply with the summary only."

const summaryPromptPrefix = "Summarize the following story scene in 1-2 sentences, naming the characters involved and what changed:\n\n"

// Summaries are best effort and kept short.
const maxSummaryChars = 600

// OrchestratorDeps collects the collaborators of an Orchestrator.
// Illustrator may be nil, which disables auto-illustration.
type OrchestratorDeps struct {
	Store       ports.NarrativeStore
	Narrative   *NarrativeService
	Assembler   *ContextAssembler
	Planner     *Planner
	Writer      *Writer
	Auditor     *ContinuityAuditor
	Coordinator *Coordinator
	Engine      ports.TextGenerator
	Embedder    ports.Embedder
	Index       ports.VectorIndex
	Illustrator ports.Illustrator
}

// OrchestratorOptions tunes the generation pipeline.
type OrchestratorOptions struct {
	// SummaryModel writes the 1-2 sentence retrieval summary. Empty uses the planner model.
	SummaryModel string
	// UnloadBetweenStages evicts the planner before the writer is warmed
	// when the two use different models.
	UnloadBetweenStages bool
}

// Orchestrator runs scene generation end to end: context, plan, prose,
// persistence and the leaf move, all under the generation lock.
type Orchestrator struct {
	deps   OrchestratorDeps
	opts   OrchestratorOptions
	logger *zap.Logger

	illustrations sync.WaitGroup
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(deps OrchestratorDeps, opts OrchestratorOptions, logger *zap.Logger) *Orchestrator {
	if opts.SummaryModel == "" && deps.Planner != nil {
		opts.SummaryModel = deps.Planner.Model()
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		logger: named(logger, "orchestrator"),
	}
}

// GenerateScene writes a new child of parentID in storyID and moves the
// story's leaf to it. An empty parentID continues from the current leaf.
func (o *Orchestrator) GenerateScene(ctx context.Context, storyID, parentID, prompt string) (*entities.Node, error) {
	return o.generate(ctx, storyID, parentID, prompt, nil)
}

// GenerateSceneStream is GenerateScene reporting progress to emit: a
// planning phase, a writing phase, raw prose chunks, then the stored node.
func (o *Orchestrator) GenerateSceneStream(ctx context.Context, storyID, parentID, prompt string, emit func(entities.StreamEvent)) (*entities.Node, error) {
	if emit == nil {
		emit = func(entities.StreamEvent) {}
	}
	return o.generate(ctx, storyID, parentID, prompt, emit)
}

// CreateBranch writes an alternative to nodeID: a new child of nodeID's
// parent. nodeID itself is left untouched.
func (o *Orchestrator) CreateBranch(ctx context.Context, nodeID, prompt string) (*entities.Node, error) {
	node, err := o.branchTarget(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return o.generate(ctx, node.StoryID, *node.ParentID, prompt, nil)
}

// CreateBranchStream is CreateBranch with streamed progress.
func (o *Orchestrator) CreateBranchStream(ctx context.Context, nodeID, prompt string, emit func(entities.StreamEvent)) (*entities.Node, error) {
	node, err := o.branchTarget(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return o.GenerateSceneStream(ctx, node.StoryID, *node.ParentID, prompt, emit)
}

// CheckContinuity audits the path ending at the story's current leaf.
func (o *Orchestrator) CheckContinuity(ctx context.Context, storyID string) ([]entities.Issue, error) {
	return o.deps.Auditor.Audit(ctx, storyID)
}

// Wait blocks until background illustrations have finished.
func (o *Orchestrator) Wait() {
	o.illustrations.Wait()
}

func (o *Orchestrator) branchTarget(ctx context.Context, nodeID string) (*entities.Node, error) {
	node, err := o.deps.Narrative.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.IsRoot() {
		return nil, errs.Validation("cannot branch from the root node; generate a scene instead")
	}
	return node, nil
}

func (o *Orchestrator) generate(ctx context.Context, storyID, parentID, prompt string, emit func(entities.StreamEvent)) (*entities.Node, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errs.Validation("prompt is required")
	}

	story, err := o.deps.Narrative.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if parentID == "" {
		if story.CurrentLeafID == nil {
			return nil, errs.Validation("story %s has no current leaf", storyID)
		}
		parentID = *story.CurrentLeafID
	}
	parent, err := o.deps.Narrative.GetNode(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent.StoryID != storyID {
		return nil, errs.NotFound("node", parentID)
	}

	var node *entities.Node
	err = o.deps.Coordinator.WithGeneration(ctx, func(lockCtx context.Context) error {
		// Once the lock is held the scene is finished and stored even if
		// the caller goes away.
		runCtx := context.WithoutCancel(lockCtx)
		// Settings may have changed while this request was queued.
		current, err := o.deps.Narrative.GetStory(runCtx, storyID)
		if err != nil {
			return err
		}
		story = current
		node, err = o.run(runCtx, story, parent, prompt, emit)
		return err
	})
	if err != nil {
		return nil, err
	}

	if emit != nil {
		emit(entities.StreamEvent{Kind: entities.StreamEventNode, Node: node})
	}
	o.illustrate(story, node)
	return node, nil
}

func (o *Orchestrator) run(ctx context.Context, story *entities.Story, parent *entities.Node, prompt string, emit func(entities.StreamEvent)) (*entities.Node, error) {
	start := time.Now()
	log := o.logger.With(zap.String("story_id", story.ID), zap.String("parent_id", parent.ID))

	assembled, err := o.deps.Assembler.Assemble(ctx, AssembleRequest{
		StoryID:    story.ID,
		FromNodeID: parent.ID,
		Prompt:     prompt,
		Depth:      story.Depth(),
	})
	if err != nil {
		return nil, fmt.Errorf("assembling context: %w", err)
	}
	bible, err := o.deps.Store.ListEntities(ctx, story.ID)
	if err != nil {
		return nil, fmt.Errorf("listing world bible: %w", err)
	}

	if emit != nil {
		emit(entities.StreamEvent{Kind: entities.StreamEventPhase, Phase: entities.PhasePlanning})
	}
	plannerModel := o.deps.Planner.Model()
	o.deps.Coordinator.EnsureLoaded(ctx, plannerModel)
	plan, err := o.deps.Planner.Plan(ctx, assembled.Text, prompt, bible)
	if err != nil {
		return nil, err
	}

	writerModel := o.deps.Writer.ModelFor(story.ContentMode)
	if o.opts.UnloadBetweenStages && writerModel != plannerModel {
		o.deps.Coordinator.Unload(ctx, plannerModel)
	}
	o.deps.Coordinator.EnsureLoaded(ctx, writerModel)

	var content string
	if emit != nil {
		emit(entities.StreamEvent{Kind: entities.StreamEventPhase, Phase: entities.PhaseWriting})
		content, err = o.deps.Writer.WriteStream(ctx, plan.Beat, assembled.Text, prompt, story.ContentMode, func(chunk string) {
			emit(entities.StreamEvent{Kind: entities.StreamEventChunk, Chunk: chunk})
		})
	} else {
		content, err = o.deps.Writer.Write(ctx, plan.Beat, assembled.Text, prompt, story.ContentMode)
	}
	if err != nil {
		return nil, err
	}

	summary := o.summarize(ctx, content)

	embedding, err := o.deps.Embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embedding scene: %w", err)
	}

	beat := plan.Beat
	parentID := parent.ID
	node := &entities.Node{
		StoryID:   story.ID,
		ParentID:  &parentID,
		Content:   content,
		Summary:   summary,
		Embedding: embedding,
		NodeType:  entities.NodeTypeScene,
		Metadata: entities.NodeMetadata{
			Prompt:             prompt,
			Beat:               &beat,
			PlanFallback:       plan.Fallback,
			ContinuityWarnings: beat.ContinuityWarnings,
			UnknownCharacters:  beat.UnknownCharacters,
		},
	}
	if err := o.deps.Store.AppendChild(ctx, node); err != nil {
		return nil, fmt.Errorf("storing scene: %w", err)
	}
	if err := o.deps.Index.IndexNode(ctx, *node); err != nil {
		return nil, fmt.Errorf("indexing scene: %w", err)
	}

	// The leaf moves last so it never points at a scene that is not fully
	// stored.
	if err := o.deps.Narrative.SetLeaf(ctx, story.ID, node.ID); err != nil {
		return nil, fmt.Errorf("moving leaf: %w", err)
	}

	log.Info("scene generated",
		zap.String("node_id", node.ID),
		zap.Bool("plan_fallback", plan.Fallback),
		zap.Bool("context_degraded", assembled.Degraded),
		zap.Int("warnings", len(beat.ContinuityWarnings)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return node, nil
}

// summarize returns a short retrieval summary of content, or nil when the
// engine fails or returns nothing usable.
func (o *Orchestrator) summarize(ctx context.Context, content string) *string {
	if o.deps.Engine == nil || o.opts.SummaryModel == "" {
		return nil
	}
	raw, err := o.deps.Engine.Generate(ctx, ports.GenerateRequest{
		Model:  o.opts.SummaryModel,
		System: summarySystemPrompt,
		Prompt: summaryPromptPrefix + content,
	})
	if err != nil {
		o.logger.Warn("summary failed, storing scene without one", zap.Error(err))
		return nil
	}
	summary := strings.TrimSpace(raw)
	if summary == "" {
		return nil
	}
	if len(summary) > maxSummaryChars {
		cut := maxSummaryChars
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = strings.TrimSpace(summary[:cut])
	}
	return &summary
}

// illustrate renders the scene in the background when the story asks for
// it. Failures never reach the caller.
func (o *Orchestrator) illustrate(story *entities.Story, node *entities.Node) {
	if o.deps.Illustrator == nil || !story.AutoIllustrate {
		return
	}

	o.illustrations.Add(1)
	go func() {
		defer o.illustrations.Done()

		ctx := context.Background()
		log := o.logger.With(zap.String("node_id", node.ID))
		err := o.deps.Coordinator.WithIllustration(ctx, func(ctx context.Context) error {
			refs, err := o.references(ctx, story.ID, node)
			if err != nil {
				return err
			}
			ref, err := o.deps.Illustrator.Illustrate(ctx, story, node, refs)
			if err != nil {
				return fmt.Errorf("illustrating scene: %w", err)
			}

			current, err := o.deps.Narrative.GetNode(ctx, node.ID)
			if err != nil {
				return err
			}
			current.Metadata.IllustrationRef = ref
			return o.deps.Store.UpdateNode(ctx, current)
		})
		if err != nil {
			log.Warn("illustration failed", zap.Error(err))
			return
		}
		log.Debug("scene illustrated")
	}()
}

// references picks the World Bible entries named in the scene so the
// illustrator can keep their look consistent.
func (o *Orchestrator) references(ctx context.Context, storyID string, node *entities.Node) ([]*entities.Entity, error) {
	bible, err := o.deps.Store.ListEntities(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("listing world bible: %w", err)
	}
	matcher, err := NewNameMatcher(bible)
	if err != nil {
		return nil, fmt.Errorf("building name matcher: %w", err)
	}
	return matcher.Match(node.Content), nil
}
