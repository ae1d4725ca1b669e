package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

// Section labels of an assembled context, in priority order.
const (
	SectionRecentScenes    = "[RECENT SCENES]"
	SectionWorldBible      = "[WORLD BIBLE]"
	SectionRelevantHistory = "[RELEVANT HISTORY]"

	sceneSeparator   = "\n\n---\n\n"
	sectionSeparator = "\n\n"
)

// Retrieval defaults.
const (
	DefaultCharBudget  = 3000 * 4
	DefaultEntityTopK  = 5
	DefaultHistoryTopK = 5
)

// ContextOptions bounds context assembly.
type ContextOptions struct {
	// CharBudget caps the assembled text. Ancestors are always included in
	// full, so when they alone exceed the budget the text overshoots it
	// and only the World Bible and history sections are dropped.
	CharBudget  int
	EntityTopK  int
	HistoryTopK int
}

func (o ContextOptions) withDefaults() ContextOptions {
	if o.CharBudget <= 0 {
		o.CharBudget = DefaultCharBudget
	}
	if o.EntityTopK <= 0 {
		o.EntityTopK = DefaultEntityTopK
	}
	if o.HistoryTopK <= 0 {
		o.HistoryTopK = DefaultHistoryTopK
	}
	return o
}

// AssembleRequest identifies the tree point to generate from.
type AssembleRequest struct {
	StoryID    string
	FromNodeID string
	Prompt     string
	Depth      int
}

// AssembledContext is the bounded retrieval context for one generation.
type AssembledContext struct {
	Text      string
	Ancestors []*entities.Node
	// Entities and History hold only what made it into Text.
	Entities []*entities.Entity
	History  []*entities.Node
	// Truncated is set when enrichment was dropped to respect the budget.
	Truncated bool
	// Degraded is set when embedding or vector search failed and only
	// literal name matches and ancestors were used.
	Degraded bool
}

// ContextAssembler builds the retrieval context for scene generation from
// recent ancestors, World Bible entries and semantically related history.
type ContextAssembler struct {
	store     ports.NarrativeStore
	narrative *NarrativeService
	embedder  ports.Embedder
	index     ports.VectorIndex
	opts      ContextOptions
	logger    *zap.Logger
}

// NewContextAssembler creates a new ContextAssembler.
func NewContextAssembler(
	store ports.NarrativeStore,
	narrative *NarrativeService,
	embedder ports.Embedder,
	index ports.VectorIndex,
	opts ContextOptions,
	logger *zap.Logger,
) *ContextAssembler {
	return &ContextAssembler{
		store:     store,
		narrative: narrative,
		embedder:  embedder,
		index:     index,
		opts:      opts.withDefaults(),
		logger:    named(logger, "context"),
	}
}

// Assemble builds the context for generating a child of req.FromNodeID.
// Embedding and index failures degrade to ancestors plus literal name
// matches; only store failures are returned.
func (a *ContextAssembler) Assemble(ctx context.Context, req AssembleRequest) (*AssembledContext, error) {
	depth := req.Depth
	if depth <= 0 {
		depth = entities.DefaultContextDepth
	}

	ancestors, err := a.narrative.Ancestors(ctx, req.FromNodeID, depth)
	if err != nil {
		return nil, err
	}

	bible, err := a.store.ListEntities(ctx, req.StoryID)
	if err != nil {
		return nil, fmt.Errorf("listing world bible: %w", err)
	}

	result := &AssembledContext{Ancestors: ancestors}

	nameHits, err := a.nameMatches(bible, req.Prompt)
	if err != nil {
		a.logger.Warn("name matcher build failed", zap.Error(err))
	}

	vectorEntities, history, ok := a.vectorHits(ctx, req, ancestors)
	result.Degraded = !ok

	entitiesRanked := mergeEntities(nameHits, vectorEntities)
	result.Text, result.Entities, result.History, result.Truncated = a.render(ancestors, entitiesRanked, history)

	a.logger.Debug("context assembled",
		zap.String("story_id", req.StoryID),
		zap.Int("ancestors", len(result.Ancestors)),
		zap.Int("entities", len(result.Entities)),
		zap.Int("history", len(result.History)),
		zap.Int("chars", len(result.Text)),
		zap.Bool("truncated", result.Truncated),
		zap.Bool("degraded", result.Degraded),
	)
	return result, nil
}

func (a *ContextAssembler) nameMatches(bible []*entities.Entity, prompt string) ([]*entities.Entity, error) {
	if len(bible) == 0 || strings.TrimSpace(prompt) == "" {
		return nil, nil
	}
	matcher, err := NewNameMatcher(bible)
	if err != nil {
		return nil, err
	}
	return matcher.Match(prompt), nil
}

// vectorHits runs the entity and history searches. It reports false when
// enrichment had to be abandoned.
func (a *ContextAssembler) vectorHits(ctx context.Context, req AssembleRequest, ancestors []*entities.Node) ([]*entities.Entity, []*entities.Node, bool) {
	entityQuery := req.Prompt
	if len(ancestors) > 0 {
		entityQuery = strings.TrimSpace(req.Prompt + "\n\n" + ancestors[len(ancestors)-1].Content)
	}

	vectors, err := a.embedder.EmbedBatch(ctx, []string{entityQuery, req.Prompt})
	if err != nil || len(vectors) != 2 {
		a.logger.Warn("embedding failed, using ancestor-only context",
			zap.String("story_id", req.StoryID), zap.Error(err))
		return nil, nil, false
	}

	entityIDs, err := a.index.SearchEntities(ctx, req.StoryID, vectors[0], a.opts.EntityTopK)
	if err != nil {
		a.logger.Warn("entity search failed, using ancestor-only context",
			zap.String("story_id", req.StoryID), zap.Error(err))
		return nil, nil, false
	}

	exclude := make([]string, len(ancestors))
	for i, n := range ancestors {
		exclude[i] = n.ID
	}
	nodeIDs, err := a.index.SearchNodes(ctx, req.StoryID, vectors[1], exclude, a.opts.HistoryTopK)
	if err != nil {
		a.logger.Warn("history search failed, using ancestor-only context",
			zap.String("story_id", req.StoryID), zap.Error(err))
		return nil, nil, false
	}

	ents, err := a.store.FindEntities(ctx, entityIDs)
	if err != nil {
		a.logger.Warn("loading entity hits failed", zap.Error(err))
		return nil, nil, false
	}
	nodes, err := a.store.FindNodes(ctx, nodeIDs)
	if err != nil {
		a.logger.Warn("loading history hits failed", zap.Error(err))
		return nil, nil, false
	}

	// The index may lag the store; keep only what still qualifies.
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	history := nodes[:0]
	for _, n := range nodes {
		if n.StoryID == req.StoryID && !n.IsRoot() && !excluded[n.ID] && len(n.Embedding) > 0 {
			history = append(history, n)
		}
	}
	return ents, history, true
}

// mergeEntities lists name matches first, then vector hits not already present.
func mergeEntities(byName, byVector []*entities.Entity) []*entities.Entity {
	seen := make(map[string]bool, len(byName)+len(byVector))
	merged := make([]*entities.Entity, 0, len(byName)+len(byVector))
	for _, list := range [][]*entities.Entity{byName, byVector} {
		for _, e := range list {
			if !seen[e.ID] {
				seen[e.ID] = true
				merged = append(merged, e)
			}
		}
	}
	return merged
}

// render lays out the sections in priority order. Entries are never cut:
// the first one that does not fit ends enrichment, dropping it and every
// later entry and section.
func (a *ContextAssembler) render(ancestors []*entities.Node, ents []*entities.Entity, history []*entities.Node) (string, []*entities.Entity, []*entities.Node, bool) {
	var sb strings.Builder
	budget := a.opts.CharBudget

	if len(ancestors) > 0 {
		sb.WriteString(SectionRecentScenes)
		sb.WriteString("\n")
		for i, n := range ancestors {
			if i > 0 {
				sb.WriteString(sceneSeparator)
			}
			sb.WriteString(n.Content)
		}
	}

	var (
		keptEntities []*entities.Entity
		keptHistory  []*entities.Node
	)

	section := func(label string, entries []string, joiner string) (int, bool) {
		kept := 0
		for i, entry := range entries {
			var add string
			if i == 0 {
				if sb.Len() > 0 {
					add = sectionSeparator
				}
				add += label + "\n" + entry
			} else {
				add = joiner + entry
			}
			if sb.Len()+len(add) > budget {
				return kept, false
			}
			sb.WriteString(add)
			kept++
		}
		return kept, true
	}

	entityLines := make([]string, len(ents))
	for i, e := range ents {
		entityLines[i] = e.BibleLine()
	}
	kept, fits := section(SectionWorldBible, entityLines, "\n")
	keptEntities = ents[:kept]
	if !fits {
		return sb.String(), keptEntities, nil, true
	}

	historyTexts := make([]string, len(history))
	for i, n := range history {
		historyTexts[i] = n.HistoryText()
	}
	kept, fits = section(SectionRelevantHistory, historyTexts, sectionSeparator)
	keptHistory = history[:kept]

	return sb.String(), keptEntities, keptHistory, !fits
}
