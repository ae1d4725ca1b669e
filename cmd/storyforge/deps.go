package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ersonp/storyforge/internal/application/handlers"
	"github.com/ersonp/storyforge/internal/domain/ports"
	"github.com/ersonp/storyforge/internal/domain/services"
	"github.com/ersonp/storyforge/internal/infrastructure/config"
	embedder "github.com/ersonp/storyforge/internal/infrastructure/embedder/openai"
	llm "github.com/ersonp/storyforge/internal/infrastructure/llm/openai"
	"github.com/ersonp/storyforge/internal/infrastructure/logging"
	"github.com/ersonp/storyforge/internal/infrastructure/modelctl/ollama"
	"github.com/ersonp/storyforge/internal/infrastructure/relationaldb/sqlite"
	"github.com/ersonp/storyforge/internal/infrastructure/vectordb/memory"
	"github.com/ersonp/storyforge/internal/infrastructure/vectordb/qdrant"
)

// Deps holds high-level dependencies for commands.
// Only handlers are exposed - services and repositories are internal.
type Deps struct {
	Config     *config.Config
	Logger     *zap.Logger
	Stories    *handlers.StoryHandler
	Scenes     *handlers.SceneHandler
	Entities   *handlers.EntityHandler
	Import     *handlers.ImportHandler
	Detect     *handlers.DetectHandler
	Continuity *handlers.ContinuityHandler
	Context    *handlers.ContextHandler
	Models     *handlers.ModelsHandler
	Reindex    *handlers.ReindexHandler
}

// withDeps loads config and builds dependencies, then calls the provided function.
// It handles cleanup automatically, waiting for background illustration
// jobs before the stores close.
func withDeps(ctx context.Context, fn func(*Deps) error) (err error) {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	if !config.Exists(cwd) {
		return fmt.Errorf("storyforge is not initialized in %s (run 'storyforge init')", cwd)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	storage, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing storage: %w", cerr)
		}
	}()

	if err := storage.Store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring sqlite schema: %w", err)
	}

	emb, err := embedder.NewEmbedder(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	engine, err := llm.NewClient(cfg.Engine)
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}

	controller := ollama.NewController(cfg.Engine)
	coordinator := services.NewCoordinator(controller, services.CoordinatorOptions{
		GenerationLock:   cfg.Coordinator.GenerationLock,
		IllustrationLock: cfg.Coordinator.IllustrationLock,
	}, logger)

	reindex := handlers.NewReindexHandler(storage.Store, emb, storage.Index, storage.Collections, cfg.Embedder.Dimensions, logger)
	if !cfg.Qdrant.Enabled {
		// The in-process index starts empty on every run.
		if _, err := reindex.Handle(ctx, handlers.ReindexOptions{}); err != nil {
			return fmt.Errorf("loading memory index: %w", err)
		}
	}

	narrative := services.NewNarrativeService(storage.Store, emb, storage.Index, logger)
	bible := services.NewWorldBibleService(storage.Store, emb, storage.Index, engine, coordinator,
		services.WorldBibleModels{Detect: cfg.Engine.PlannerModel, Vision: cfg.Engine.VisionModel}, logger)

	assembler := services.NewContextAssembler(storage.Store, narrative, emb, storage.Index, services.ContextOptions{
		CharBudget:  cfg.Context.CharBudget(),
		EntityTopK:  cfg.Context.EntityTopK,
		HistoryTopK: cfg.Context.HistoryTopK,
	}, logger)

	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Store:     storage.Store,
		Narrative: narrative,
		Assembler: assembler,
		Planner:   services.NewPlanner(engine, cfg.Engine.PlannerModel, logger),
		Writer: services.NewWriter(engine, services.WriterModels{
			Unrestricted: cfg.Engine.WriterModel,
			Safe:         cfg.Engine.SafeWriterModel,
		}, logger),
		Auditor:     services.NewContinuityAuditor(narrative, storage.Store, engine, coordinator, cfg.Engine.PlannerModel, logger),
		Coordinator: coordinator,
		Engine:      engine,
		Embedder:    emb,
		Index:       storage.Index,
	}, services.OrchestratorOptions{
		SummaryModel:        cfg.Engine.SummaryModel,
		UnloadBetweenStages: cfg.Engine.UnloadBetweenStages,
	}, logger)
	defer orchestrator.Wait()

	deps := &Deps{
		Config:     cfg,
		Logger:     logger,
		Stories:    handlers.NewStoryHandler(narrative),
		Scenes:     handlers.NewSceneHandler(orchestrator, narrative, storage.Store, emb, storage.Index),
		Entities:   handlers.NewEntityHandler(bible),
		Import:     handlers.NewImportHandler(bible, storage.Store),
		Detect:     handlers.NewDetectHandler(bible, narrative),
		Continuity: handlers.NewContinuityHandler(orchestrator),
		Context:    handlers.NewContextHandler(assembler, narrative),
		Models:     handlers.NewModelsHandler(controller, coordinator, configuredModels(cfg.Engine)),
		Reindex:    reindex,
	}

	return fn(deps)
}

// cliStorage is the storage the CLI runs on. Index is Qdrant when enabled,
// otherwise an in-process index with no collection to manage.
type cliStorage struct {
	Store       *sqlite.Repository
	Index       ports.VectorIndex
	Collections ports.CollectionManager
	closers     []func() error
}

func (s *cliStorage) Close() error {
	var errList []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

func openStorage(cfg *config.Config) (*cliStorage, error) {
	store, err := sqlite.NewRepository(cfg.SQLite)
	if err != nil {
		return nil, fmt.Errorf("creating sqlite repository: %w", err)
	}
	s := &cliStorage{Store: store, closers: []func() error{store.Close}}

	if !cfg.Qdrant.Enabled {
		s.Index = memory.NewIndex()
		return s, nil
	}

	repo, err := qdrant.NewRepository(cfg.Qdrant)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	s.Index = repo
	s.Collections = repo
	s.closers = append(s.closers, repo.Close)
	return s, nil
}

// initStorage adapts openStorage to the init handler.
func initStorage(cfg *config.Config) (*handlers.Storage, error) {
	s, err := openStorage(cfg)
	if err != nil {
		return nil, err
	}
	return &handlers.Storage{
		Store:       s.Store,
		Collections: s.Collections,
		Close:       s.Close,
	}, nil
}

func configuredModels(cfg config.EngineConfig) []string {
	return []string{cfg.PlannerModel, cfg.WriterModel, cfg.SafeWriterModel, cfg.SummaryModel}
}
