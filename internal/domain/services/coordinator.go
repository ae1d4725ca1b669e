package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/ports"
)

// CoordinatorOptions toggles the two engine locks.
type CoordinatorOptions struct {
	GenerationLock   bool
	IllustrationLock bool
}

// LockStats counts work through one lock.
type LockStats struct {
	Queued    int64
	Active    int64
	Completed int64
}

// CoordinatorStats is a snapshot of both locks.
type CoordinatorStats struct {
	Generation   LockStats
	Illustration LockStats
}

// engineLock is an exclusive, cancellable lock with counters. A nil
// semaphore means the lock is disabled and work runs unguarded.
type engineLock struct {
	name      string
	sem       *semaphore.Weighted
	queued    atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
}

func newEngineLock(name string, enabled bool) *engineLock {
	l := &engineLock{name: name}
	if enabled {
		l.sem = semaphore.NewWeighted(1)
	}
	return l
}

func (l *engineLock) run(ctx context.Context, logger *zap.Logger, fn func(context.Context) error) error {
	l.queued.Inc()
	waitStart := time.Now()
	if l.sem != nil {
		if err := l.sem.Acquire(ctx, 1); err != nil {
			l.queued.Dec()
			return fmt.Errorf("waiting for %s lock: %w", l.name, err)
		}
		defer l.sem.Release(1)
	}
	l.queued.Dec()
	l.active.Inc()
	defer func() {
		l.active.Dec()
		l.completed.Inc()
	}()

	if wait := time.Since(waitStart); wait > time.Second {
		logger.Debug("lock acquired after wait", zap.String("lock", l.name), zap.Duration("wait", wait))
	}
	return fn(ctx)
}

func (l *engineLock) stats() LockStats {
	return LockStats{
		Queued:    l.queued.Load(),
		Active:    l.active.Load(),
		Completed: l.completed.Load(),
	}
}

// Coordinator serialises use of the shared inference engine. One lock
// covers a whole generation pipeline, another covers illustration; each can
// be disabled independently. Residency hints are advisory.
type Coordinator struct {
	models       ports.ModelController
	generation   *engineLock
	illustration *engineLock
	logger       *zap.Logger
}

// NewCoordinator creates a new Coordinator. models may be nil, in which
// case residency hints are skipped.
func NewCoordinator(models ports.ModelController, opts CoordinatorOptions, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		models:       models,
		generation:   newEngineLock("generation", opts.GenerationLock),
		illustration: newEngineLock("illustration", opts.IllustrationLock),
		logger:       named(logger, "coordinator"),
	}
}

// WithGeneration runs fn while holding the generation lock. ctx bounds only
// the wait; fn receives ctx unchanged.
func (c *Coordinator) WithGeneration(ctx context.Context, fn func(context.Context) error) error {
	return c.generation.run(ctx, c.logger, fn)
}

// WithIllustration runs fn while holding the illustration lock.
func (c *Coordinator) WithIllustration(ctx context.Context, fn func(context.Context) error) error {
	return c.illustration.run(ctx, c.logger, fn)
}

// EnsureLoaded asks the engine to warm model. Failures are logged only.
func (c *Coordinator) EnsureLoaded(ctx context.Context, model string) {
	if c.models == nil || model == "" {
		return
	}
	if err := c.models.Preload(ctx, model); err != nil {
		c.logger.Warn("preload failed", zap.String("model", model), zap.Error(err))
		return
	}
	c.logger.Debug("model warmed", zap.String("model", model))
}

// Unload asks the engine to evict model. Failures are logged only.
func (c *Coordinator) Unload(ctx context.Context, model string) {
	if c.models == nil || model == "" {
		return
	}
	if err := c.models.Unload(ctx, model); err != nil {
		c.logger.Warn("unload failed", zap.String("model", model), zap.Error(err))
		return
	}
	c.logger.Debug("model unloaded", zap.String("model", model))
}

// ListLoaded reports the models the engine currently holds.
func (c *Coordinator) ListLoaded(ctx context.Context) ([]entities.LoadedModel, error) {
	if c.models == nil {
		return []entities.LoadedModel{}, nil
	}
	models, err := c.models.ListLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing loaded models: %w", err)
	}
	return models, nil
}

// Stats returns a snapshot of the lock counters.
func (c *Coordinator) Stats() CoordinatorStats {
	return CoordinatorStats{
		Generation:   c.generation.stats(),
		Illustration: c.illustration.stats(),
	}
}
