package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/domain/ports"
	"github.com/ersonp/storyforge/internal/domain/services"
)

// ModelsHandler inspects and steers model residency on the inference engine.
type ModelsHandler struct {
	controller  ports.ModelController
	coordinator *services.Coordinator
	configured  []string
}

// NewModelsHandler creates a new models handler. configured lists the
// models the pipeline uses; "warm" without arguments preloads them.
func NewModelsHandler(controller ports.ModelController, coordinator *services.Coordinator, configured []string) *ModelsHandler {
	return &ModelsHandler{
		controller:  controller,
		coordinator: coordinator,
		configured:  dedupe(configured),
	}
}

// ModelsStatus reports the resident models and the lock counters.
type ModelsStatus struct {
	Loaded     []entities.LoadedModel    `json:"loaded"`
	Configured []string                  `json:"configured"`
	Locks      services.CoordinatorStats `json:"locks"`
}

// HandleList reports what the engine holds in memory.
func (h *ModelsHandler) HandleList(ctx context.Context) (*ModelsStatus, error) {
	loaded, err := h.coordinator.ListLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing loaded models: %w", err)
	}
	return &ModelsStatus{
		Loaded:     loaded,
		Configured: h.configured,
		Locks:      h.coordinator.Stats(),
	}, nil
}

// HandleWarm preloads models, or every configured model when none are
// given. It waits for the generation lock so it never evicts a running
// pipeline's model.
func (h *ModelsHandler) HandleWarm(ctx context.Context, models []string) ([]string, error) {
	return h.apply(ctx, models, func(ctx context.Context, m string) error {
		return h.controller.Preload(ctx, m)
	})
}

// HandleUnload evicts models, or every configured model when none are given.
func (h *ModelsHandler) HandleUnload(ctx context.Context, models []string) ([]string, error) {
	return h.apply(ctx, models, func(ctx context.Context, m string) error {
		return h.controller.Unload(ctx, m)
	})
}

func (h *ModelsHandler) apply(ctx context.Context, models []string, op func(context.Context, string) error) ([]string, error) {
	if h.controller == nil {
		return nil, errs.Validation("model residency control is not configured")
	}
	if len(models) == 0 {
		models = h.configured
	}
	models = dedupe(models)
	if len(models) == 0 {
		return nil, errs.Validation("no models given")
	}

	done := make([]string, 0, len(models))
	err := h.coordinator.WithGeneration(ctx, func(ctx context.Context) error {
		for _, m := range models {
			if err := op(ctx, m); err != nil {
				return err
			}
			done = append(done, m)
		}
		return nil
	})
	return done, err
}

func dedupe(models []string) []string {
	seen := make(map[string]bool, len(models))
	out := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
