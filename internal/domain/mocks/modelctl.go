package mocks

import (
	"context"
	"sync"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

// ModelController is a mock implementation of ports.ModelController.
type ModelController struct {
	Loaded     []entities.LoadedModel
	PreloadErr error
	UnloadErr  error
	ListErr    error
	Recorder   *Recorder

	mu       sync.Mutex
	preloads []string
	unloads  []string
}

// Preload records the hint.
func (m *ModelController) Preload(_ context.Context, model string) error {
	done := m.Recorder.Begin(KindPreload, model)
	defer done()
	m.mu.Lock()
	m.preloads = append(m.preloads, model)
	m.mu.Unlock()
	return m.PreloadErr
}

// Unload records the hint.
func (m *ModelController) Unload(_ context.Context, model string) error {
	done := m.Recorder.Begin(KindUnload, model)
	defer done()
	m.mu.Lock()
	m.unloads = append(m.unloads, model)
	m.mu.Unlock()
	return m.UnloadErr
}

// ListLoaded returns the configured models or error.
func (m *ModelController) ListLoaded(_ context.Context) ([]entities.LoadedModel, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Loaded, nil
}

// Preloads returns the models passed to Preload.
func (m *ModelController) Preloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.preloads...)
}

// Unloads returns the models passed to Unload.
func (m *ModelController) Unloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unloads...)
}
