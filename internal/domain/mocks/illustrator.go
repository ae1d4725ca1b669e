package mocks

import (
	"context"
	"sync"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

// Illustrator is a mock implementation of ports.Illustrator.
type Illustrator struct {
	Ref      string
	Err      error
	Recorder *Recorder

	mu    sync.Mutex
	refs  [][]*entities.Entity
	nodes []string
}

// Illustrate returns the configured reference or error.
func (m *Illustrator) Illustrate(_ context.Context, _ *entities.Story, node *entities.Node, refs []*entities.Entity) (string, error) {
	done := m.Recorder.Begin(KindIllust, "")
	m.mu.Lock()
	m.nodes = append(m.nodes, node.ID)
	m.refs = append(m.refs, refs)
	m.mu.Unlock()
	done()

	if m.Err != nil {
		return "", m.Err
	}
	return m.Ref, nil
}

// Nodes returns the IDs of illustrated nodes.
func (m *Illustrator) Nodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.nodes...)
}

// References returns the entity references passed with each call.
func (m *Illustrator) References() [][]*entities.Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*entities.Entity(nil), m.refs...)
}
