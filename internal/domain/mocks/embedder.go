package mocks

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// DefaultDimensions is the vector size produced by Embedder when Dimensions is zero.
const DefaultDimensions = 16

// Embedder is a mock implementation of ports.Embedder. Vectors are a
// deterministic bag of hashed lowercase words, so texts that share words
// are close under cosine similarity.
type Embedder struct {
	Dimensions int
	// Vectors overrides the hashed vector for an exact text.
	Vectors  map[string][]float32
	Err      error
	Recorder *Recorder

	mu    sync.Mutex
	texts []string
}

// Embed returns the vector for text or the configured error.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

// EmbedBatch returns one vector per text.
func (m *Embedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	done := m.Recorder.Begin(KindEmbed, "")
	defer done()

	m.mu.Lock()
	m.texts = append(m.texts, texts...)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		result[i] = m.Vector(t)
	}
	return result, nil
}

// Texts returns every text embedded so far.
func (m *Embedder) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// Vector computes the deterministic vector for text.
func (m *Embedder) Vector(text string) []float32 {
	if v, ok := m.Vectors[text]; ok {
		return v
	}
	dims := m.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(dims)]++
	}
	return v
}
