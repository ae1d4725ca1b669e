package mocks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ersonp/storyforge/internal/domain/ports"
)

// Call kinds recorded by the engine mocks.
const (
	KindGenerate = "generate"
	KindStream   = "stream"
	KindDescribe = "describe"
	KindEmbed    = "embed"
	KindPreload  = "preload"
	KindUnload   = "unload"
	KindIllust   = "illustrate"
)

// TextGenerator is a mock implementation of ports.TextGenerator.
// Respond, when set, decides every completion; otherwise Text is returned.
type TextGenerator struct {
	Respond func(req ports.GenerateRequest) (string, error)
	Text    string
	Err     error

	// Describe return values
	Description string
	DescribeErr error

	// Delay holds each call open so overlapping calls become observable.
	Delay    time.Duration
	Recorder *Recorder

	mu       sync.Mutex
	requests []ports.GenerateRequest
}

// Generate returns the scripted completion.
func (m *TextGenerator) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	done := m.Recorder.Begin(KindGenerate, req.Model)
	defer done()
	return m.complete(ctx, req)
}

// GenerateStream emits the scripted completion word by word.
func (m *TextGenerator) GenerateStream(ctx context.Context, req ports.GenerateRequest, onChunk func(string)) (string, error) {
	done := m.Recorder.Begin(KindStream, req.Model)
	defer done()

	text, err := m.complete(ctx, req)
	if err != nil {
		return "", err
	}
	if onChunk != nil {
		for _, chunk := range strings.SplitAfter(text, " ") {
			if chunk != "" {
				onChunk(chunk)
			}
		}
	}
	return text, nil
}

// Describe returns the configured description or error.
func (m *TextGenerator) Describe(_ context.Context, model, prompt string, _ []byte) (string, error) {
	done := m.Recorder.Begin(KindDescribe, model)
	defer done()

	m.record(ports.GenerateRequest{Model: model, Prompt: prompt})
	if m.DescribeErr != nil {
		return "", m.DescribeErr
	}
	return m.Description, nil
}

// Requests returns a copy of every request received.
func (m *TextGenerator) Requests() []ports.GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.GenerateRequest(nil), m.requests...)
}

func (m *TextGenerator) complete(ctx context.Context, req ports.GenerateRequest) (string, error) {
	m.record(req)
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.Respond != nil {
		return m.Respond(req)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Text, nil
}

func (m *TextGenerator) record(req ports.GenerateRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}
