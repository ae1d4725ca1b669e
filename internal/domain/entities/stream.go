package entities

import "time"

// StreamEventKind identifies a streamed generation event.
type StreamEventKind string

// Stream event kinds.
const (
	StreamEventPhase StreamEventKind = "phase"
	StreamEventChunk StreamEventKind = "chunk"
	StreamEventNode  StreamEventKind = "node"
)

// Generation phases announced while streaming.
const (
	PhasePlanning = "planning"
	PhaseWriting  = "writing"
)

// StreamEvent is emitted by the streaming generation variants: phase markers,
// then token chunks, then the persisted node.
type StreamEvent struct {
	Kind  StreamEventKind `json:"type"`
	Phase string          `json:"phase,omitempty"`
	Chunk string          `json:"chunk,omitempty"`
	Node  *Node           `json:"node,omitempty"`
}

// LoadedModel describes a model currently resident in the inference engine.
type LoadedModel struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	SizeVRAM  int64     `json:"size_vram"`
	ExpiresAt time.Time `json:"expires_at"`
}
