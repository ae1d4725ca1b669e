package entities

import "time"

// NodeType distinguishes the story root from generated scenes.
type NodeType string

// Node types.
const (
	NodeTypeRoot  NodeType = "root"
	NodeTypeScene NodeType = "scene"
)

// Node is one scene in a story tree. ParentID is nil only for the root.
type Node struct {
	ID        string       `json:"id"`
	StoryID   string       `json:"story_id"`
	ParentID  *string      `json:"parent_id,omitempty"`
	Content   string       `json:"content"`
	Summary   *string      `json:"summary,omitempty"`
	Embedding []float32    `json:"embedding,omitempty"`
	NodeType  NodeType     `json:"node_type"`
	Metadata  NodeMetadata `json:"metadata"`
	CreatedAt time.Time    `json:"created_at"`
}

// NodeMetadata is the structured side-data recorded with a generated scene.
type NodeMetadata struct {
	Prompt             string        `json:"prompt,omitempty"`
	Beat               *Beat         `json:"beat,omitempty"`
	PlanFallback       bool          `json:"plan_fallback,omitempty"`
	ContinuityWarnings []string      `json:"continuity_warnings,omitempty"`
	UnknownCharacters  []EntityDraft `json:"unknown_characters,omitempty"`
	IllustrationRef    string        `json:"illustration_ref,omitempty"`
}

// IsRoot reports whether n is its story's root.
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// HistoryText returns the summary if present, otherwise the full content.
func (n *Node) HistoryText() string {
	if n.Summary != nil && *n.Summary != "" {
		return *n.Summary
	}
	return n.Content
}
