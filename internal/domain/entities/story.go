// Package entities contains core domain data structures.
package entities

import (
	"strings"
	"time"

	"github.com/ersonp/storyforge/internal/domain/errs"
)

// DefaultContextDepth is the number of ancestor scenes fed to generation.
const DefaultContextDepth = 5

// ContentMode selects the writer's system prompt and model pairing.
type ContentMode string

// Content modes.
const (
	ContentModeUnrestricted ContentMode = "unrestricted"
	ContentModeSafe         ContentMode = "safe"
)

// IsValid reports whether m is a known content mode.
func (m ContentMode) IsValid() bool {
	return m == ContentModeUnrestricted || m == ContentModeSafe
}

// ParseContentMode converts user input to a ContentMode.
// Empty input selects the unrestricted mode.
func ParseContentMode(s string) (ContentMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ContentModeUnrestricted, nil
	}
	m := ContentMode(s)
	if !m.IsValid() {
		return "", errs.Validation("content_mode must be %q or %q, got %q", ContentModeUnrestricted, ContentModeSafe, s)
	}
	return m, nil
}

// Story is the top-level container of a scene tree and its World Bible.
type Story struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Genre          string      `json:"genre,omitempty"`
	ContentMode    ContentMode `json:"content_mode"`
	AutoIllustrate bool        `json:"auto_illustrate"`
	ContextDepth   int         `json:"context_depth"`
	CurrentLeafID  *string     `json:"current_leaf_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Depth returns the configured ancestor depth, falling back to the default.
func (s *Story) Depth() int {
	if s.ContextDepth <= 0 {
		return DefaultContextDepth
	}
	return s.ContextDepth
}

// RootContent is the placeholder content of a story's root node.
func RootContent(title string) string {
	return "[Beginning of '" + title + "']"
}
