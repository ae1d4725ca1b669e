package entities

import "strings"

// Severity grades a continuity issue.
type Severity string

// Severities.
const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// ParseSeverity maps model output onto a Severity, defaulting to minor.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeverityMajor:
		return SeverityMajor
	case SeverityCritical:
		return SeverityCritical
	default:
		return SeverityMinor
	}
}

// Issue is one inconsistency found along a scene path.
// SceneIndex is 1-based over the non-root scenes of the path.
type Issue struct {
	SceneIndex int      `json:"scene_index"`
	NodeID     string   `json:"node_id,omitempty"`
	Issue      string   `json:"issue"`
	Severity   Severity `json:"severity"`
}
