// Package parsers provides parsers for importing World Bible entries from files.
package parsers

import (
	"io"
	"path/filepath"
	"strings"
)

// RawEntity is a World Bible entry parsed from an external source before validation.
type RawEntity struct {
	Name           string `json:"name"`
	EntityType     string `json:"entity_type"`
	Description    string `json:"description,omitempty"`
	BasePrompt     string `json:"base_prompt,omitempty"`
	ReferenceImage string `json:"reference_image,omitempty"`
	ImageSeed      *int64 `json:"image_seed,omitempty"` // Pointer to distinguish 0 from unset
	LineNum        int    `json:"-"`                    // Line number in source file (set by parser)
}

// Parser defines the interface for parsing entries from various formats.
type Parser interface {
	Parse(r io.Reader) ([]RawEntity, error)
}

// ForFormat returns the appropriate parser for the given format.
// Supported formats: "json", "csv".
func ForFormat(format string) Parser {
	switch strings.ToLower(format) {
	case "json":
		return &JSONParser{}
	case "csv":
		return &CSVParser{}
	default:
		return nil
	}
}

// ForFile returns the appropriate parser based on file extension.
func ForFile(filename string) Parser {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".json":
		return &JSONParser{}
	case ".csv":
		return &CSVParser{}
	default:
		return nil
	}
}
