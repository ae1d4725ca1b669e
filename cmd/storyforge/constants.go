package main

// Default limits for CLI commands.
const (
	DefaultSearchLimit = 5
	DefaultListLimit   = 50
	DefaultExportLimit = 1000
	DefaultPreviewLen  = 72
)

// Valid export formats.
var (
	storyExportFormats  = []string{"markdown", "json"}
	entityExportFormats = []string{"json", "csv"}
)
