package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/services"
)

// DetectHandler finds new World Bible entries in text, scenes or files.
type DetectHandler struct {
	bible     *services.WorldBibleService
	narrative *services.NarrativeService
}

// NewDetectHandler creates a new detect handler.
func NewDetectHandler(bible *services.WorldBibleService, narrative *services.NarrativeService) *DetectHandler {
	return &DetectHandler{
		bible:     bible,
		narrative: narrative,
	}
}

// DetectResult contains the entities created from one source.
type DetectResult struct {
	Source   string             `json:"source"`
	Entities []*entities.Entity `json:"entities"`
}

// DetectBatchResult contains the result of detecting across a directory.
type DetectBatchResult struct {
	TotalFiles    int             `json:"total_files"`
	TotalEntities int             `json:"total_entities"`
	FileResults   []*DetectResult `json:"files"`
	Errors        []error         `json:"-"`
}

// HandleText detects entities in free text.
func (h *DetectHandler) HandleText(ctx context.Context, storyID, text string) (*DetectResult, error) {
	created, err := h.bible.Detect(ctx, storyID, text)
	if err != nil {
		return nil, err
	}
	return &DetectResult{Source: "text", Entities: created}, nil
}

// HandleNode detects entities in an existing scene.
func (h *DetectHandler) HandleNode(ctx context.Context, nodeID string) (*DetectResult, error) {
	node, err := h.narrative.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	created, err := h.bible.Detect(ctx, node.StoryID, node.Content)
	if err != nil {
		return nil, err
	}
	return &DetectResult{Source: node.ID, Entities: created}, nil
}

// HandleFile detects entities in a text file such as a draft chapter.
func (h *DetectHandler) HandleFile(ctx context.Context, storyID, filePath string) (*DetectResult, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("accessing file: %w", err)
	}

	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", absPath)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	created, err := h.bible.Detect(ctx, storyID, string(data))
	if err != nil {
		return nil, fmt.Errorf("detecting entities: %w", err)
	}

	return &DetectResult{Source: absPath, Entities: created}, nil
}

// HandleDirectory detects entities in every matching file of a directory.
// Files are processed in walk order so earlier files claim names first.
func (h *DetectHandler) HandleDirectory(ctx context.Context, storyID, dirPath, pattern string, recursive bool, progressFn func(file string)) (*DetectBatchResult, error) {
	absPath, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("accessing path: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absPath)
	}

	files, err := findFiles(absPath, pattern, recursive)
	if err != nil {
		return nil, fmt.Errorf("finding files: %w", err)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no files matching pattern %q found in %s", pattern, absPath)
	}

	result := &DetectBatchResult{
		FileResults: make([]*DetectResult, 0, len(files)),
	}

	for _, file := range files {
		if progressFn != nil {
			progressFn(file)
		}

		fileResult, err := h.HandleFile(ctx, storyID, file)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", file, err))
			continue
		}

		result.FileResults = append(result.FileResults, fileResult)
		result.TotalFiles++
		result.TotalEntities += len(fileResult.Entities)
	}

	return result, nil
}

// findFiles finds all files matching the pattern in the directory.
func findFiles(dirPath string, pattern string, recursive bool) ([]string, error) {
	var files []string

	walkFn := func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if !recursive && path != dirPath {
				return filepath.SkipDir
			}
			return nil
		}

		matched, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return err
		}

		if matched {
			files = append(files, path)
		}

		return nil
	}

	if err := filepath.WalkDir(dirPath, walkFn); err != nil {
		return nil, err
	}

	return files, nil
}

// IsDirectory checks if the given path is a directory.
func IsDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// IsGlobPattern checks if the path contains glob characters.
func IsGlobPattern(path string) bool {
	return strings.ContainsAny(path, "*?[")
}
