package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

type exportFlags struct {
	format string
	output string
	nodeID string
}

func newStoryExportCmd() *cobra.Command {
	var flags exportFlags

	cmd := &cobra.Command{
		Use:   "export [story-id]",
		Short: "Export the current path of a story",
		Long:  "Exports the scenes from the root to the current scene (or --node) as markdown or JSON.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(args)
			if err != nil {
				return err
			}
			if !contains(storyExportFormats, flags.format) {
				return fmt.Errorf("invalid format %q, valid formats: %v", flags.format, storyExportFormats)
			}

			ctx := cmd.Context()
			return withDeps(ctx, func(d *Deps) error {
				shown, err := d.Stories.HandleShow(ctx, storyID)
				if err != nil {
					return err
				}
				path, err := d.Scenes.HandlePath(ctx, storyID, flags.nodeID)
				if err != nil {
					return err
				}
				return exportTo(flags.output, len(path), "scenes", func(w io.Writer) error {
					if flags.format == "json" {
						return formatStoryJSON(w, shown.Story, path)
					}
					return formatStoryMarkdown(w, shown.Story, path)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&flags.format, "format", "f", "markdown", "Output format (markdown, json)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVar(&flags.nodeID, "node", "", "Export the path ending at this scene instead of the current one")

	return cmd
}

func newEntityExportCmd() *cobra.Command {
	var flags exportFlags
	var entityType string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the World Bible",
		Long:  "Exports the story's World Bible as JSON or CSV in the format 'entity import' reads.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(nil)
			if err != nil {
				return err
			}
			if !contains(entityExportFormats, flags.format) {
				return fmt.Errorf("invalid format %q, valid formats: %v", flags.format, entityExportFormats)
			}

			ctx := cmd.Context()
			return withDeps(ctx, func(d *Deps) error {
				list, err := d.Entities.HandleList(ctx, storyID, entityType)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					return fmt.Errorf("no entities found to export")
				}
				if len(list) > DefaultExportLimit {
					list = list[:DefaultExportLimit]
				}
				return exportTo(flags.output, len(list), "entities", func(w io.Writer) error {
					if flags.format == "csv" {
						return formatEntitiesCSV(w, list)
					}
					return formatEntitiesJSON(w, list)
				})
			})
		},
	}

	cmd.Flags().StringVarP(&flags.format, "format", "f", "json", "Output format (json, csv)")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().StringVarP(&entityType, "type", "t", "", "Filter by entity type (character, location, prop)")

	return cmd
}

// exportTo runs format against the output file, or stdout when output is empty.
func exportTo(output string, count int, noun string, format func(io.Writer) error) (err error) {
	var w io.Writer = os.Stdout

	if output != "" {
		var f *os.File
		f, err = os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("creating file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("closing file: %w", cerr)
			}
		}()
		w = f
	}

	if err := format(w); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}

	if output != "" {
		fmt.Printf("Exported %d %s to %s\n", count, noun, output)
	}

	return nil
}

func formatStoryJSON(w io.Writer, story *entities.Story, path []*entities.Node) error {
	type exportScene struct {
		ID      string   `json:"id"`
		Prompt  string   `json:"prompt,omitempty"`
		Content string   `json:"content"`
		Summary string   `json:"summary,omitempty"`
		Notes   []string `json:"continuity_warnings,omitempty"`
	}
	type exportStory struct {
		ID          string        `json:"id"`
		Title       string        `json:"title"`
		Genre       string        `json:"genre,omitempty"`
		ContentMode string        `json:"content_mode"`
		Scenes      []exportScene `json:"scenes"`
	}

	out := exportStory{
		ID:          story.ID,
		Title:       story.Title,
		Genre:       story.Genre,
		ContentMode: string(story.ContentMode),
		Scenes:      make([]exportScene, 0, len(path)),
	}
	for _, n := range path {
		if n.IsRoot() {
			continue
		}
		scene := exportScene{
			ID:      n.ID,
			Prompt:  n.Metadata.Prompt,
			Content: n.Content,
			Notes:   n.Metadata.ContinuityWarnings,
		}
		if n.Summary != nil {
			scene.Summary = *n.Summary
		}
		out.Scenes = append(out.Scenes, scene)
	}

	return writeJSON(w, out)
}

func formatStoryMarkdown(w io.Writer, story *entities.Story, path []*entities.Node) error {
	if _, err := fmt.Fprintf(w, "# %s\n\n", story.Title); err != nil {
		return err
	}
	if story.Genre != "" {
		if _, err := fmt.Fprintf(w, "_%s_\n\n", story.Genre); err != nil {
			return err
		}
	}

	chapter := 0
	for _, n := range path {
		if n.IsRoot() {
			continue
		}
		chapter++
		if _, err := fmt.Fprintf(w, "## Scene %d\n\n", chapter); err != nil {
			return err
		}
		if n.Metadata.Prompt != "" {
			if _, err := fmt.Fprintf(w, "> %s\n\n", escapeMarkdown(n.Metadata.Prompt)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s\n\n", strings.TrimSpace(n.Content)); err != nil {
			return err
		}
	}

	if chapter == 0 {
		_, err := fmt.Fprint(w, "_No scenes yet._\n")
		return err
	}
	return nil
}

// entityExport mirrors the fields the import parsers read.
type entityExport struct {
	Name           string `json:"name"`
	EntityType     string `json:"entity_type"`
	Description    string `json:"description,omitempty"`
	BasePrompt     string `json:"base_prompt,omitempty"`
	ReferenceImage string `json:"reference_image,omitempty"`
	ImageSeed      *int64 `json:"image_seed,omitempty"`
}

func toEntityExports(list []*entities.Entity) []entityExport {
	out := make([]entityExport, 0, len(list))
	for _, e := range list {
		out = append(out, entityExport{
			Name:           e.Name,
			EntityType:     string(e.EntityType),
			Description:    e.Description,
			BasePrompt:     e.BasePrompt,
			ReferenceImage: e.ReferenceImage,
			ImageSeed:      e.ImageSeed,
		})
	}
	return out
}

func formatEntitiesJSON(w io.Writer, list []*entities.Entity) error {
	return writeJSON(w, toEntityExports(list))
}

func formatEntitiesCSV(w io.Writer, list []*entities.Entity) error {
	writer := csv.NewWriter(w)

	header := []string{"name", "entity_type", "description", "base_prompt", "reference_image", "image_seed"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range toEntityExports(list) {
		seed := ""
		if e.ImageSeed != nil {
			seed = strconv.FormatInt(*e.ImageSeed, 10)
		}
		row := []string{e.Name, e.EntityType, e.Description, e.BasePrompt, e.ReferenceImage, seed}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
