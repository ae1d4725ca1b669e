package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/storyforge/internal/application/handlers"
)

type detectFlags struct {
	nodeID    string
	path      string
	pattern   string
	recursive bool
}

func newEntityDetectCmd() *cobra.Command {
	var flags detectFlags

	cmd := &cobra.Command{
		Use:   "detect [text]",
		Short: "Find new entities in text, a scene or files",
		Long: `Ask the engine for characters, locations and props that are not in the
World Bible yet, and add them.

Examples:
  storyforge entity detect "Captain Ilse met Mara at the Drowned Bell."
  storyforge entity detect --node <scene-id>
  storyforge entity detect --path drafts/chapter1.txt
  storyforge entity detect --path drafts --pattern "*.md" --recursive
  storyforge entity detect --path "drafts/*.txt"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.nodeID, "node", "", "Detect entities in a scene")
	cmd.Flags().StringVar(&flags.path, "path", "", "Detect entities in a file, directory or glob")
	cmd.Flags().StringVar(&flags.pattern, "pattern", "*.txt", "File pattern when --path is a directory")
	cmd.Flags().BoolVarP(&flags.recursive, "recursive", "r", false, "Descend into subdirectories")

	return cmd
}

func runDetect(cmd *cobra.Command, args []string, flags detectFlags) error {
	text := strings.Join(args, " ")
	sources := 0
	for _, set := range []bool{text != "", flags.nodeID != "", flags.path != ""} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return errors.New("give exactly one of: text, --node or --path")
	}

	ctx := cmd.Context()
	return withDeps(ctx, func(d *Deps) error {
		if flags.path != "" {
			return detectPath(cmd, d, flags)
		}

		var result *handlers.DetectResult
		var err error
		if flags.nodeID != "" {
			result, err = d.Detect.HandleNode(ctx, flags.nodeID)
		} else {
			storyID, serr := requireStory(nil)
			if serr != nil {
				return serr
			}
			result, err = d.Detect.HandleText(ctx, storyID, text)
		}
		if err != nil {
			return err
		}
		return printDetectResult(result)
	})
}

func detectPath(cmd *cobra.Command, d *Deps, flags detectFlags) error {
	ctx := cmd.Context()
	storyID, err := requireStory(nil)
	if err != nil {
		return err
	}

	dir, pattern := flags.path, flags.pattern
	switch {
	case handlers.IsGlobPattern(flags.path):
		dir, pattern = filepath.Dir(flags.path), filepath.Base(flags.path)
	case !handlers.IsDirectory(flags.path):
		fmt.Printf("Detecting entities in %s...\n", flags.path)
		result, err := d.Detect.HandleFile(ctx, storyID, flags.path)
		if err != nil {
			return err
		}
		return printDetectResult(result)
	}

	result, err := d.Detect.HandleDirectory(ctx, storyID, dir, pattern, flags.recursive, func(file string) {
		if !globalJSON {
			fmt.Printf("Detecting entities in %s...\n", file)
		}
	})
	if err != nil {
		return err
	}

	if globalJSON {
		return printJSON(result)
	}

	for _, fr := range result.FileResults {
		for _, e := range fr.Entities {
			fmt.Printf("  + [%s] %s (%s)\n", e.EntityType, e.Name, filepath.Base(fr.Source))
		}
	}
	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  %v\n", e)
		}
	}
	fmt.Printf("\nAdded %d entities from %d files\n", result.TotalEntities, result.TotalFiles)
	return nil
}

func printDetectResult(result *handlers.DetectResult) error {
	if globalJSON {
		return printJSON(result)
	}
	if len(result.Entities) == 0 {
		fmt.Println("No new entities found.")
		return nil
	}
	fmt.Printf("Added %d entities:\n", len(result.Entities))
	for _, e := range result.Entities {
		fmt.Printf("  + [%s] %s: %s\n", e.EntityType, e.Name, preview(e.Description, DefaultPreviewLen))
	}
	return nil
}
