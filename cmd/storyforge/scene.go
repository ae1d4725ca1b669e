package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/storyforge/internal/application/handlers"
	"github.com/ersonp/storyforge/internal/domain/entities"
)

func newSceneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scene",
		Short: "Generate and navigate scenes",
		Long:  "Generate new scenes, branch from existing ones and move around the story tree.",
	}

	cmd.AddCommand(
		newSceneGenerateCmd(),
		newSceneBranchCmd(),
		newSceneEditCmd(),
		newSceneShowCmd(),
		newSceneContextCmd(),
		newScenePathCmd(),
		newSceneTreeCmd(),
		newSceneSelectCmd(),
		newSceneSearchCmd(),
	)

	return cmd
}

// streamPrinter prints pipeline phases to stderr and prose to stdout as it arrives.
func streamPrinter() func(entities.StreamEvent) {
	return func(ev entities.StreamEvent) {
		switch ev.Kind {
		case entities.StreamEventPhase:
			fmt.Fprintf(os.Stderr, "[%s]\n", ev.Phase)
		case entities.StreamEventChunk:
			fmt.Print(ev.Chunk)
		case entities.StreamEventNode:
			fmt.Println()
		}
	}
}

func printGenerated(node *entities.Node, streamed bool) error {
	if globalJSON {
		return printJSON(node)
	}
	if streamed {
		fmt.Printf("\nSaved scene %s\n", node.ID)
		printNodeNotes(node)
		return nil
	}
	printNode(node)
	return nil
}

func newSceneGenerateCmd() *cobra.Command {
	var parentID string
	var stream bool

	cmd := &cobra.Command{
		Use:   "generate <direction>",
		Short: "Write the next scene",
		Long: `Write the next scene following the reader's direction. The scene continues
from the story's current scene unless --parent is given, and becomes the new
current scene.

Examples:
  storyforge scene generate "Mara opens the sealed letter"
  storyforge scene generate --stream "She follows the lantern into the fog"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(nil)
			if err != nil {
				return err
			}
			in := handlers.GenerateInput{
				StoryID:  storyID,
				ParentID: parentID,
				Prompt:   strings.Join(args, " "),
			}
			if stream && !globalJSON {
				in.OnEvent = streamPrinter()
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				node, err := d.Scenes.HandleGenerate(cmd.Context(), in)
				if err != nil {
					return err
				}
				return printGenerated(node, in.OnEvent != nil)
			})
		},
	}

	cmd.Flags().StringVarP(&parentID, "parent", "p", "", "Scene to continue from (default: current scene)")
	cmd.Flags().BoolVar(&stream, "stream", false, "Print the scene as it is written")

	return cmd
}

func newSceneBranchCmd() *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "branch <scene-id> <direction>",
		Short: "Write an alternative to an existing scene",
		Long:  "Write a sibling of the given scene, continuing from its parent with a new direction.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := handlers.BranchInput{
				NodeID: args[0],
				Prompt: strings.Join(args[1:], " "),
			}
			if stream && !globalJSON {
				in.OnEvent = streamPrinter()
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				node, err := d.Scenes.HandleBranch(cmd.Context(), in)
				if err != nil {
					return err
				}
				return printGenerated(node, in.OnEvent != nil)
			})
		},
	}

	cmd.Flags().BoolVar(&stream, "stream", false, "Print the scene as it is written")

	return cmd
}

func newSceneEditCmd() *cobra.Command {
	var content, file, summary string

	cmd := &cobra.Command{
		Use:   "edit <scene-id>",
		Short: "Replace a scene's text",
		Long: `Replace a scene's text with --content or the contents of --file.
The scene is re-embedded so retrieval sees the new text.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := editText(content, file)
			if err != nil {
				return err
			}
			var summaryPtr *string
			if cmd.Flags().Changed("summary") {
				summaryPtr = &summary
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				node, err := d.Scenes.HandleEdit(cmd.Context(), args[0], text, summaryPtr)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(node)
				}
				fmt.Printf("Updated scene %s\n", node.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&content, "content", "c", "", "New scene text")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the new scene text from a file")
	cmd.Flags().StringVar(&summary, "summary", "", "New scene summary")

	return cmd
}

func editText(content, file string) (string, error) {
	switch {
	case content != "" && file != "":
		return "", errors.New("use either --content or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading file: %w", err)
		}
		return string(data), nil
	case content != "":
		return content, nil
	default:
		return "", errors.New("new text is required (use --content or --file)")
	}
}

func newSceneShowCmd() *cobra.Command {
	var beat bool

	cmd := &cobra.Command{
		Use:   "show <scene-id>",
		Short: "Show a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *Deps) error {
				node, err := d.Scenes.HandleShow(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(node)
				}
				printNode(node)
				if beat {
					fmt.Println()
					writeBeat(os.Stdout, node)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&beat, "beat", false, "Also print the planner beat")

	return cmd
}

func newSceneContextCmd() *cobra.Command {
	var prompt string

	cmd := &cobra.Command{
		Use:   "context [scene-id]",
		Short: "Preview the context the next scene would be written with",
		Long:  "Assemble the retrieval context for a child of the given scene, or of the current scene, without generating anything.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(nil)
			if err != nil {
				return err
			}
			nodeID := ""
			if len(args) == 1 {
				nodeID = args[0]
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				assembled, err := d.Context.HandlePreview(cmd.Context(), storyID, nodeID, prompt)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(assembled)
				}
				fmt.Println(assembled.Text)
				if assembled.Truncated {
					fmt.Fprintln(os.Stderr, "(enrichment truncated to fit the context budget)")
				}
				if assembled.Degraded {
					fmt.Fprintln(os.Stderr, "(vector search unavailable; literal name matches only)")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Direction to retrieve for (default: a neutral preview prompt)")

	return cmd
}

func newScenePathCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "path [scene-id]",
		Short: "Show the scenes from the root to a scene",
		Long:  "Show the scenes from the root to the given scene, or to the current scene.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(nil)
			if err != nil {
				return err
			}
			nodeID := ""
			if len(args) == 1 {
				nodeID = args[0]
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				path, err := d.Scenes.HandlePath(cmd.Context(), storyID, nodeID)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(path)
				}
				for i, n := range path {
					if n.IsRoot() {
						continue
					}
					if full {
						fmt.Printf("--- %d. %s ---\n%s\n\n", i, n.ID, n.Content)
						continue
					}
					fmt.Printf("%3d. %s  %s\n", i, n.ID, preview(sceneLine(n), DefaultPreviewLen))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Print the full text of every scene")

	return cmd
}

// sceneLine is the one-line description of a scene: its summary when set.
func sceneLine(n *entities.Node) string {
	if n.Summary != nil && *n.Summary != "" {
		return *n.Summary
	}
	return n.Content
}

func newSceneTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [story-id]",
		Short: "Show the story's branches",
		Long:  "Show every scene of the story as a tree. '*' marks the current path and '>' the current scene.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(args)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				rows, err := d.Scenes.HandleTree(cmd.Context(), storyID)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(rows)
				}
				for _, row := range rows {
					fmt.Println(treeLine(row))
				}
				return nil
			})
		},
	}
}

func treeLine(row handlers.TreeRow) string {
	marker := " "
	switch {
	case row.IsLeaf:
		marker = ">"
	case row.OnPath:
		marker = "*"
	}
	label := "(start)"
	if !row.Node.IsRoot() {
		label = preview(sceneLine(row.Node), DefaultPreviewLen)
	}
	return fmt.Sprintf("%s %s%s  %s", marker, strings.Repeat("  ", row.Depth), row.Node.ID, label)
}

func newSceneSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <scene-id>",
		Short: "Make a scene the current scene",
		Long:  "Make a scene the current scene so the next generated scene continues from it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(nil)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				if err := d.Scenes.HandleSelect(cmd.Context(), storyID, args[0]); err != nil {
					return err
				}
				fmt.Printf("Current scene is now %s\n", args[0])
				return nil
			})
		},
	}
}

func newSceneSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Find scenes by meaning",
		Long:  "Search the story's scenes by semantic similarity to the query.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(nil)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				nodes, err := d.Scenes.HandleSearch(cmd.Context(), storyID, strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(nodes)
				}
				if len(nodes) == 0 {
					fmt.Println("No matching scenes found.")
					return nil
				}
				for i, n := range nodes {
					fmt.Printf("%d. %s  %s\n", i+1, n.ID, preview(sceneLine(n), DefaultPreviewLen))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", DefaultSearchLimit, "Maximum number of results")

	return cmd
}
