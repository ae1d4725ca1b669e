package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/services"
)

func newStoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "story",
		Short: "Manage stories",
		Long:  "Create, list, inspect and configure stories.",
	}

	cmd.AddCommand(
		newStoryCreateCmd(),
		newStoryListCmd(),
		newStoryShowCmd(),
		newStorySetModeCmd(),
		newStorySettingsCmd(),
		newStoryCheckCmd(),
		newStoryExportCmd(),
	)

	return cmd
}

type storyCreateFlags struct {
	genre          string
	contentMode    string
	autoIllustrate bool
	contextDepth   int
}

func newStoryCreateCmd() *cobra.Command {
	var flags storyCreateFlags

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a new story",
		Long: `Create a new story with an empty root scene.

Examples:
  storyforge story create "The Salt Road"
  storyforge story create "Night Market" --genre noir --mode safe`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *Deps) error {
				result, err := d.Stories.HandleCreate(cmd.Context(), services.CreateStoryInput{
					Title:          args[0],
					Genre:          flags.genre,
					ContentMode:    flags.contentMode,
					AutoIllustrate: flags.autoIllustrate,
					ContextDepth:   flags.contextDepth,
				})
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(result)
				}
				fmt.Printf("Created story %q\n", result.Story.Title)
				fmt.Printf("  id:   %s\n", result.Story.ID)
				fmt.Printf("  root: %s\n", result.Root.ID)
				fmt.Printf("  mode: %s\n", result.Story.ContentMode)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&flags.genre, "genre", "g", "", "Story genre")
	cmd.Flags().StringVarP(&flags.contentMode, "mode", "m", string(entities.ContentModeUnrestricted), "Content mode (unrestricted, safe)")
	cmd.Flags().BoolVar(&flags.autoIllustrate, "illustrate", false, "Illustrate new scenes automatically")
	cmd.Flags().IntVar(&flags.contextDepth, "depth", 0, "Ancestor scenes included in the context (default from story settings)")

	return cmd
}

func newStoryListCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *Deps) error {
				stories, err := d.Stories.HandleList(cmd.Context(), limit, offset)
				if err != nil {
					return fmt.Errorf("listing stories: %w", err)
				}
				if globalJSON {
					return printJSON(stories)
				}
				if len(stories) == 0 {
					fmt.Println("No stories found.")
					return nil
				}
				fmt.Printf("Stories (%d):\n\n", len(stories))
				for _, s := range stories {
					fmt.Printf("  %-38s %-13s %s\n", s.ID, s.ContentMode, s.Title)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", DefaultListLimit, "Maximum number of stories to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of stories to skip")

	return cmd
}

func newStoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [story-id]",
		Short: "Show a story and its branch statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(args)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				result, err := d.Stories.HandleShow(cmd.Context(), storyID)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(result)
				}
				s := result.Story
				fmt.Printf("%s\n", s.Title)
				fmt.Printf("  id:              %s\n", s.ID)
				if s.Genre != "" {
					fmt.Printf("  genre:           %s\n", s.Genre)
				}
				fmt.Printf("  content mode:    %s\n", s.ContentMode)
				fmt.Printf("  auto-illustrate: %t\n", s.AutoIllustrate)
				fmt.Printf("  context depth:   %d\n", s.ContextDepth)
				fmt.Printf("  scenes:          %d (%d branch ends)\n", result.NodeCount-1, result.LeafCount)
				fmt.Printf("  current path:    %d scenes\n", result.PathLength)
				if result.Leaf != nil && !result.Leaf.IsRoot() {
					fmt.Printf("\nLatest scene (%s):\n  %s\n", result.Leaf.ID, preview(result.Leaf.Content, DefaultPreviewLen))
				}
				return nil
			})
		},
	}
}

func newStorySetModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-mode <unrestricted|safe>",
		Short: "Change the story's content mode",
		Long:  "Change which writer model the story uses. Takes effect from the next generated scene.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(nil)
			if err != nil {
				return err
			}
			mode := args[0]
			return withDeps(cmd.Context(), func(d *Deps) error {
				story, err := d.Stories.HandleUpdate(cmd.Context(), storyID, services.StorySettings{ContentMode: &mode})
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(story)
				}
				fmt.Printf("Story %q now uses %s mode.\n", story.Title, story.ContentMode)
				return nil
			})
		},
	}
}

type storySettingsFlags struct {
	title          string
	genre          string
	autoIllustrate bool
	contextDepth   int
}

func newStorySettingsCmd() *cobra.Command {
	var flags storySettingsFlags

	cmd := &cobra.Command{
		Use:   "settings [story-id]",
		Short: "Update story settings",
		Long: `Update a story's title, genre, illustration or context settings.
Only the flags given are changed.

Examples:
  storyforge story settings --depth 8
  storyforge story settings --illustrate=false --title "The Salt Road, Part Two"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(args)
			if err != nil {
				return err
			}

			var settings services.StorySettings
			changed := cmd.Flags().Changed
			if changed("title") {
				settings.Title = &flags.title
			}
			if changed("genre") {
				settings.Genre = &flags.genre
			}
			if changed("illustrate") {
				settings.AutoIllustrate = &flags.autoIllustrate
			}
			if changed("depth") {
				settings.ContextDepth = &flags.contextDepth
			}

			return withDeps(cmd.Context(), func(d *Deps) error {
				story, err := d.Stories.HandleUpdate(cmd.Context(), storyID, settings)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(story)
				}
				fmt.Printf("Updated story %q.\n", story.Title)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.title, "title", "", "Story title")
	cmd.Flags().StringVarP(&flags.genre, "genre", "g", "", "Story genre")
	cmd.Flags().BoolVar(&flags.autoIllustrate, "illustrate", false, "Illustrate new scenes automatically")
	cmd.Flags().IntVar(&flags.contextDepth, "depth", 0, "Ancestor scenes included in the context")

	return cmd
}

func newStoryCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [story-id]",
		Short: "Verify the story tree's structure",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(args)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				if err := d.Stories.HandleCheck(cmd.Context(), storyID); err != nil {
					return err
				}
				fmt.Println("Story tree is intact.")
				return nil
			})
		},
	}
}
