package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/storyforge/internal/application/handlers"
)

func newReindexCmd() *cobra.Command {
	var opts handlers.ReindexOptions
	var all bool

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector index from the database",
		Long: `Push every stored embedding to the vector index. The database is the source
of truth; use this after restoring Qdrant or switching it on.

Examples:
  storyforge reindex --all
  storyforge reindex --story <id> --embed-missing
  storyforge reindex --all --recreate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all {
				storyID, err := requireStory(nil)
				if err != nil {
					return fmt.Errorf("%w, or --all", err)
				}
				opts.StoryID = storyID
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				result, err := d.Reindex.Handle(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(result)
				}
				fmt.Printf("Indexed %d scenes and %d entities across %d stories\n", result.Nodes, result.Entities, result.Stories)
				if result.Embedded > 0 {
					fmt.Printf("Embedded %d records that had no vector\n", result.Embedded)
				}
				if result.Missing > 0 {
					fmt.Printf("%d records have no vector (use --embed-missing)\n", result.Missing)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Rebuild every story")
	cmd.Flags().BoolVar(&opts.Recreate, "recreate", false, "Drop and recreate the collection first (requires --all)")
	cmd.Flags().BoolVar(&opts.EmbedMissing, "embed-missing", false, "Embed records saved without a vector")

	return cmd
}
