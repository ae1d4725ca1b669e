package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/storyforge/internal/application/handlers"
)

type importFlags struct {
	format     string
	dryRun     bool
	onConflict string
}

func newEntityImportCmd() *cobra.Command {
	var flags importFlags

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import World Bible entries from JSON or CSV",
		Long: `Imports entities from a structured file. Embeddings are generated automatically.

JSON files hold an array of objects; CSV files need a header row. Both use the
fields name, entity_type (or type), description, base_prompt, reference_image
and image_seed. Only name is required.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.format, "format", "f", "auto", "File format (json, csv, auto)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Validate without saving")
	cmd.Flags().StringVar(&flags.onConflict, "on-conflict", "skip", "Conflict handling (skip, update)")

	return cmd
}

func runImport(cmd *cobra.Command, filePath string, flags importFlags) error {
	strategy, err := handlers.ParseConflictStrategy(flags.onConflict)
	if err != nil {
		return err
	}

	storyID, err := requireStory(nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	return withDeps(ctx, func(d *Deps) error {
		opts := handlers.ImportOptions{
			Format:     flags.format,
			DryRun:     flags.dryRun,
			OnConflict: strategy,
		}

		if !globalJSON {
			fmt.Printf("Importing %s...\n", filePath)
		}

		result, err := d.Import.Handle(ctx, storyID, filePath, opts)
		if err != nil {
			return fmt.Errorf("importing file: %w", err)
		}

		if globalJSON {
			return printJSON(result)
		}

		if len(result.Errors) > 0 {
			fmt.Printf("\nValidation errors (%d):\n", len(result.Errors))
			for _, e := range result.Errors {
				fmt.Printf("  %s\n", e.Error())
			}
		}

		fmt.Println()
		if flags.dryRun {
			fmt.Printf("Dry run: %d entities would be imported", result.Imported)
			if result.Updated > 0 {
				fmt.Printf(", %d updated", result.Updated)
			}
		} else {
			fmt.Printf("Imported: %d entities", result.Imported)
			if result.Updated > 0 {
				fmt.Printf(", %d updated", result.Updated)
			}
		}

		if result.Skipped > 0 {
			fmt.Printf(", %d skipped (already exist)", result.Skipped)
		}

		if len(result.Errors) > 0 {
			fmt.Printf(", %d errors", len(result.Errors))
		}

		fmt.Println()

		return nil
	})
}
