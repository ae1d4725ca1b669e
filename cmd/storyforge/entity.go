package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/services"
)

func newEntityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "entity",
		Aliases: []string{"entities", "bible"},
		Short:   "Manage the story's World Bible",
		Long:    "Add, edit and detect the characters, locations and props the writer keeps consistent.",
	}

	cmd.AddCommand(
		newEntityAddCmd(),
		newEntityListCmd(),
		newEntityShowCmd(),
		newEntityEditCmd(),
		newEntityDeleteCmd(),
		newEntityDetectCmd(),
		newEntityDescribeCmd(),
		newEntityReferenceCmd(),
		newEntityImportCmd(),
		newEntityExportCmd(),
	)

	return cmd
}

type entityFlags struct {
	entityType  string
	description string
	basePrompt  string
	name        string
}

func newEntityAddCmd() *cobra.Command {
	var flags entityFlags

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add an entity to the World Bible",
		Long: `Add an entity to the World Bible.

Examples:
  storyforge entity add Mara --type character --description "A smuggler with a salt-stained coat"
  storyforge entity add "The Drowned Bell" --type location`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(nil)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				entity, err := d.Entities.HandleCreate(cmd.Context(), services.CreateEntityInput{
					StoryID:     storyID,
					EntityType:  flags.entityType,
					Name:        args[0],
					Description: flags.description,
					BasePrompt:  flags.basePrompt,
				})
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(entity)
				}
				fmt.Printf("Added %s %q (%s)\n", entity.EntityType, entity.Name, entity.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&flags.entityType, "type", "t", string(entities.EntityTypeCharacter), "Entity type (character, location, prop)")
	cmd.Flags().StringVarP(&flags.description, "description", "d", "", "Description used by the writer")
	cmd.Flags().StringVarP(&flags.basePrompt, "prompt", "p", "", "Base prompt used for illustrations")

	return cmd
}

func newEntityListCmd() *cobra.Command {
	var entityType string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the World Bible",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(nil)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				list, err := d.Entities.HandleList(cmd.Context(), storyID, entityType)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(list)
				}
				if len(list) == 0 {
					fmt.Println("No entities found.")
					return nil
				}
				fmt.Printf("Entities (%d):\n\n", len(list))
				for _, e := range list {
					fmt.Printf("  %-38s %-10s %s\n", e.ID, e.EntityType, e.Name)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&entityType, "type", "t", "", "Filter by entity type")

	return cmd
}

func newEntityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <entity-id>",
		Short: "Show an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *Deps) error {
				entity, err := d.Entities.HandleGet(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(entity)
				}
				printEntity(entity)
				return nil
			})
		},
	}
}

func newEntityEditCmd() *cobra.Command {
	var flags entityFlags

	cmd := &cobra.Command{
		Use:   "edit <entity-id>",
		Short: "Edit an entity",
		Long:  "Edit an entity. Only the flags given are changed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var changes services.EntityChanges
			changed := cmd.Flags().Changed
			if changed("name") {
				changes.Name = &flags.name
			}
			if changed("type") {
				changes.EntityType = &flags.entityType
			}
			if changed("description") {
				changes.Description = &flags.description
			}
			if changed("prompt") {
				changes.BasePrompt = &flags.basePrompt
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				entity, err := d.Entities.HandleUpdate(cmd.Context(), args[0], changes)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(entity)
				}
				fmt.Printf("Updated %q (version %d)\n", entity.Name, entity.Version)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&flags.name, "name", "", "Entity name")
	cmd.Flags().StringVarP(&flags.entityType, "type", "t", "", "Entity type (character, location, prop)")
	cmd.Flags().StringVarP(&flags.description, "description", "d", "", "Description used by the writer")
	cmd.Flags().StringVarP(&flags.basePrompt, "prompt", "p", "", "Base prompt used for illustrations")

	return cmd
}

func newEntityDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity-id>",
		Short: "Delete an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *Deps) error {
				if err := d.Entities.HandleDelete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted entity %s\n", args[0])
				return nil
			})
		},
	}
}

func newEntityDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <entity-id> <image>",
		Short: "Describe an entity from an image",
		Long:  "Replace an entity's description with what the vision model sees in the image.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *Deps) error {
				entity, err := d.Entities.HandleDescribe(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(entity)
				}
				printEntity(entity)
				return nil
			})
		},
	}
}

func newEntityReferenceCmd() *cobra.Command {
	var seed int64

	cmd := &cobra.Command{
		Use:   "reference <entity-id> <image-ref>",
		Short: "Set an entity's reference image",
		Long:  "Record the reference image, and optionally the seed, illustrations of this entity should match.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var seedPtr *int64
			if cmd.Flags().Changed("seed") {
				seedPtr = &seed
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				entity, err := d.Entities.HandleSetReference(cmd.Context(), args[0], args[1], seedPtr)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(entity)
				}
				printEntity(entity)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Image seed")

	return cmd
}
