package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

func newContinuityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "continuity [story-id]",
		Short: "Audit the current path for continuity errors",
		Long:  "Ask the engine to check the scenes on the current path against each other and the World Bible.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(args)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				result, err := d.Continuity.Handle(cmd.Context(), storyID)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(result)
				}
				if result.Consistent() {
					fmt.Println("No continuity issues found.")
					return nil
				}
				fmt.Printf("Found %d issues (critical: %d, major: %d, minor: %d)\n\n",
					len(result.Issues),
					result.BySeverity[entities.SeverityCritical],
					result.BySeverity[entities.SeverityMajor],
					result.BySeverity[entities.SeverityMinor],
				)
				for _, issue := range result.Issues {
					where := fmt.Sprintf("scene %d", issue.SceneIndex)
					if issue.NodeID != "" {
						where += " (" + issue.NodeID + ")"
					}
					fmt.Printf("  [%s] %s: %s\n", issue.Severity, where, issue.Issue)
				}
				return nil
			})
		},
	}
}
