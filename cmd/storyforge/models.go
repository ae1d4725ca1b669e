package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and control engine model residency",
	}

	cmd.AddCommand(
		newModelsPsCmd(),
		newModelsWarmCmd(),
		newModelsUnloadCmd(),
	)

	return cmd
}

func newModelsPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps",
		Short: "List models loaded in the engine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *Deps) error {
				status, err := d.Models.HandleList(cmd.Context())
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(status)
				}
				if len(status.Loaded) == 0 {
					fmt.Println("No models loaded.")
				} else {
					fmt.Printf("%-32s %10s %10s  %s\n", "NAME", "SIZE", "VRAM", "EXPIRES")
					for _, m := range status.Loaded {
						fmt.Printf("%-32s %10s %10s  %s\n", m.Name, humanBytes(m.Size), humanBytes(m.SizeVRAM), expiresIn(m.ExpiresAt))
					}
				}
				fmt.Printf("\nConfigured: %v\n", status.Configured)
				return nil
			})
		},
	}
}

func newModelsWarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warm [model...]",
		Short: "Load models into the engine",
		Long:  "Load the given models, or every configured model, so the first scene does not wait on a cold start.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *Deps) error {
				done, err := d.Models.HandleWarm(cmd.Context(), args)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(done)
				}
				for _, m := range done {
					fmt.Printf("Loaded %s\n", m)
				}
				return nil
			})
		},
	}
}

func newModelsUnloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unload [model...]",
		Short: "Evict models from the engine",
		Long:  "Evict the given models, or every configured model, to free memory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd.Context(), func(d *Deps) error {
				done, err := d.Models.HandleUnload(cmd.Context(), args)
				if err != nil {
					return err
				}
				if globalJSON {
					return printJSON(done)
				}
				for _, m := range done {
					fmt.Printf("Unloaded %s\n", m)
				}
				return nil
			})
		},
	}
}

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func expiresIn(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	if !t.After(time.Now()) {
		return "now"
	}
	return humanize.Time(t)
}
