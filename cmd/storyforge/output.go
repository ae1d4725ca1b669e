package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// preview flattens text to a single line of at most n runes.
func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// requireStory returns the story from --story or the first argument.
func requireStory(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if globalStory == "" {
		return "", errors.New("story is required (use --story flag or STORYFORGE_STORY)")
	}
	return globalStory, nil
}

func printNode(node *entities.Node) {
	fmt.Printf("Scene %s\n", node.ID)
	if node.Summary != nil && *node.Summary != "" {
		fmt.Printf("Summary: %s\n", *node.Summary)
	}
	fmt.Println()
	fmt.Println(node.Content)
	printNodeNotes(node)
}

// printNodeNotes prints the planner notes recorded with a scene.
func printNodeNotes(node *entities.Node) {
	meta := node.Metadata
	if meta.PlanFallback {
		fmt.Println("\nNote: the planner reply could not be parsed; a default beat was used.")
	}
	for _, w := range meta.ContinuityWarnings {
		fmt.Printf("Continuity warning: %s\n", w)
	}
	for _, c := range meta.UnknownCharacters {
		fmt.Printf("New character suggested: %s (%s)\n", c.Name, c.Description)
	}
}

func printEntity(e *entities.Entity) {
	fmt.Printf("%s  [%s] %s\n", e.ID, e.EntityType, e.Name)
	if e.Description != "" {
		fmt.Printf("  %s\n", e.Description)
	}
	if e.BasePrompt != "" {
		fmt.Printf("  prompt: %s\n", e.BasePrompt)
	}
	if e.ReferenceImage != "" {
		fmt.Printf("  reference: %s\n", e.ReferenceImage)
	}
	if e.ImageSeed != nil {
		fmt.Printf("  seed: %d\n", *e.ImageSeed)
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// writeBeat prints the planner beat a scene was written from.
func writeBeat(w io.Writer, node *entities.Node) {
	beat := node.Metadata.Beat
	if beat == nil {
		fmt.Fprintln(w, "No planner beat for this scene.")
		return
	}
	if node.Metadata.PlanFallback {
		fmt.Fprintln(w, "(default beat: the planner reply could not be parsed)")
	}
	fmt.Fprintf(w, "Setting:    %s\n", beat.Setting)
	if len(beat.CharactersPresent) > 0 {
		fmt.Fprintf(w, "Characters: %s\n", strings.Join(beat.CharactersPresent, ", "))
	}
	if len(beat.KeyEvents) > 0 {
		fmt.Fprintln(w, "Events:")
		for _, ev := range beat.KeyEvents {
			fmt.Fprintf(w, "  - %s\n", ev)
		}
	}
	if beat.EmotionalTone != "" {
		fmt.Fprintf(w, "Tone:       %s\n", beat.EmotionalTone)
	}
	if beat.ContinuityNotes != "" {
		fmt.Fprintf(w, "Continuity: %s\n", beat.ContinuityNotes)
	}
	if len(beat.ContinuityWarnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		for _, warning := range beat.ContinuityWarnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}
