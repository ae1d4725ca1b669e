package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ersonp/storyforge/internal/application/handlers"
	"github.com/ersonp/storyforge/internal/domain/entities"
)

func newPlayCmd() *cobra.Command {
	var noStream bool

	cmd := &cobra.Command{
		Use:   "play [story-id]",
		Short: "Interactive mode: type what happens next",
		Long: `Play a story interactively. Each line you type is the direction for the next
scene; the scene is written as you watch. Type 'help' for commands.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storyID, err := requireStory(args)
			if err != nil {
				return err
			}
			return withDeps(cmd.Context(), func(d *Deps) error {
				state := &playState{
					deps:    d,
					storyID: storyID,
					out:     os.Stdout,
					stream:  !noStream,
				}
				return state.runInputLoop(cmd.Context(), os.Stdin)
			})
		},
	}

	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Print each scene only once it is complete")

	return cmd
}

// playCommand is a command recognized by the interactive loop. Any other
// input is a direction for the next scene.
type playCommand string

const (
	playDirection  playCommand = ""
	playQuit       playCommand = "quit"
	playHelp       playCommand = "help"
	playPath       playCommand = "path"
	playTree       playCommand = "tree"
	playBack       playCommand = "back"
	playBranch     playCommand = "branch"
	playRetry      playCommand = "retry"
	playContinuity playCommand = "continuity"
	playCast       playCommand = "cast"
	playBeat       playCommand = "beat"
	playContext    playCommand = "context"
)

// parsePlayInput splits a line into a command and its argument.
func parsePlayInput(line string) (playCommand, string) {
	line = strings.TrimSpace(line)
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(word) {
	case "quit", "exit":
		return playQuit, ""
	case "help", "?":
		return playHelp, ""
	case "path":
		return playPath, ""
	case "tree":
		return playTree, ""
	case "back", "undo":
		return playBack, ""
	case "retry":
		return playRetry, rest
	case "continuity", "audit":
		return playContinuity, ""
	case "cast", "bible":
		return playCast, ""
	case "beat":
		return playBeat, ""
	case "context":
		return playContext, ""
	case "branch":
		if rest != "" {
			return playBranch, rest
		}
	}
	return playDirection, line
}

type playState struct {
	deps    *Deps
	storyID string
	out     io.Writer
	stream  bool
}

func (s *playState) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *playState) runInputLoop(ctx context.Context, in io.Reader) error {
	shown, err := s.deps.Stories.HandleShow(ctx, s.storyID)
	if err != nil {
		return err
	}

	s.printf("%s\n", shown.Story.Title)
	if shown.Leaf != nil && !shown.Leaf.IsRoot() {
		s.printf("\n%s\n", shown.Leaf.Content)
	}
	s.printf("\nType what happens next and press Enter. 'help' lists commands, 'quit' exits.\n\n")

	scanner := bufio.NewScanner(in)
	for {
		s.printf("> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			return nil
		}

		cmd, arg := parsePlayInput(scanner.Text())
		if cmd == playDirection && arg == "" {
			continue
		}
		if cmd == playQuit {
			s.printf("Goodbye!\n")
			return nil
		}

		if err := s.handleCommand(ctx, cmd, arg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.printf("Error: %v\n", err)
		}
		s.printf("\n")
	}

	return scanner.Err()
}

func (s *playState) handleCommand(ctx context.Context, cmd playCommand, arg string) error {
	switch cmd {
	case playHelp:
		s.showHelp()
		return nil
	case playPath:
		return s.showPath(ctx)
	case playTree:
		return s.showTree(ctx)
	case playBack:
		return s.back(ctx)
	case playBranch:
		return s.branch(ctx, arg)
	case playRetry:
		return s.retry(ctx, arg)
	case playContinuity:
		return s.continuity(ctx)
	case playCast:
		return s.cast(ctx)
	case playBeat:
		return s.beat(ctx)
	case playContext:
		return s.preview(ctx)
	default:
		return s.generate(ctx, arg)
	}
}

func (s *playState) showHelp() {
	s.printf("Commands:\n")
	s.printf("  <text>            - Write the next scene in this direction\n")
	s.printf("  branch <text>     - Write an alternative to the current scene\n")
	s.printf("  retry [text]      - Rewrite the current scene, optionally with a new direction\n")
	s.printf("  back              - Step back to the previous scene\n")
	s.printf("  path              - Show the scenes so far\n")
	s.printf("  tree              - Show every branch\n")
	s.printf("  continuity        - Check the story for continuity errors\n")
	s.printf("  cast              - Show the World Bible\n")
	s.printf("  beat              - Show the plan the current scene was written from\n")
	s.printf("  context           - Show the context the next scene would be written with\n")
	s.printf("  quit              - Exit interactive mode\n")
}

func (s *playState) onEvent() func(entities.StreamEvent) {
	if !s.stream {
		return nil
	}
	return func(ev entities.StreamEvent) {
		switch ev.Kind {
		case entities.StreamEventPhase:
			s.printf("(%s...)\n", ev.Phase)
		case entities.StreamEventChunk:
			s.printf("%s", ev.Chunk)
		case entities.StreamEventNode:
			s.printf("\n")
		}
	}
}

func (s *playState) showScene(node *entities.Node) {
	if !s.stream {
		s.printf("\n%s\n", node.Content)
	}
	for _, w := range node.Metadata.ContinuityWarnings {
		s.printf("(continuity: %s)\n", w)
	}
	for _, c := range node.Metadata.UnknownCharacters {
		s.printf("(new character: %s)\n", c.Name)
	}
}

func (s *playState) generate(ctx context.Context, direction string) error {
	node, err := s.deps.Scenes.HandleGenerate(ctx, handlers.GenerateInput{
		StoryID: s.storyID,
		Prompt:  direction,
		OnEvent: s.onEvent(),
	})
	if err != nil {
		return err
	}
	s.showScene(node)
	return nil
}

func (s *playState) currentLeaf(ctx context.Context) (*entities.Node, error) {
	shown, err := s.deps.Stories.HandleShow(ctx, s.storyID)
	if err != nil {
		return nil, err
	}
	if shown.Leaf == nil || shown.Leaf.IsRoot() {
		return nil, errors.New("the story has no scenes yet")
	}
	return shown.Leaf, nil
}

func (s *playState) branch(ctx context.Context, direction string) error {
	leaf, err := s.currentLeaf(ctx)
	if err != nil {
		return err
	}
	node, err := s.deps.Scenes.HandleBranch(ctx, handlers.BranchInput{
		NodeID:  leaf.ID,
		Prompt:  direction,
		OnEvent: s.onEvent(),
	})
	if err != nil {
		return err
	}
	s.showScene(node)
	return nil
}

func (s *playState) retry(ctx context.Context, direction string) error {
	leaf, err := s.currentLeaf(ctx)
	if err != nil {
		return err
	}
	if direction == "" {
		direction = leaf.Metadata.Prompt
	}
	return s.branch(ctx, direction)
}

func (s *playState) back(ctx context.Context) error {
	leaf, err := s.currentLeaf(ctx)
	if err != nil {
		return err
	}
	if leaf.ParentID == nil {
		return errors.New("already at the start")
	}
	if err := s.deps.Scenes.HandleSelect(ctx, s.storyID, *leaf.ParentID); err != nil {
		return err
	}
	parent, err := s.deps.Scenes.HandleShow(ctx, *leaf.ParentID)
	if err != nil {
		return err
	}
	if parent.IsRoot() {
		s.printf("Back at the start.\n")
		return nil
	}
	s.printf("%s\n", parent.Content)
	return nil
}

func (s *playState) showPath(ctx context.Context) error {
	path, err := s.deps.Scenes.HandlePath(ctx, s.storyID, "")
	if err != nil {
		return err
	}
	for i, n := range path {
		if n.IsRoot() {
			continue
		}
		s.printf("%3d. %s\n", i, preview(sceneLine(n), DefaultPreviewLen))
	}
	return nil
}

func (s *playState) showTree(ctx context.Context) error {
	rows, err := s.deps.Scenes.HandleTree(ctx, s.storyID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		s.printf("%s\n", treeLine(row))
	}
	return nil
}

func (s *playState) continuity(ctx context.Context) error {
	s.printf("Checking...\n")
	result, err := s.deps.Continuity.Handle(ctx, s.storyID)
	if err != nil {
		return err
	}
	if result.Consistent() {
		s.printf("No continuity issues found.\n")
		return nil
	}
	for _, issue := range result.Issues {
		s.printf("%s: scene %d: %s\n", formatSeverity(issue.Severity), issue.SceneIndex, issue.Issue)
	}
	return nil
}

func (s *playState) cast(ctx context.Context) error {
	list, err := s.deps.Entities.HandleList(ctx, s.storyID, "")
	if err != nil {
		return err
	}
	if len(list) == 0 {
		s.printf("The World Bible is empty.\n")
		return nil
	}
	for _, e := range list {
		s.printf("  [%s] %s: %s\n", e.EntityType, e.Name, preview(e.Description, DefaultPreviewLen))
	}
	return nil
}

func (s *playState) beat(ctx context.Context) error {
	leaf, err := s.currentLeaf(ctx)
	if err != nil {
		return err
	}
	writeBeat(s.out, leaf)
	return nil
}

func (s *playState) preview(ctx context.Context) error {
	assembled, err := s.deps.Context.HandlePreview(ctx, s.storyID, "", "")
	if err != nil {
		return err
	}
	s.printf("%s\n", assembled.Text)
	return nil
}

func formatSeverity(severity entities.Severity) string {
	switch severity {
	case entities.SeverityCritical:
		return "CRITICAL"
	case entities.SeverityMajor:
		return "MAJOR"
	default:
		return "minor"
	}
}
