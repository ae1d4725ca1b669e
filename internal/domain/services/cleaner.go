package services

import (
	"regexp"
	"strings"
)

// cutoffLine matches the start of a line that ends the prose: sign-offs,
// meta-commentary and leaked context or plan labels.
var cutoffLine = regexp.MustCompile(`(?i)^(` +
	`let me know\b` +
	`|i'll provide\b` +
	`|continue with\b` +
	`|i hope you enjoy` +
	`|if you would like` +
	`|would you like` +
	`|feel free to\b` +
	`|i made some\b` +
	`|here are some\b` +
	`|these are just\b` +
	`|notes?:` +
	`|\(note:` +
	`|\[world bible\]` +
	`|\[recent scenes\]` +
	`|\[relevant history\]` +
	`|scene plan:` +
	`|story so far:` +
	`|reader's direction:` +
	`)`)

// separatorLine matches a scene-break or horizontal-rule line.
var separatorLine = regexp.MustCompile(`^(-{3,}|\*{3,}|\* \* \*|_{3,})$`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// maxCleanPasses bounds the fixpoint loop; each pass only ever shortens the text.
const maxCleanPasses = 8

// CleanOutput strips generation artifacts from writer output: sign-offs and
// meta-commentary, reproduced context sections, a repeated opening
// paragraph and trailing separators. A separator followed by more narrative
// is a scene break and is kept. CleanOutput is idempotent.
func CleanOutput(text string) string {
	for range maxCleanPasses {
		next := cleanPass(text)
		if next == text {
			break
		}
		text = next
	}
	return text
}

func cleanPass(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = cutAtMarker(text)
	text = dropRepeatedOpening(text)
	return trimTail(text)
}

// cutAtMarker truncates text at the first cutoff line, or at the first
// separator that is not followed by further narrative.
func cutAtMarker(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		if cutoffLine.MatchString(stripped) {
			return strings.Join(lines[:i], "\n")
		}
		if separatorLine.MatchString(stripped) {
			next := nextNonBlank(lines[i+1:])
			if next == "" || cutoffLine.MatchString(next) || separatorLine.MatchString(next) {
				return strings.Join(lines[:i], "\n")
			}
		}
	}
	return text
}

func nextNonBlank(lines []string) string {
	for _, l := range lines {
		if s := strings.TrimSpace(l); s != "" {
			return s
		}
	}
	return ""
}

// dropRepeatedOpening cuts the text where the first paragraph recurs.
func dropRepeatedOpening(text string) string {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) < 2 {
		return text
	}
	opening := normalizeParagraph(paragraphs[0].text)
	if opening == "" {
		return text
	}
	for _, p := range paragraphs[1:] {
		if normalizeParagraph(p.text) == opening {
			return text[:p.start]
		}
	}
	return text
}

type paragraph struct {
	text  string
	start int
}

// splitParagraphs splits on blank lines, remembering byte offsets.
func splitParagraphs(text string) []paragraph {
	var (
		result []paragraph
		start  = -1
		offset int
	)
	for _, line := range strings.SplitAfter(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if start >= 0 {
				result = append(result, paragraph{text: text[start:offset], start: start})
				start = -1
			}
		} else if start < 0 {
			start = offset
		}
		offset += len(line)
	}
	if start >= 0 {
		result = append(result, paragraph{text: text[start:], start: start})
	}
	return result
}

func normalizeParagraph(s string) string {
	return strings.ToLower(strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " ")))
}

// trimTail removes trailing separators and surrounding whitespace.
func trimTail(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last != "" && !separatorLine.MatchString(last) {
			break
		}
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
