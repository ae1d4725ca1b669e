package services

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coregx/ahocorasick"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

// NameMatcher finds literal, case-insensitive World Bible name mentions in
// free text using a single Aho-Corasick pass.
type NameMatcher struct {
	ac       *ahocorasick.Automaton
	patterns []string
	index    map[string]int
	owners   [][]*entities.Entity
}

// NewNameMatcher compiles the names of ents. Entities with blank names are ignored.
func NewNameMatcher(ents []*entities.Entity) (*NameMatcher, error) {
	m := &NameMatcher{index: make(map[string]int, len(ents))}
	for _, e := range ents {
		key := entities.NormalizeName(e.Name)
		if key == "" {
			continue
		}
		if i, ok := m.index[key]; ok {
			m.owners[i] = append(m.owners[i], e)
			continue
		}
		m.index[key] = len(m.patterns)
		m.patterns = append(m.patterns, key)
		m.owners = append(m.owners, []*entities.Entity{e})
	}
	if len(m.patterns) == 0 {
		return m, nil
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(m.patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return nil, err
	}
	m.ac = ac
	return m, nil
}

// Match returns the entities mentioned in text as whole words, in order of
// first mention, each at most once.
func (m *NameMatcher) Match(text string) []*entities.Entity {
	if m == nil || m.ac == nil || text == "" {
		return nil
	}

	haystack := []byte(strings.ToLower(text))
	seen := make(map[string]bool)
	var found []*entities.Entity
	for _, hit := range m.ac.FindAllOverlapping(haystack) {
		if !wordBoundary(haystack, hit.Start, hit.End) {
			continue
		}
		for _, e := range m.owners[hit.PatternID] {
			if !seen[e.ID] {
				seen[e.ID] = true
				found = append(found, e)
			}
		}
	}
	return found
}

// Contains reports whether name is one of the compiled names.
func (m *NameMatcher) Contains(name string) bool {
	if m == nil {
		return false
	}
	_, ok := m.index[entities.NormalizeName(name)]
	return ok
}

func wordBoundary(text []byte, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRune(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRune(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
