package entities

// NeutralTone is the emotional tone of a degenerate beat.
const NeutralTone = "neutral"

// Beat is the structured scene plan handed from the planner to the writer.
type Beat struct {
	Setting            string        `json:"setting"`
	CharactersPresent  []string      `json:"characters_present"`
	KeyEvents          []string      `json:"key_events"`
	EmotionalTone      string        `json:"emotional_tone"`
	ContinuityNotes    string        `json:"continuity_notes"`
	ContinuityWarnings []string      `json:"continuity_warnings"`
	UnknownCharacters  []EntityDraft `json:"unknown_characters"`
}

// DegenerateBeat is used when the planner's output cannot be parsed.
func DegenerateBeat() Beat {
	return Beat{
		CharactersPresent:  []string{},
		KeyEvents:          []string{},
		EmotionalTone:      NeutralTone,
		ContinuityWarnings: []string{},
		UnknownCharacters:  []EntityDraft{},
	}
}

// Normalize replaces nil slices with empty ones and fills a blank tone.
func (b *Beat) Normalize() {
	if b.CharactersPresent == nil {
		b.CharactersPresent = []string{}
	}
	if b.KeyEvents == nil {
		b.KeyEvents = []string{}
	}
	if b.ContinuityWarnings == nil {
		b.ContinuityWarnings = []string{}
	}
	if b.UnknownCharacters == nil {
		b.UnknownCharacters = []EntityDraft{}
	}
	if b.EmotionalTone == "" {
		b.EmotionalTone = NeutralTone
	}
}
