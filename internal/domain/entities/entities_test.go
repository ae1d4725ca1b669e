package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/storyforge/internal/domain/errs"
)

func TestParseContentMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ContentMode
		wantErr bool
	}{
		{name: "empty defaults to unrestricted", input: "", want: ContentModeUnrestricted},
		{name: "safe", input: "safe", want: ContentModeSafe},
		{name: "mixed case", input: " Unrestricted ", want: ContentModeUnrestricted},
		{name: "unknown", input: "spicy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseContentMode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errs.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEntityType(t *testing.T) {
	got, err := ParseEntityType("Location")
	require.NoError(t, err)
	assert.Equal(t, EntityTypeLocation, got)

	_, err = ParseEntityType("vehicle")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, ParseSeverity("CRITICAL"))
	assert.Equal(t, SeverityMajor, ParseSeverity("major"))
	assert.Equal(t, SeverityMinor, ParseSeverity("whatever"))
}

func TestStory_Depth(t *testing.T) {
	assert.Equal(t, DefaultContextDepth, (&Story{}).Depth())
	assert.Equal(t, 2, (&Story{ContextDepth: 2}).Depth())
}

func TestNode_HistoryText(t *testing.T) {
	summary := "Mara escapes the tower."
	empty := ""

	assert.Equal(t, summary, (&Node{Content: "long text", Summary: &summary}).HistoryText())
	assert.Equal(t, "long text", (&Node{Content: "long text", Summary: &empty}).HistoryText())
	assert.Equal(t, "long text", (&Node{Content: "long text"}).HistoryText())
}

func TestDegenerateBeat(t *testing.T) {
	b := DegenerateBeat()

	assert.Empty(t, b.Setting)
	assert.Empty(t, b.KeyEvents)
	assert.NotNil(t, b.KeyEvents)
	assert.Equal(t, NeutralTone, b.EmotionalTone)
}

func TestEntity_Lines(t *testing.T) {
	e := Entity{Name: "Mara", EntityType: EntityTypeCharacter, Description: "A thief"}

	assert.Equal(t, "- Mara (character): A thief", e.BibleLine())
	assert.Equal(t, "Mara (character): A thief", e.EmbeddingText())
	assert.Equal(t, "mara", NormalizeName("  Mara "))
}
