package parsers

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONParser parses entries from a JSON array.
type JSONParser struct{}

// Parse reads JSON from the reader and returns parsed entries.
func (p *JSONParser) Parse(r io.Reader) ([]RawEntity, error) {
	var items []RawEntity

	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&items); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	// Array index + 1
	for i := range items {
		items[i].LineNum = i + 1
	}

	return items, nil
}
