package parsers

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSVParser parses entries from CSV with a header row.
type CSVParser struct{}

// Parse reads CSV from the reader and returns parsed entries.
// Expected columns: name, entity_type, description, base_prompt, reference_image, image_seed.
// Only name is required; "type" is accepted for entity_type.
func (p *CSVParser) Parse(r io.Reader) ([]RawEntity, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	colIndex, err := p.readHeader(reader)
	if err != nil {
		return nil, err
	}

	return p.readRecords(reader, colIndex)
}

// readHeader reads and validates the CSV header row.
func (p *CSVParser) readHeader(reader *csv.Reader) (map[string]int, error) {
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colIndex["entity_type"]; !ok {
		if i, ok := colIndex["type"]; ok {
			colIndex["entity_type"] = i
		}
	}

	if _, ok := colIndex["name"]; !ok {
		return nil, fmt.Errorf("missing required column: name")
	}

	return colIndex, nil
}

// readRecords reads all data rows and converts them to RawEntities.
func (p *CSVParser) readRecords(reader *csv.Reader, colIndex map[string]int) ([]RawEntity, error) {
	var items []RawEntity
	lineNum := 1 // Header is line 1

	for {
		lineNum++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		item, err := p.parseRecord(record, colIndex, lineNum)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, nil
}

// parseRecord converts a CSV record to a RawEntity.
func (p *CSVParser) parseRecord(record []string, colIndex map[string]int, lineNum int) (RawEntity, error) {
	item := RawEntity{
		Name:           getColumn(record, colIndex, "name"),
		EntityType:     getColumn(record, colIndex, "entity_type"),
		Description:    getColumn(record, colIndex, "description"),
		BasePrompt:     getColumn(record, colIndex, "base_prompt"),
		ReferenceImage: getColumn(record, colIndex, "reference_image"),
		LineNum:        lineNum,
	}

	seedStr := getColumn(record, colIndex, "image_seed")
	if seedStr != "" {
		seed, err := strconv.ParseInt(seedStr, 10, 64)
		if err != nil {
			return RawEntity{}, fmt.Errorf("line %d: invalid image_seed value %q: %w", lineNum, seedStr, err)
		}
		item.ImageSeed = &seed
	}

	return item, nil
}

// getColumn safely retrieves a column value from a record.
func getColumn(record []string, colIndex map[string]int, col string) string {
	if idx, ok := colIndex[col]; ok && idx < len(record) {
		return strings.TrimSpace(record[idx])
	}
	return ""
}
