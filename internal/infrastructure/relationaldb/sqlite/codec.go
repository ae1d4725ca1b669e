package sqlite

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/ersonp/storyforge/internal/domain/entities"
)

// encodeEmbedding packs a vector as little-endian float32s. A nil vector is stored as NULL.
func encodeEmbedding(v []float32) any {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has %d bytes, not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func encodeMetadata(m entities.NodeMetadata) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshaling node metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) (entities.NodeMetadata, error) {
	var m entities.NodeMetadata
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return m, fmt.Errorf("unmarshaling node metadata: %w", err)
	}
	return m, nil
}
