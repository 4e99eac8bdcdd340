package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MrCodeEU/faceattend/pkg/recognition"
)

// EncodeEmbedding serializes an embedding as comma-joined decimal text.
func EncodeEmbedding(e recognition.Embedding) string {
	var b strings.Builder
	for i, v := range e {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return b.String()
}

// DecodeEmbedding parses text produced by EncodeEmbedding.
func DecodeEmbedding(s string) (recognition.Embedding, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return recognition.Embedding{}, nil
	}

	parts := strings.Split(s, ",")
	e := make(recognition.Embedding, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid embedding component %d: %w", i, err)
		}
		e[i] = float32(v)
	}
	return e, nil
}
