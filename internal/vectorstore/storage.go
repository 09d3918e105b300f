package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Metadata is stored alongside every chunk vector.
type Metadata struct {
	DocumentID  string `json:"document_id"`
	ChunkID     string `json:"chunk_id"`
	Sequence    int    `json:"sequence"`
	TextExcerpt string `json:"text_excerpt"`
}

// Record is one chunk embedding to upsert.
type Record struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

// Match is a chunk returned for a document, ordered by Sequence.
type Match struct {
	ChunkID  string
	Sequence int
	Text     string
	Score    float64
}

// Storage persists chunk vectors and retrieves the chunks of a document.
type Storage interface {
	Upsert(ctx context.Context, records []Record) error
	QueryByDocument(ctx context.Context, documentID string, limit int) ([]Match, error)
}

// ChunkID builds the identifier of the sequence-th chunk of a document.
func ChunkID(documentID string, sequence int) string {
	return fmt.Sprintf("%s_c%d", documentID, sequence)
}

// ParseSequence extracts the sequence number from a chunk identifier.
func ParseSequence(chunkID string) (int, bool) {
	i := strings.LastIndex(chunkID, "_c")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(chunkID[i+2:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
