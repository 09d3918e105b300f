package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/utils"
	"gwi.com/quiz-rag/internal/vectorstore"
)

// VectorIndex is the local chunk index kept next to the relational data.
// It implements vectorstore.Storage.
type VectorIndex struct {
	store *SQLiteStore
	log   *logger.Logger
}

func NewVectorIndex(s *SQLiteStore, log *logger.Logger) *VectorIndex {
	return &VectorIndex{store: s, log: log.With("service", "SQLiteVectorIndex")}
}

func (v *VectorIndex) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := v.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin vector upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO chunk_vectors (id, document_id, sequence, text_excerpt, embedding_json)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET
            document_id = excluded.document_id,
            sequence = excluded.sequence,
            text_excerpt = excluded.text_excerpt,
            embedding_json = excluded.embedding_json`)
	if err != nil {
		return fmt.Errorf("failed to prepare vector upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		embeddingBytes, err := json.Marshal(r.Values)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Metadata.DocumentID, r.Metadata.Sequence, r.Metadata.TextExcerpt, string(embeddingBytes)); err != nil {
			return fmt.Errorf("failed to upsert vector %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

type storedChunk struct {
	match     vectorstore.Match
	embedding []float32
}

// QueryByDocument returns up to limit chunks of the document in sequence
// order. When the document has more chunks than limit, the ones closest to
// the document centroid are kept; the score is that cosine similarity.
func (v *VectorIndex) QueryByDocument(ctx context.Context, documentID string, limit int) ([]vectorstore.Match, error) {
	rows, err := v.store.db.QueryContext(ctx,
		"SELECT id, sequence, text_excerpt, embedding_json FROM chunk_vectors WHERE document_id = ? ORDER BY sequence ASC", documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk_vectors: %w", err)
	}
	defer rows.Close()

	var chunks []storedChunk
	for rows.Next() {
		var c storedChunk
		var embeddingJSON string
		if err := rows.Scan(&c.match.ChunkID, &c.match.Sequence, &c.match.Text, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan chunk_vectors row: %w", err)
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &c.embedding); err != nil {
			v.log.Warn("failed to unmarshal embedding, chunk will score zero", "chunk_id", c.match.ChunkID, "error", err)
			c.embedding = nil
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunk_vectors: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	v.score(chunks)
	if limit > 0 && len(chunks) > limit {
		sort.SliceStable(chunks, func(i, j int) bool {
			return chunks[i].match.Score > chunks[j].match.Score
		})
		chunks = chunks[:limit]
		sort.SliceStable(chunks, func(i, j int) bool {
			return chunks[i].match.Sequence < chunks[j].match.Sequence
		})
	}

	out := make([]vectorstore.Match, len(chunks))
	for i, c := range chunks {
		out[i] = c.match
	}
	return out, nil
}

func (v *VectorIndex) score(chunks []storedChunk) {
	var vectors [][]float32
	for _, c := range chunks {
		if len(c.embedding) > 0 {
			vectors = append(vectors, c.embedding)
		}
	}
	centroid, err := utils.Centroid(vectors)
	if err != nil {
		v.log.Debug("cannot compute document centroid", "error", err)
		return
	}
	for i := range chunks {
		if len(chunks[i].embedding) == 0 {
			continue
		}
		sim, err := utils.CosineSimilarity(centroid, chunks[i].embedding)
		if err != nil {
			continue
		}
		chunks[i].match.Score = float64(sim)
	}
}
