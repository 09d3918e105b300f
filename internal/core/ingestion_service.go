package core

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/store"
	"gwi.com/quiz-rag/internal/vectorstore"
)

// IngestionService turns document text into indexed chunk vectors and keeps
// the document status in step.
type IngestionService struct {
	docs          DocumentStore
	extractor     TextExtractor
	chunker       *Chunker
	embedder      Embedder
	index         vectorstore.Storage
	excerptLength int
	log           *logger.Logger
}

func NewIngestionService(docs DocumentStore, extractor TextExtractor, chunker *Chunker, embedder Embedder, index vectorstore.Storage, excerptLength int, log *logger.Logger) *IngestionService {
	if excerptLength <= 0 {
		excerptLength = 400
	}
	return &IngestionService{
		docs:          docs,
		extractor:     extractor,
		chunker:       chunker,
		embedder:      embedder,
		index:         index,
		excerptLength: excerptLength,
		log:           log.With("service", "IngestionService"),
	}
}

// IngestFile extracts the file at path and ingests its text.
func (s *IngestionService) IngestFile(ctx context.Context, documentID, path string) error {
	if err := s.docs.UpdateDocumentStatus(ctx, documentID, store.StatusProcessing); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("failed to mark document %s processing: %w", documentID, err)
	}

	text, err := s.extractor.Extract(path)
	if err != nil {
		s.markFailed(ctx, documentID, err)
		return fmt.Errorf("%w: %s: %w", ErrExtraction, path, err)
	}
	return s.Ingest(ctx, documentID, text)
}

// Ingest chunks text, embeds every chunk in a single batch and upserts the
// vectors in a single write. Any failure leaves the document failed.
func (s *IngestionService) Ingest(ctx context.Context, documentID, text string) error {
	chunks := slices.Collect(s.chunker.Chunks(text))
	if len(chunks) == 0 {
		s.markFailed(ctx, documentID, ErrNoChunks)
		return ErrNoChunks
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err == nil && len(vectors) != len(chunks) {
		err = fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	if err != nil {
		s.markFailed(ctx, documentID, err)
		return fmt.Errorf("%w: %w", ErrEmbeddingProvider, err)
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, chunk := range chunks {
		id := vectorstore.ChunkID(documentID, i)
		records[i] = vectorstore.Record{
			ID:     id,
			Values: vectors[i],
			Metadata: vectorstore.Metadata{
				DocumentID:  documentID,
				ChunkID:     id,
				Sequence:    i,
				TextExcerpt: excerpt(chunk, s.excerptLength),
			},
		}
	}
	if err := s.index.Upsert(ctx, records); err != nil {
		s.markFailed(ctx, documentID, err)
		return fmt.Errorf("%w: %w", ErrIndex, err)
	}

	if err := s.docs.UpdateDocumentStatus(ctx, documentID, store.StatusIndexed); err != nil {
		s.markFailed(ctx, documentID, err)
		return fmt.Errorf("failed to mark document %s indexed: %w", documentID, err)
	}
	s.log.Info("document indexed", "document_id", documentID, "chunks", len(chunks))
	return nil
}

func (s *IngestionService) markFailed(ctx context.Context, documentID string, cause error) {
	s.log.Error("ingestion failed", "document_id", documentID, "error", cause)
	if err := s.docs.UpdateDocumentStatus(context.WithoutCancel(ctx), documentID, store.StatusFailed); err != nil {
		s.log.Error("failed to mark document failed", "document_id", documentID, "error", err)
	}
}

func excerpt(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
