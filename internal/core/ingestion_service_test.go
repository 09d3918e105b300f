package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/store"
)

func newIngestion(t *testing.T, s *store.SQLiteStore, ext TextExtractor, emb Embedder, idx *fakeIndex) *IngestionService {
	t.Helper()
	chunker, err := NewChunker(4, 1)
	require.NoError(t, err)
	return NewIngestionService(s, ext, chunker, emb, idx, 5, logger.Nop())
}

func docStatus(t *testing.T, s *store.SQLiteStore, id string) store.DocumentStatus {
	t.Helper()
	doc, err := s.GetDocument(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc.Status
}

func TestIngest_IndexesChunks(t *testing.T) {
	s := newTestStore(t)
	createDoc(t, s, "doc-1")
	emb := &fakeEmbedder{}
	idx := &fakeIndex{}
	svc := newIngestion(t, s, nil, emb, idx)

	require.NoError(t, svc.Ingest(context.Background(), "doc-1", "alpha bravo charlie delta echo foxtrot golf"))

	assert.Equal(t, store.StatusIndexed, docStatus(t, s, "doc-1"))
	assert.Equal(t, 1, emb.calls, "one batch embedding call")
	assert.Equal(t, 1, idx.upserts, "one upsert")
	require.Len(t, idx.records, 3)
	for i, r := range idx.records {
		assert.Equal(t, "doc-1", r.Metadata.DocumentID)
		assert.Equal(t, i, r.Metadata.Sequence)
		assert.Equal(t, r.ID, r.Metadata.ChunkID)
	}
	assert.Equal(t, "doc-1_c0", idx.records[0].ID)
	assert.Equal(t, "alpha", idx.records[0].Metadata.TextExcerpt, "excerpt is capped")
	assert.Equal(t, "golf", idx.records[2].Metadata.TextExcerpt)
}

func TestIngest_NoChunks(t *testing.T) {
	s := newTestStore(t)
	createDoc(t, s, "doc-1")
	emb := &fakeEmbedder{}
	svc := newIngestion(t, s, nil, emb, &fakeIndex{})

	err := svc.Ingest(context.Background(), "doc-1", "   \n ")
	assert.ErrorIs(t, err, ErrNoChunks)
	assert.Equal(t, store.StatusFailed, docStatus(t, s, "doc-1"))
	assert.Zero(t, emb.calls)
}

func TestIngest_EmbeddingFailure(t *testing.T) {
	for name, emb := range map[string]*fakeEmbedder{
		"error":    {err: errBoom},
		"mismatch": {short: true},
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			createDoc(t, s, "doc-1")
			idx := &fakeIndex{}
			svc := newIngestion(t, s, nil, emb, idx)

			err := svc.Ingest(context.Background(), "doc-1", words(10, "word"))
			assert.ErrorIs(t, err, ErrEmbeddingProvider)
			assert.Equal(t, store.StatusFailed, docStatus(t, s, "doc-1"))
			assert.Zero(t, idx.upserts)
		})
	}
}

func TestIngest_IndexFailure(t *testing.T) {
	s := newTestStore(t)
	createDoc(t, s, "doc-1")
	svc := newIngestion(t, s, nil, &fakeEmbedder{}, &fakeIndex{upErr: errBoom})

	err := svc.Ingest(context.Background(), "doc-1", words(10, "word"))
	assert.ErrorIs(t, err, ErrIndex)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, store.StatusFailed, docStatus(t, s, "doc-1"))
}

func TestIngestFile(t *testing.T) {
	s := newTestStore(t)
	createDoc(t, s, "doc-1")
	svc := newIngestion(t, s, fakeExtractor{text: words(6, "study")}, &fakeEmbedder{}, &fakeIndex{})

	require.NoError(t, svc.IngestFile(context.Background(), "doc-1", "/ignored.txt"))
	assert.Equal(t, store.StatusIndexed, docStatus(t, s, "doc-1"))
}

func TestIngestFile_ExtractionFailure(t *testing.T) {
	s := newTestStore(t)
	createDoc(t, s, "doc-1")
	emb := &fakeEmbedder{}
	svc := newIngestion(t, s, fakeExtractor{err: errBoom}, emb, &fakeIndex{})

	err := svc.IngestFile(context.Background(), "doc-1", "/broken.pdf")
	assert.ErrorIs(t, err, ErrExtraction)
	assert.Equal(t, store.StatusFailed, docStatus(t, s, "doc-1"))
	assert.Zero(t, emb.calls)
}

func TestIngestFile_UnknownDocument(t *testing.T) {
	s := newTestStore(t)
	svc := newIngestion(t, s, fakeExtractor{text: "a b c"}, &fakeEmbedder{}, &fakeIndex{})

	err := svc.IngestFile(context.Background(), "missing", "/x.txt")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestIngest_WithLocalIndexAndHashEmbedder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createDoc(t, s, "doc-1")
	chunker, err := NewChunker(5, 1)
	require.NoError(t, err)
	vi := store.NewVectorIndex(s, logger.Nop())
	svc := NewIngestionService(s, nil, chunker, NewHashEmbedder(32), vi, 400, logger.Nop())

	require.NoError(t, svc.Ingest(ctx, "doc-1", "Cells divide by mitosis. Mitosis has four phases called prophase metaphase anaphase telophase."))

	matches, err := vi.QueryByDocument(ctx, "doc-1", 10)
	require.NoError(t, err)
	require.Len(t, matches, 4)
	for i, m := range matches {
		assert.Equal(t, i, m.Sequence)
	}
	assert.Equal(t, "Cells divide by mitosis. Mitosis", matches[0].Text)
}
