package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/store"
	"gwi.com/quiz-rag/internal/vectorstore"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createDoc(t *testing.T, s *store.SQLiteStore, id string) {
	t.Helper()
	require.NoError(t, s.CreateDocument(context.Background(), &store.Document{
		ID: id, UserID: "alice", Filename: id + ".txt", FilePath: "/tmp/" + id + ".txt", Status: store.StatusIndexed,
	}))
}

// fakeModel answers prompts through respond and records every call.
type fakeModel struct {
	mu      sync.Mutex
	prompts []string
	respond func(call int, prompt string) (string, error)
}

func (m *fakeModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	call := len(m.prompts)
	m.mu.Unlock()
	return m.respond(call, prompt)
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
	short bool
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	n := len(texts)
	if e.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i + 1), 1, 0}
	}
	return out, nil
}

type fakeIndex struct {
	mu       sync.Mutex
	upserts  int
	records  []vectorstore.Record
	matches  []vectorstore.Match
	upErr    error
	queryErr error
}

func (f *fakeIndex) Upsert(ctx context.Context, records []vectorstore.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.upErr != nil {
		return f.upErr
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeIndex) QueryByDocument(ctx context.Context, documentID string, limit int) ([]vectorstore.Match, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.matches, nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (f fakeExtractor) Extract(path string) (string, error) {
	return f.text, f.err
}

func testGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		TokenBudget:   1500,
		TokensPerChar: 0.25,
		MaxAttempts:   3,
		BaseDelay:     10 * time.Millisecond,
		Workers:       2,
	}
}

// newTestGenerator disables real sleeping and records backoff delays.
func newTestGenerator(model Model, cfg GeneratorConfig) (*QuestionGenerator, *[]time.Duration) {
	g := NewQuestionGenerator(model, "test-model", cfg, logger.Nop())
	var mu sync.Mutex
	delays := &[]time.Duration{}
	g.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*delays = append(*delays, d)
		return ctx.Err()
	}
	return g, delays
}

var errBoom = errors.New("boom")

func words(n int, word string) string {
	return strings.TrimSpace(strings.Repeat(word+" ", n))
}
