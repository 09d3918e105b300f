package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/store"
	"gwi.com/quiz-rag/internal/vectorstore"
)

const fallbackSource = "fallback"

type GeneratorConfig struct {
	TokenBudget   int
	TokensPerChar float64
	MaxAttempts   int
	BaseDelay     time.Duration
	Workers       int
	RatePerSecond float64
	RateBurst     int
}

// QuestionGenerator fans chunks out to the model and turns whatever comes
// back into exactly the requested number of questions.
type QuestionGenerator struct {
	model     Model
	modelName string
	cfg       GeneratorConfig
	limiter   *rate.Limiter
	sleep     func(ctx context.Context, d time.Duration) error
	log       *logger.Logger
}

// NewQuestionGenerator accepts a nil model, in which case every question is
// synthesized locally.
func NewQuestionGenerator(model Model, modelName string, cfg GeneratorConfig, log *logger.Logger) *QuestionGenerator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &QuestionGenerator{
		model:     model,
		modelName: modelName,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, max(1, cfg.RateBurst)),
		sleep:     sleepContext,
		log:       log.With("service", "QuestionGenerator"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// quota is the share of questions one chunk is asked for.
type quota struct {
	mcq, short int
}

// splitQuota spreads n over k chunks, giving the remainder to the first chunks.
func splitQuota(n, k int) []int {
	if k <= 0 {
		return nil
	}
	out := make([]int, k)
	for i := range out {
		out[i] = n / k
		if i < n%k {
			out[i]++
		}
	}
	return out
}

// Generate returns nMCQ multiple choice and nShort short answer questions
// for documentID. Model failures never surface; they are covered by locally
// synthesized questions.
func (g *QuestionGenerator) Generate(ctx context.Context, documentID string, chunks []string, nMCQ, nShort int) []*store.Question {
	nMCQ, nShort = max(0, nMCQ), max(0, nShort)
	if nMCQ+nShort == 0 {
		return nil
	}

	var candidates []candidate
	if g.model != nil && len(chunks) > 0 {
		candidates = validateQuestions(g.collect(ctx, chunks, nMCQ, nShort), nMCQ, nShort)
	}

	haveMCQ, haveShort := 0, 0
	for _, c := range candidates {
		if c.Type == store.QuestionMCQ {
			haveMCQ++
		} else {
			haveShort++
		}
	}
	if haveMCQ < nMCQ || haveShort < nShort {
		g.log.Warn("topping up with synthesized questions",
			"document_id", documentID, "mcq_missing", nMCQ-haveMCQ, "short_missing", nShort-haveShort)
		synth := newSynthesizer(chunks)
		for i := haveMCQ; i < nMCQ; i++ {
			candidates = append(candidates, synth.mcq(i))
		}
		for i := haveShort; i < nShort; i++ {
			candidates = append(candidates, synth.short(i, nMCQ))
		}
	}

	questions := make([]*store.Question, len(candidates))
	for i, c := range candidates {
		meta := map[string]any{"source": g.modelName}
		if c.ChunkIndex < 0 {
			meta["source"] = fallbackSource
		} else {
			meta["chunk_index"] = c.ChunkIndex
		}
		questions[i] = &store.Question{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			Type:       c.Type,
			Text:       c.Text,
			Options:    c.Options,
			Answer:     c.Answer,
			Metadata:   meta,
		}
	}
	return questions
}

// collect runs one model call per chunk with a non-zero quota and pools the
// raw items in chunk order.
func (g *QuestionGenerator) collect(ctx context.Context, chunks []string, nMCQ, nShort int) []pooledItem {
	mcqSplit := splitQuota(nMCQ, len(chunks))
	shortSplit := splitQuota(nShort, len(chunks))
	budget := charBudget(g.cfg.TokenBudget, g.cfg.TokensPerChar)

	results := make([][]map[string]any, len(chunks))
	var eg errgroup.Group
	eg.SetLimit(g.cfg.Workers)
	for i, chunk := range chunks {
		q := quota{mcq: mcqSplit[i], short: shortSplit[i]}
		if q.mcq == 0 && q.short == 0 {
			continue
		}
		eg.Go(func() error {
			prompt := buildPrompt(truncateToBudget(chunk, budget), q.mcq, q.short)
			raw, err := g.complete(ctx, prompt)
			if err != nil {
				g.log.Warn("chunk generation failed", "chunk_index", i, "error", err)
				return nil
			}
			items, err := parseQuestionArray(raw)
			if err != nil {
				g.log.Warn("unusable model output", "chunk_index", i, "error", err)
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = eg.Wait() // workers never return errors

	var pooled []pooledItem
	for i, items := range results {
		for _, it := range items {
			pooled = append(pooled, pooledItem{chunkIndex: i, fields: it})
		}
	}
	return pooled
}

// complete calls the model, retrying only rate limited attempts with
// exponential backoff.
func (g *QuestionGenerator) complete(ctx context.Context, prompt string) (string, error) {
	for attempt := 1; ; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
		text, err := g.model.Complete(ctx, prompt)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrModelRateLimited) {
			return "", err
		}
		if attempt >= g.cfg.MaxAttempts {
			return "", fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}
		delay := g.cfg.BaseDelay * time.Duration(1<<(attempt-1))
		g.log.Debug("model rate limited, backing off", "attempt", attempt, "delay", delay)
		if err := g.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

// QuestionService persists generated questions for indexed documents.
type QuestionService struct {
	docs      DocumentStore
	questions QuestionStore
	index     vectorstore.Storage
	generator *QuestionGenerator
	limit     int
	log       *logger.Logger
}

func NewQuestionService(docs DocumentStore, questions QuestionStore, index vectorstore.Storage, generator *QuestionGenerator, chunkLimit int, log *logger.Logger) *QuestionService {
	if chunkLimit <= 0 {
		chunkLimit = 5
	}
	return &QuestionService{
		docs:      docs,
		questions: questions,
		index:     index,
		generator: generator,
		limit:     chunkLimit,
		log:       log.With("service", "QuestionService"),
	}
}

// Generate creates and stores questions for documentID from the given chunks.
func (s *QuestionService) Generate(ctx context.Context, documentID string, chunks []string, nMCQ, nShort int) ([]*store.Question, error) {
	questions := s.generator.Generate(ctx, documentID, chunks, nMCQ, nShort)
	if err := s.questions.CreateQuestions(ctx, questions); err != nil {
		return nil, fmt.Errorf("failed to store questions: %w", err)
	}
	s.log.Info("questions generated", "document_id", documentID, "count", len(questions))
	return questions, nil
}

// GenerateQuestions pulls chunks from the vector index and generates
// questions for a document owned by userID. With regenerate set, existing
// questions are removed first and every user's progress on the document
// starts over. It reports whether new questions were created.
func (s *QuestionService) GenerateQuestions(ctx context.Context, userID, documentID string, nMCQ, nShort int, regenerate bool) (bool, error) {
	if _, err := ownedDocument(ctx, s.docs, userID, documentID); err != nil {
		return false, err
	}

	if regenerate {
		n, err := s.questions.DeleteQuestionsByDocument(ctx, documentID)
		if err != nil {
			return false, fmt.Errorf("failed to delete questions for %s: %w", documentID, err)
		}
		s.log.Debug("cleared questions", "document_id", documentID, "deleted", n)
	}

	matches, err := s.index.QueryByDocument(ctx, documentID, s.limit)
	if err != nil {
		s.log.Warn("vector index query failed, generating without chunks", "document_id", documentID, "error", err)
		matches = nil
	}
	chunks := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Text != "" {
			chunks = append(chunks, m.Text)
		}
	}

	questions, err := s.Generate(ctx, documentID, chunks, nMCQ, nShort)
	if err != nil {
		return false, err
	}
	return len(questions) > 0, nil
}

// ListQuestions returns the questions, answers included, of a document
// owned by userID.
func (s *QuestionService) ListQuestions(ctx context.Context, userID, documentID string) ([]store.Question, error) {
	if _, err := ownedDocument(ctx, s.docs, userID, documentID); err != nil {
		return nil, err
	}
	return s.questions.ListQuestionsByDocument(ctx, documentID)
}
