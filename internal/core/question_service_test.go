package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/store"
	"gwi.com/quiz-rag/internal/vectorstore"
)

var quotaRe = regexp.MustCompile(`Create (\d+) multiple-choice questions and (\d+) short-answer`)

// echoModel answers every prompt with exactly the requested items, tagging
// each question with the tag found in the study material.
func echoModel(delayFor string) *fakeModel {
	tagRe := regexp.MustCompile(`tag-(\w+)`)
	return &fakeModel{respond: func(call int, prompt string) (string, error) {
		m := quotaRe.FindStringSubmatch(prompt)
		nm, _ := strconv.Atoi(m[1])
		ns, _ := strconv.Atoi(m[2])
		tag := tagRe.FindStringSubmatch(prompt)[1]
		if tag == delayFor {
			time.Sleep(30 * time.Millisecond)
		}
		var items []string
		for i := 0; i < nm; i++ {
			items = append(items, fmt.Sprintf(`{"type":"mcq","question":"%s mcq %d","options":["A) w","B) x","C) y","D) z"],"answer":"B) x"}`, tag, i))
		}
		for i := 0; i < ns; i++ {
			items = append(items, fmt.Sprintf(`{"type":"short","question":"%s short %d","answer":"%s"}`, tag, i, tag))
		}
		return "[" + strings.Join(items, ",") + "]", nil
	}}
}

func TestSplitQuota(t *testing.T) {
	assert.Equal(t, []int{3, 2}, splitQuota(5, 2))
	assert.Equal(t, []int{2, 1}, splitQuota(3, 2))
	assert.Equal(t, []int{1, 0, 0}, splitQuota(1, 3))
	assert.Equal(t, []int{0, 0}, splitQuota(0, 2))
	assert.Nil(t, splitQuota(4, 0))
}

func TestCharBudget(t *testing.T) {
	assert.Equal(t, 6000, charBudget(1500, 0.25))
	assert.Equal(t, 0, charBudget(0, 0.25))
	assert.Equal(t, 0, charBudget(100, 0))
}

func TestTruncateToBudget(t *testing.T) {
	assert.Equal(t, "short text", truncateToBudget("short text", 100))
	assert.Equal(t, "anything", truncateToBudget("anything", 0))

	// sentence end at index 17 is past 80% of a 20 char budget
	text := "First sentence ok. Second sentence runs on"
	assert.Equal(t, "First sentence ok.", truncateToBudget(text, 20))

	// no sentence end past the floor, hard cut
	text = "Hi. " + strings.Repeat("a", 50)
	got := truncateToBudget(text, 20)
	assert.Equal(t, []rune(text)[:20], []rune(got))

	// cuts on runes, never bytes
	got = truncateToBudget(strings.Repeat("é", 30), 10)
	assert.Equal(t, strings.Repeat("é", 10), got)
}

func TestBuildPrompt(t *testing.T) {
	p := buildPrompt("Mitochondria make ATP.", 3, 2)
	assert.Contains(t, p, "Create 3 multiple-choice questions and 2 short-answer questions")
	assert.Contains(t, p, "JSON array")
	assert.Contains(t, p, "Mitochondria make ATP.")
	assert.Contains(t, p, `"type":"mcq"`)
	assert.Contains(t, p, `"type":"short"`)
	assert.Contains(t, p, "never an option number")
}

func TestGenerate_MergesInChunkOrder(t *testing.T) {
	model := echoModel("zero")
	g, _ := newTestGenerator(model, testGeneratorConfig())

	questions := g.Generate(context.Background(), "doc-1",
		[]string{"tag-zero material.", "tag-one material."}, 5, 3)

	require.Len(t, questions, 8)
	assert.Equal(t, 2, model.calls())
	assert.Contains(t, model.prompts[0]+model.prompts[1], "Create 3 multiple-choice questions and 2 short-answer")
	assert.Contains(t, model.prompts[0]+model.prompts[1], "Create 2 multiple-choice questions and 1 short-answer")

	var texts []string
	mcq, short := 0, 0
	for _, q := range questions {
		texts = append(texts, q.Text)
		assert.Equal(t, "doc-1", q.DocumentID)
		assert.NotEmpty(t, q.ID)
		assert.Equal(t, "test-model", q.Metadata["source"])
		switch q.Type {
		case store.QuestionMCQ:
			mcq++
			assert.Equal(t, "B) x", q.Answer)
			assert.Contains(t, q.Options, q.Answer)
		case store.QuestionShort:
			short++
		}
	}
	assert.Equal(t, 5, mcq)
	assert.Equal(t, 3, short)
	// chunk zero answered last but its items still come first
	assert.Equal(t, []string{
		"zero mcq 0", "zero mcq 1", "zero mcq 2", "zero short 0", "zero short 1",
		"one mcq 0", "one mcq 1", "one short 0",
	}, texts)
	assert.Equal(t, 0, questions[0].Metadata["chunk_index"])
	assert.Equal(t, 1, questions[7].Metadata["chunk_index"])
}

func TestGenerate_SkipsZeroQuotaChunks(t *testing.T) {
	model := echoModel("")
	g, _ := newTestGenerator(model, testGeneratorConfig())

	questions := g.Generate(context.Background(), "doc", []string{"tag-a x.", "tag-b y.", "tag-c z."}, 1, 0)
	require.Len(t, questions, 1)
	assert.Equal(t, 1, model.calls())
	assert.Equal(t, "a mcq 0", questions[0].Text)
}

func TestGenerate_RetriesRateLimitedCalls(t *testing.T) {
	ok := `[{"type":"short","question":"What makes ATP?","answer":"Mitochondria"}]`
	model := &fakeModel{respond: func(call int, prompt string) (string, error) {
		if call < 3 {
			return "", fmt.Errorf("quota: %w", ErrModelRateLimited)
		}
		return ok, nil
	}}
	g, delays := newTestGenerator(model, testGeneratorConfig())

	questions := g.Generate(context.Background(), "doc", []string{"Mitochondria make ATP."}, 0, 1)
	require.Len(t, questions, 1)
	assert.Equal(t, "What makes ATP?", questions[0].Text)
	assert.Equal(t, 3, model.calls())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *delays)
}

func TestGenerate_GivesUpAfterMaxAttempts(t *testing.T) {
	model := &fakeModel{respond: func(int, string) (string, error) {
		return "", ErrModelRateLimited
	}}
	g, delays := newTestGenerator(model, testGeneratorConfig())

	questions := g.Generate(context.Background(), "doc", []string{"Photosynthesis happens in Chloroplasts."}, 2, 1)
	require.Len(t, questions, 3)
	assert.Equal(t, 3, model.calls())
	assert.Len(t, *delays, 2)
	for _, q := range questions {
		assert.Equal(t, fallbackSource, q.Metadata["source"])
	}
}

func TestGenerate_OtherErrorsAreNotRetried(t *testing.T) {
	model := &fakeModel{respond: func(int, string) (string, error) {
		return "", errBoom
	}}
	g, delays := newTestGenerator(model, testGeneratorConfig())

	questions := g.Generate(context.Background(), "doc", []string{"Some Content here."}, 1, 1)
	assert.Len(t, questions, 2)
	assert.Equal(t, 1, model.calls())
	assert.Empty(t, *delays)
}

func TestGenerate_InvalidOutputFallsBack(t *testing.T) {
	model := &fakeModel{respond: func(int, string) (string, error) {
		return "Sorry, I cannot help with that.", nil
	}}
	g, _ := newTestGenerator(model, testGeneratorConfig())

	questions := g.Generate(context.Background(), "doc", []string{"Paris is the capital of France."}, 2, 1)
	require.Len(t, questions, 3)
	for _, q := range questions {
		assert.Equal(t, fallbackSource, q.Metadata["source"])
	}
}

func TestGenerate_TopsUpPartialOutput(t *testing.T) {
	model := &fakeModel{respond: func(int, string) (string, error) {
		return "```json\n[{\"type\":\"mcq\",\"question\":\"Capital of France?\",\"options\":[\"Berlin\",\"Paris\"],\"answer\":\"paris\"}]\n```", nil
	}}
	g, _ := newTestGenerator(model, testGeneratorConfig())

	questions := g.Generate(context.Background(), "doc", []string{"Paris is the capital of France."}, 2, 1)
	require.Len(t, questions, 3)

	first := questions[0]
	assert.Equal(t, store.QuestionMCQ, first.Type)
	assert.Equal(t, []string{"A) Berlin", "B) Paris"}, first.Options)
	assert.Equal(t, "B) Paris", first.Answer)
	assert.Equal(t, "test-model", first.Metadata["source"])

	assert.Equal(t, store.QuestionMCQ, questions[1].Type)
	assert.Equal(t, fallbackSource, questions[1].Metadata["source"])
	assert.Equal(t, store.QuestionShort, questions[2].Type)
	assert.Equal(t, fallbackSource, questions[2].Metadata["source"])
}

func TestGenerate_NilModelUsesFallback(t *testing.T) {
	g, _ := newTestGenerator(nil, testGeneratorConfig())
	chunks := []string{"Photosynthesis occurs in Chloroplasts. Plants release Oxygen during the Calvin cycle."}

	questions := g.Generate(context.Background(), "doc", chunks, 5, 2)
	require.Len(t, questions, 7)
	for i, q := range questions[:5] {
		require.Equal(t, store.QuestionMCQ, q.Type)
		require.Len(t, q.Options, 4)
		assert.Equal(t, q.Options[i%4], q.Answer, "correct option rotates")
		assert.Contains(t, q.Text, blank)
	}
	for _, q := range questions[5:] {
		assert.Equal(t, store.QuestionShort, q.Type)
		assert.NotEmpty(t, q.Answer)
	}

	again := g.Generate(context.Background(), "doc", chunks, 5, 2)
	for i := range questions {
		assert.Equal(t, questions[i].Text, again[i].Text)
		assert.Equal(t, questions[i].Answer, again[i].Answer)
	}
}

func TestGenerate_NoChunksUsesPlaceholders(t *testing.T) {
	model := echoModel("")
	g, _ := newTestGenerator(model, testGeneratorConfig())

	questions := g.Generate(context.Background(), "doc", nil, 2, 1)
	require.Len(t, questions, 3)
	assert.Zero(t, model.calls())
	assert.Equal(t, "A) Acknowledged", questions[0].Answer)
	assert.Equal(t, "ok", questions[2].Answer)

	assert.Empty(t, g.Generate(context.Background(), "doc", nil, 0, 0))
}

func TestGenerate_RespectsTokenBudget(t *testing.T) {
	model := &fakeModel{respond: func(int, string) (string, error) { return "[]", nil }}
	cfg := testGeneratorConfig()
	cfg.TokenBudget = 10 // 40 characters
	g, _ := newTestGenerator(model, cfg)

	chunk := "Short opening line here. " + strings.Repeat("overflow ", 20) + "TAILMARKER"
	g.Generate(context.Background(), "doc", []string{chunk}, 1, 0)
	require.Equal(t, 1, model.calls())
	assert.Contains(t, model.prompts[0], "Short opening line here.")
	assert.NotContains(t, model.prompts[0], "TAILMARKER")
}

func TestQuestionService_GenerateQuestions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createDoc(t, s, "doc-1")
	index := &fakeIndex{matches: []vectorstore.Match{
		{ChunkID: "doc-1_c0", Sequence: 0, Text: "tag-zero text."},
		{ChunkID: "doc-1_c1", Sequence: 1, Text: "tag-one text."},
	}}
	g, _ := newTestGenerator(echoModel(""), testGeneratorConfig())
	svc := NewQuestionService(s, s, index, g, 5, logger.Nop())

	created, err := svc.GenerateQuestions(ctx, "alice", "doc-1", 2, 2, false)
	require.NoError(t, err)
	assert.True(t, created)

	stored, err := svc.ListQuestions(ctx, "alice", "doc-1")
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, "zero mcq 0", stored[0].Text)

	created, err = svc.GenerateQuestions(ctx, "alice", "doc-1", 1, 0, true)
	require.NoError(t, err)
	assert.True(t, created)
	stored, err = svc.ListQuestions(ctx, "alice", "doc-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	_, err = svc.GenerateQuestions(ctx, "alice", "doc-1", 1, 1, false)
	require.NoError(t, err)
	stored, err = svc.ListQuestions(ctx, "alice", "doc-1")
	require.NoError(t, err)
	assert.Len(t, stored, 3, "without regenerate new questions are appended")
}

func TestQuestionService_MissingDocument(t *testing.T) {
	s := newTestStore(t)
	g, _ := newTestGenerator(nil, testGeneratorConfig())
	svc := NewQuestionService(s, s, &fakeIndex{}, g, 5, logger.Nop())

	_, err := svc.GenerateQuestions(context.Background(), "alice", "nope", 1, 1, false)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = svc.ListQuestions(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestQuestionService_OtherOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createDoc(t, s, "doc-1")
	g, _ := newTestGenerator(nil, testGeneratorConfig())
	svc := NewQuestionService(s, s, &fakeIndex{}, g, 5, logger.Nop())

	_, err := svc.GenerateQuestions(ctx, "alice", "doc-1", 1, 0, false)
	require.NoError(t, err)

	_, err = svc.GenerateQuestions(ctx, "mallory", "doc-1", 1, 0, true)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = svc.ListQuestions(ctx, "mallory", "doc-1")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	stored, err := svc.ListQuestions(ctx, "", "doc-1")
	require.NoError(t, err)
	assert.Len(t, stored, 1, "questions survive a foreign regenerate")
}

func TestQuestionService_RegenerateResetsProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createDoc(t, s, "doc-1")
	g, _ := newTestGenerator(nil, testGeneratorConfig())
	svc := NewQuestionService(s, s, &fakeIndex{}, g, 5, logger.Nop())
	quiz := NewQuizService(s, s, logger.Nop())

	_, err := svc.GenerateQuestions(ctx, "alice", "doc-1", 0, 3, false)
	require.NoError(t, err)
	old, err := s.ListQuestionsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	for _, q := range old {
		_, err := quiz.GradeAnswer(ctx, "bob", "doc-1", q.ID, text(q.Answer), seconds(4))
		require.NoError(t, err)
	}

	_, err = svc.GenerateQuestions(ctx, "alice", "doc-1", 1, 0, true)
	require.NoError(t, err)

	sum, err := quiz.Progress(ctx, "bob", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Total)
	assert.Zero(t, sum.Answered)
	assert.Zero(t, sum.Score)
	assert.Zero(t, sum.TotalElapsedSeconds)
	assert.Empty(t, sum.AnsweredQuestionIDs)
	assert.False(t, sum.Completed)

	next, err := quiz.NextQuestion(ctx, "bob", "doc-1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, store.QuestionMCQ, next.Type)
}

func TestQuestionService_IndexFailureYieldsFallback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createDoc(t, s, "doc-1")
	model := echoModel("")
	g, _ := newTestGenerator(model, testGeneratorConfig())
	svc := NewQuestionService(s, s, &fakeIndex{queryErr: errBoom}, g, 5, logger.Nop())

	created, err := svc.GenerateQuestions(ctx, "alice", "doc-1", 1, 1, false)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Zero(t, model.calls())

	stored, err := s.ListQuestionsByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, fallbackSource, stored[0].Metadata["source"])
}
