package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/store"
)

// Submission is a user's answer. Multiple choice answers carry SelectedIndex,
// short answers carry Text. A bare JSON string decodes as Text.
type Submission struct {
	SelectedIndex *int    `json:"selected_index,omitempty"`
	Text          *string `json:"text,omitempty"`
	raw           json.RawMessage
}

func (s *Submission) UnmarshalJSON(data []byte) error {
	*s = Submission{raw: append(json.RawMessage(nil), data...)}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		s.Text = &text
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] != '{' {
		return nil // other scalars only participate through their canonical form
	}
	type plain Submission
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	s.SelectedIndex, s.Text = p.SelectedIndex, p.Text
	return nil
}

// canonical is the string form compared for question types without a
// dedicated rule.
func (s Submission) canonical() string {
	switch {
	case s.Text != nil:
		return *s.Text
	case s.SelectedIndex != nil:
		return strconv.Itoa(*s.SelectedIndex)
	case len(s.raw) > 0:
		var buf bytes.Buffer
		if err := json.Compact(&buf, s.raw); err == nil {
			return buf.String()
		}
		return string(s.raw)
	default:
		return ""
	}
}

type GradeResult struct {
	Correct         bool `json:"correct"`
	CurrentScore    int  `json:"current_score"`
	AlreadyAnswered bool `json:"already_answered"`
}

type ProgressSummary struct {
	UserID              string   `json:"user_id"`
	DocumentID          string   `json:"document_id"`
	Answered            int      `json:"answered"`
	Total               int      `json:"total"`
	Score               int      `json:"score"`
	TotalElapsedSeconds int      `json:"total_elapsed_seconds"`
	AnsweredQuestionIDs []string `json:"answered_question_ids"`
	Completed           bool     `json:"completed"`
}

// QuizService tracks per user progress through a document's questions.
type QuizService struct {
	questions QuestionStore
	progress  ProgressStore
	log       *logger.Logger
}

func NewQuizService(questions QuestionStore, progress ProgressStore, log *logger.Logger) *QuizService {
	return &QuizService{questions: questions, progress: progress, log: log.With("service", "QuizService")}
}

// NextQuestion returns the earliest created question the user has not yet
// answered, or nil when none remain.
func (s *QuizService) NextQuestion(ctx context.Context, userID, documentID string) (*store.Question, error) {
	questions, err := s.questions.ListQuestionsByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, nil
	}
	p, err := s.progress.GetProgress(ctx, userID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	answered := p.AnsweredSet()
	for i := range questions {
		if _, done := answered[questions[i].ID]; !done {
			return &questions[i], nil
		}
	}
	return nil, nil
}

// GradeAnswer grades one submission. Only the first submission for a
// question changes progress; repeats are graded but leave score and elapsed
// time alone. A nil elapsedSeconds counts as zero.
func (s *QuizService) GradeAnswer(ctx context.Context, userID, documentID, questionID string, answer Submission, elapsedSeconds *int) (*GradeResult, error) {
	q, err := s.questions.GetQuestion(ctx, documentID, questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load question: %w", err)
	}
	if q == nil {
		return nil, ErrQuestionNotFound
	}

	correct := grade(q, answer)
	elapsed := 0
	if elapsedSeconds != nil && *elapsedSeconds > 0 {
		elapsed = *elapsedSeconds
	}

	result := &GradeResult{Correct: correct}
	_, err = s.progress.UpdateProgress(ctx, userID, documentID, func(p *store.UserProgress) error {
		if p.HasAnswered(questionID) {
			result.AlreadyAnswered = true
		} else {
			p.AnsweredQuestionIDs = append(p.AnsweredQuestionIDs, questionID)
			p.TotalElapsedSeconds += elapsed
			if correct {
				p.Score++
			}
		}
		result.CurrentScore = p.Score
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update progress: %w", err)
	}
	s.log.Debug("answer graded", "user_id", userID, "question_id", questionID, "correct", correct, "repeat", result.AlreadyAnswered)
	return result, nil
}

// Progress summarizes a user's run through a document.
func (s *QuizService) Progress(ctx context.Context, userID, documentID string) (*ProgressSummary, error) {
	questions, err := s.questions.ListQuestionsByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	p, err := s.progress.GetProgress(ctx, userID, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	summary := &ProgressSummary{UserID: userID, DocumentID: documentID, Total: len(questions), AnsweredQuestionIDs: []string{}}
	if p != nil {
		summary.Answered = len(p.AnsweredQuestionIDs)
		summary.Score = p.Score
		summary.TotalElapsedSeconds = p.TotalElapsedSeconds
		summary.AnsweredQuestionIDs = p.AnsweredQuestionIDs
	}
	answered := p.AnsweredSet()
	summary.Completed = len(questions) > 0
	for _, q := range questions {
		if _, ok := answered[q.ID]; !ok {
			summary.Completed = false
			break
		}
	}
	return summary, nil
}

func grade(q *store.Question, answer Submission) bool {
	switch q.Type {
	case store.QuestionMCQ:
		if answer.SelectedIndex != nil {
			i := *answer.SelectedIndex
			if i < 0 || i >= len(q.Options) {
				return false
			}
			return sameAnswer(q.Options[i], q.Answer)
		}
		if answer.Text != nil {
			return sameAnswer(*answer.Text, q.Answer)
		}
		return false
	case store.QuestionShort:
		if answer.Text == nil {
			return false
		}
		return sameAnswer(*answer.Text, q.Answer)
	default:
		return sameAnswer(answer.canonical(), q.Answer)
	}
}

func sameAnswer(a, b string) bool {
	return strings.ToLower(strings.TrimSpace(a)) == strings.ToLower(strings.TrimSpace(b))
}

// IsNotFound reports whether err means a missing document or question.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound) || errors.Is(err, ErrQuestionNotFound)
}
