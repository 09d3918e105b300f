package store

import (
	"slices"
	"time"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusIndexed    DocumentStatus = "indexed"
	StatusFailed     DocumentStatus = "failed"
)

type Document struct {
	ID                  string         `json:"id"` // UUID
	UserID              string         `json:"user_id"`
	Filename            string         `json:"filename"`
	FilePath            string         `json:"-"` // Storage location, never exposed
	Status              DocumentStatus `json:"status"`
	ProcessingStartedAt *time.Time     `json:"processing_started_at"` // Nullable
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

type QuestionType string

const (
	QuestionMCQ   QuestionType = "mcq"
	QuestionShort QuestionType = "short"
)

type Question struct {
	ID         string         `json:"id"` // UUID
	DocumentID string         `json:"document_id"`
	Type       QuestionType   `json:"type"`
	Text       string         `json:"question"`
	Options    []string       `json:"options,omitempty"` // mcq only
	Answer     string         `json:"answer"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

type UserProgress struct {
	UserID              string    `json:"user_id"`
	DocumentID          string    `json:"document_id"`
	AnsweredQuestionIDs []string  `json:"answered_question_ids"`
	Score               int       `json:"score"`
	TotalElapsedSeconds int       `json:"total_elapsed_seconds"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// HasAnswered reports whether questionID is in the answered-set.
func (p *UserProgress) HasAnswered(questionID string) bool {
	if p == nil {
		return false
	}
	return slices.Contains(p.AnsweredQuestionIDs, questionID)
}

// AnsweredSet returns the answered-set as a lookup map.
func (p *UserProgress) AnsweredSet() map[string]struct{} {
	set := make(map[string]struct{})
	if p == nil {
		return set
	}
	for _, id := range p.AnsweredQuestionIDs {
		set[id] = struct{}{}
	}
	return set
}
