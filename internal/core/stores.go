package core

import (
	"context"

	"gwi.com/quiz-rag/internal/store"
)

// DocumentStore is the document record access the services need.
// *store.SQLiteStore satisfies it.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *store.Document) error
	GetDocument(ctx context.Context, id string) (*store.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status store.DocumentStatus) error
}

type QuestionStore interface {
	CreateQuestions(ctx context.Context, questions []*store.Question) error
	DeleteQuestionsByDocument(ctx context.Context, documentID string) (int64, error)
	ListQuestionsByDocument(ctx context.Context, documentID string) ([]store.Question, error)
	GetQuestion(ctx context.Context, documentID, questionID string) (*store.Question, error)
}

type ProgressStore interface {
	GetProgress(ctx context.Context, userID, documentID string) (*store.UserProgress, error)
	UpdateProgress(ctx context.Context, userID, documentID string, mutate func(p *store.UserProgress) error) (*store.UserProgress, error)
}

// TextExtractor turns an uploaded file into plain text.
type TextExtractor interface {
	Extract(path string) (string, error)
}
