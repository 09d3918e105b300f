package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrNotFound is returned by update operations that matched no row.
var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withDefaultParams(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dataSourceName, ":memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// withDefaultParams makes every transaction take the write lock up front and
// waits on a busy database instead of failing immediately.
func withDefaultParams(dsn string) string {
	params := []string{"_txlock=immediate", "_busy_timeout=5000", "_foreign_keys=on"}
	var missing []string
	for _, p := range params {
		key := p[:strings.Index(p, "=")]
		if !strings.Contains(dsn, key+"=") {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS documents (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        filename TEXT NOT NULL,
        file_path TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'uploaded' CHECK (status IN ('uploaded', 'processing', 'indexed', 'failed')),
        processing_started_at DATETIME,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS questions (
        id TEXT PRIMARY KEY, -- UUID
        document_id TEXT NOT NULL,
        question_type TEXT NOT NULL CHECK (question_type IN ('mcq', 'short')),
        question_text TEXT NOT NULL,
        options_json TEXT, -- JSON array, mcq only
        answer TEXT NOT NULL,
        metadata_json TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (document_id) REFERENCES documents (id)
    );
    CREATE INDEX IF NOT EXISTS idx_questions_document ON questions (document_id);

    CREATE TABLE IF NOT EXISTS user_progress (
        user_id TEXT NOT NULL,
        document_id TEXT NOT NULL,
        answered_json TEXT NOT NULL DEFAULT '[]', -- JSON array of question ids
        score INTEGER NOT NULL DEFAULT 0,
        total_elapsed_seconds INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        PRIMARY KEY (user_id, document_id)
    );

    CREATE TABLE IF NOT EXISTS chunk_vectors (
        id TEXT PRIMARY KEY, -- {document_id}_c{sequence}
        document_id TEXT NOT NULL,
        sequence INTEGER NOT NULL,
        text_excerpt TEXT NOT NULL,
        embedding_json TEXT NOT NULL -- JSON array of float32
    );
    CREATE INDEX IF NOT EXISTS idx_chunk_vectors_document ON chunk_vectors (document_id);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Document methods
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	now := time.Now()
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == StatusProcessing && doc.ProcessingStartedAt == nil {
		doc.ProcessingStartedAt = &now
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents (id, user_id, filename, file_path, status, processing_started_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		doc.ID, doc.UserID, doc.Filename, doc.FilePath, doc.Status, doc.ProcessingStartedAt, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	var started sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, filename, file_path, status, processing_started_at, created_at, updated_at FROM documents WHERE id = ?", id).
		Scan(&doc.ID, &doc.UserID, &doc.Filename, &doc.FilePath, &doc.Status, &started, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if started.Valid {
		doc.ProcessingStartedAt = &started.Time
	}
	return &doc, nil
}

// UpdateDocumentStatus moves a document to status. Entering processing stamps
// processing_started_at.
func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus) error {
	now := time.Now()
	query := "UPDATE documents SET status = ?, updated_at = ? WHERE id = ?"
	args := []any{status, now, id}
	if status == StatusProcessing {
		query = "UPDATE documents SET status = ?, updated_at = ?, processing_started_at = ? WHERE id = ?"
		args = []any{status, now, now, id}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// Question methods

// CreateQuestions inserts all questions in one transaction, preserving slice
// order as creation order.
func (s *SQLiteStore) CreateQuestions(ctx context.Context, questions []*Question) error {
	if len(questions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin question insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO questions (id, document_id, question_type, question_text, options_json, answer, metadata_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare question insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, q := range questions {
		var optionsJSON, metadataJSON sql.NullString
		if len(q.Options) > 0 {
			b, err := json.Marshal(q.Options)
			if err != nil {
				return fmt.Errorf("failed to marshal options: %w", err)
			}
			optionsJSON = sql.NullString{String: string(b), Valid: true}
		}
		if len(q.Metadata) > 0 {
			b, err := json.Marshal(q.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata: %w", err)
			}
			metadataJSON = sql.NullString{String: string(b), Valid: true}
		}
		q.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, q.ID, q.DocumentID, q.Type, q.Text, optionsJSON, q.Answer, metadataJSON, q.CreatedAt); err != nil {
			return fmt.Errorf("failed to execute question insert: %w", err)
		}
	}
	return tx.Commit()
}

// DeleteQuestionsByDocument removes the questions of a document and, in the
// same transaction, resets every user's progress on it to empty so answered
// ids never outlive their questions.
func (s *SQLiteStore) DeleteQuestionsByDocument(ctx context.Context, documentID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin question delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM questions WHERE document_id = ?", documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete questions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE user_progress SET answered_json = '[]', score = 0, total_elapsed_seconds = 0, updated_at = ? WHERE document_id = ?",
		time.Now(), documentID); err != nil {
		return 0, fmt.Errorf("failed to reset progress: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit question delete: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// ListQuestionsByDocument returns the questions of a document in creation order.
func (s *SQLiteStore) ListQuestionsByDocument(ctx context.Context, documentID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, document_id, question_type, question_text, options_json, answer, metadata_json, created_at FROM questions WHERE document_id = ? ORDER BY rowid ASC", documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var questions []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate questions: %w", err)
	}
	return questions, nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, documentID, questionID string) (*Question, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, document_id, question_type, question_text, options_json, answer, metadata_json, created_at FROM questions WHERE id = ? AND document_id = ?", questionID, documentID)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return q, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (*Question, error) {
	var q Question
	var optionsJSON, metadataJSON sql.NullString
	if err := row.Scan(&q.ID, &q.DocumentID, &q.Type, &q.Text, &optionsJSON, &q.Answer, &metadataJSON, &q.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan question row: %w", err)
	}
	if optionsJSON.Valid && optionsJSON.String != "" {
		if err := json.Unmarshal([]byte(optionsJSON.String), &q.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options for question %s: %w", q.ID, err)
		}
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &q.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for question %s: %w", q.ID, err)
		}
	}
	return &q, nil
}

// UserProgress methods
func (s *SQLiteStore) GetProgress(ctx context.Context, userID, documentID string) (*UserProgress, error) {
	return getProgress(ctx, s.db, userID, documentID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getProgress(ctx context.Context, q queryer, userID, documentID string) (*UserProgress, error) {
	var p UserProgress
	var answeredJSON string
	err := q.QueryRowContext(ctx,
		"SELECT user_id, document_id, answered_json, score, total_elapsed_seconds, created_at, updated_at FROM user_progress WHERE user_id = ? AND document_id = ?", userID, documentID).
		Scan(&p.UserID, &p.DocumentID, &answeredJSON, &p.Score, &p.TotalElapsedSeconds, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No progress yet
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	if err := json.Unmarshal([]byte(answeredJSON), &p.AnsweredQuestionIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal answered ids: %w", err)
	}
	return &p, nil
}

// UpdateProgress runs a read-modify-write of one progress record inside a
// single write transaction. A missing record is created empty before mutate
// runs. If mutate returns an error nothing is written.
func (s *SQLiteStore) UpdateProgress(ctx context.Context, userID, documentID string, mutate func(p *UserProgress) error) (*UserProgress, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin progress update: %w", err)
	}
	defer tx.Rollback()

	p, err := getProgress(ctx, tx, userID, documentID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if p == nil {
		p = &UserProgress{
			UserID:              userID,
			DocumentID:          documentID,
			AnsweredQuestionIDs: []string{},
			CreatedAt:           now,
		}
	}
	if err := mutate(p); err != nil {
		return nil, err
	}
	p.UpdatedAt = now

	answeredJSON, err := json.Marshal(p.AnsweredQuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal answered ids: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO user_progress (user_id, document_id, answered_json, score, total_elapsed_seconds, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (user_id, document_id) DO UPDATE SET
            answered_json = excluded.answered_json,
            score = excluded.score,
            total_elapsed_seconds = excluded.total_elapsed_seconds,
            updated_at = excluded.updated_at`,
		p.UserID, p.DocumentID, string(answeredJSON), p.Score, p.TotalElapsedSeconds, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert progress: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit progress: %w", err)
	}
	return p, nil
}
