package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"gwi.com/quiz-rag/internal/extract"
	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/store"
)

// DocumentService stores uploads and exposes document status.
type DocumentService struct {
	docs        DocumentStore
	uploadDir   string
	maxFileSize int64
	log         *logger.Logger
}

func NewDocumentService(docs DocumentStore, uploadDir string, maxFileSize int64, log *logger.Logger) (*DocumentService, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %s: %w", uploadDir, err)
	}
	return &DocumentService{
		docs:        docs,
		uploadDir:   uploadDir,
		maxFileSize: maxFileSize,
		log:         log.With("service", "DocumentService"),
	}, nil
}

// Upload writes r to the upload directory and records a document in
// processing state. The caller is expected to start ingestion.
func (s *DocumentService) Upload(ctx context.Context, userID, filename string, r io.Reader) (*store.Document, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if !extract.Supported(filename) {
		return nil, ErrUnsupportedFile
	}

	id := uuid.NewString()
	path := filepath.Join(s.uploadDir, id+strings.ToLower(filepath.Ext(filename)))
	if err := s.save(path, r); err != nil {
		return nil, err
	}

	doc := &store.Document{
		ID:       id,
		UserID:   userID,
		Filename: filename,
		FilePath: path,
		Status:   store.StatusProcessing,
	}
	if err := s.docs.CreateDocument(ctx, doc); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	s.log.Info("document uploaded", "document_id", id, "filename", filename, "user_id", userID)
	return doc, nil
}

func (s *DocumentService) save(path string, r io.Reader) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close upload file: %w", cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	src := r
	if s.maxFileSize > 0 {
		src = io.LimitReader(r, s.maxFileSize+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return fmt.Errorf("failed to write upload file: %w", err)
	}
	if n == 0 {
		return ErrEmptyUpload
	}
	if s.maxFileSize > 0 && n > s.maxFileSize {
		return ErrUploadTooLarge
	}
	return nil
}

// Get returns the document id if it belongs to userID.
func (s *DocumentService) Get(ctx context.Context, userID, id string) (*store.Document, error) {
	return ownedDocument(ctx, s.docs, userID, id)
}

// ownedDocument loads a document and reports documents owned by someone
// else as ErrDocumentNotFound. An empty userID skips the owner check, which
// the operator CLI relies on.
func ownedDocument(ctx context.Context, docs DocumentStore, userID, id string) (*store.Document, error) {
	doc, err := docs.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	if doc == nil || (userID != "" && doc.UserID != userID) {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// IsClientError reports whether err was caused by the upload itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnsupportedFile) || errors.Is(err, ErrEmptyUpload) || errors.Is(err, ErrUploadTooLarge)
}
