package core

import "errors"

var (
	// ErrExtraction marks an unreadable or corrupt source file. Terminal.
	ErrExtraction = errors.New("text extraction failed")
	// ErrNoChunks marks a document whose text produced no chunks. Terminal.
	ErrNoChunks = errors.New("document produced no chunks")
	// ErrEmbeddingProvider marks a failed embedding call during ingestion.
	ErrEmbeddingProvider = errors.New("embedding provider failed")
	// ErrIndex marks a failed vector index write during ingestion.
	ErrIndex = errors.New("vector index failed")
	// ErrModelRateLimited is returned by Model implementations when the
	// provider asks the caller to slow down. It is retried with backoff.
	ErrModelRateLimited = errors.New("model rate limited")
	// ErrModelOutputInvalid marks a model response with no usable question
	// array. It only ever zeroes the yield of one chunk.
	ErrModelOutputInvalid = errors.New("model output invalid")

	ErrDocumentNotFound = errors.New("document not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrUnsupportedFile  = errors.New("unsupported file type")
	ErrEmptyUpload      = errors.New("empty file uploaded")
	ErrUploadTooLarge   = errors.New("uploaded file too large")
)
