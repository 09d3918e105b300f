package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gwi.com/quiz-rag/internal/auth"
	"gwi.com/quiz-rag/internal/core"
	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/store"
)

type contextKey string

const userIDKey contextKey = "userID"

// multipart bookkeeping allowance on top of the file size cap
const multipartOverhead = 1 << 20

type Options struct {
	JWTSecret        string
	MaxFileSize      int64
	DefaultMCQ       int
	DefaultShort     int
	MaxQuestionCount int
}

type APIHandler struct {
	documents *core.DocumentService
	ingestion *core.IngestionService
	questions *core.QuestionService
	quiz      *core.QuizService
	tasks     *core.Tasks
	opts      Options
	log       *logger.Logger
}

func NewAPIHandler(documents *core.DocumentService, ingestion *core.IngestionService, questions *core.QuestionService, quiz *core.QuizService, tasks *core.Tasks, opts Options, log *logger.Logger) *APIHandler {
	return &APIHandler{
		documents: documents,
		ingestion: ingestion,
		questions: questions,
		quiz:      quiz,
		tasks:     tasks,
		opts:      opts,
		log:       log.With("service", "APIHandler"),
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(h.opts.JWTSecret, tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type documentStatusResponse struct {
	DocumentID          string               `json:"document_id"`
	Filename            string               `json:"filename"`
	Status              store.DocumentStatus `json:"status"`
	ProcessingStartedAt *time.Time           `json:"processing_started_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

func statusResponse(doc *store.Document) documentStatusResponse {
	return documentStatusResponse{
		DocumentID:          doc.ID,
		Filename:            doc.Filename,
		Status:              doc.Status,
		ProcessingStartedAt: doc.ProcessingStartedAt,
		UpdatedAt:           doc.UpdatedAt,
	}
}

func (h *APIHandler) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	if h.opts.MaxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxFileSize+multipartOverhead)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "A multipart file field named 'file' is required")
		return
	}
	defer file.Close()

	doc, err := h.documents.Upload(r.Context(), userID, header.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrUploadTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case core.IsClientError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.log.Error("error storing upload", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to store document")
		}
		return
	}

	docID, path := doc.ID, doc.FilePath
	h.tasks.Go("ingest:"+docID, func(ctx context.Context) error {
		return h.ingestion.IngestFile(ctx, docID, path)
	})

	writeJSON(w, http.StatusAccepted, map[string]string{"document_id": doc.ID, "status": string(doc.Status)})
}

func (h *APIHandler) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	doc, err := h.documents.Get(r.Context(), userFrom(r), documentID)
	if err != nil {
		if errors.Is(err, core.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "Document not found")
			return
		}
		h.log.Error("error getting document", "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get document")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(doc))
}

func (h *APIHandler) ListQuestionsHandler(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	questions, err := h.questions.ListQuestions(r.Context(), userFrom(r), documentID)
	if err != nil {
		if errors.Is(err, core.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "Document not found")
			return
		}
		h.log.Error("error listing questions", "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list questions")
		return
	}
	if questions == nil {
		questions = []store.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

type GenerateQuestionsRequest struct {
	DocumentID string `json:"document_id"`
	NMCQ       *int   `json:"n_mcq,omitempty"`
	NShort     *int   `json:"n_short,omitempty"`
	Regenerate bool   `json:"regenerate"`
}

func (h *APIHandler) countOrDefault(v *int, def int) (int, bool) {
	n := def
	if v != nil {
		n = *v
	}
	if n < 0 {
		return 0, false
	}
	if h.opts.MaxQuestionCount > 0 {
		n = min(n, h.opts.MaxQuestionCount)
	}
	return n, true
}

func (h *APIHandler) GenerateQuestionsHandler(w http.ResponseWriter, r *http.Request) {
	var req GenerateQuestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.DocumentID == "" {
		writeError(w, http.StatusBadRequest, "document_id is required")
		return
	}
	nMCQ, ok := h.countOrDefault(req.NMCQ, h.opts.DefaultMCQ)
	if !ok {
		writeError(w, http.StatusBadRequest, "n_mcq must not be negative")
		return
	}
	nShort, ok := h.countOrDefault(req.NShort, h.opts.DefaultShort)
	if !ok {
		writeError(w, http.StatusBadRequest, "n_short must not be negative")
		return
	}

	created, err := h.questions.GenerateQuestions(r.Context(), userFrom(r), req.DocumentID, nMCQ, nShort, req.Regenerate)
	if err != nil {
		if errors.Is(err, core.ErrDocumentNotFound) {
			writeError(w, http.StatusNotFound, "Document not found")
			return
		}
		h.log.Error("error generating questions", "document_id", req.DocumentID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate questions")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"created": created})
}

// quizQuestion is a question as shown to a quiz taker, without the answer.
type quizQuestion struct {
	ID         string             `json:"id"`
	DocumentID string             `json:"document_id"`
	Type       store.QuestionType `json:"type"`
	Text       string             `json:"question"`
	Options    []string           `json:"options,omitempty"`
}

func (h *APIHandler) NextQuestionHandler(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	documentID := r.URL.Query().Get("document_id")
	if documentID == "" {
		writeError(w, http.StatusBadRequest, "document_id query parameter is required")
		return
	}

	q, err := h.quiz.NextQuestion(r.Context(), userID, documentID)
	if err != nil {
		h.log.Error("error getting next question", "user_id", userID, "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get next question")
		return
	}
	if q == nil {
		writeJSON(w, http.StatusOK, map[string]string{"message": "No more questions"})
		return
	}
	writeJSON(w, http.StatusOK, quizQuestion{ID: q.ID, DocumentID: q.DocumentID, Type: q.Type, Text: q.Text, Options: q.Options})
}

type AnswerRequest struct {
	DocumentID     string          `json:"document_id"`
	QuestionID     string          `json:"question_id"`
	Answer         core.Submission `json:"answer"`
	ElapsedSeconds *int            `json:"elapsed_seconds,omitempty"`
}

func (h *APIHandler) SubmitAnswerHandler(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.DocumentID == "" || req.QuestionID == "" {
		writeError(w, http.StatusBadRequest, "document_id and question_id are required")
		return
	}
	if req.ElapsedSeconds != nil && *req.ElapsedSeconds < 0 {
		writeError(w, http.StatusBadRequest, "elapsed_seconds must not be negative")
		return
	}

	res, err := h.quiz.GradeAnswer(r.Context(), userID, req.DocumentID, req.QuestionID, req.Answer, req.ElapsedSeconds)
	if err != nil {
		if errors.Is(err, core.ErrQuestionNotFound) {
			writeError(w, http.StatusNotFound, "Question not found")
			return
		}
		h.log.Error("error grading answer", "user_id", userID, "question_id", req.QuestionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to grade answer")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	documentID := chi.URLParam(r, "documentID")

	summary, err := h.quiz.Progress(r.Context(), userID, documentID)
	if err != nil {
		h.log.Error("error getting progress", "user_id", userID, "document_id", documentID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to get progress")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
