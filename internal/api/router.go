package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/documents", apiHandler.UploadDocumentHandler)
			r.Get("/documents/{documentID}", apiHandler.GetDocumentHandler)

			r.Get("/questions/{documentID}", apiHandler.ListQuestionsHandler)
			r.Post("/questions/generate", apiHandler.GenerateQuestionsHandler)

			r.Get("/quiz/next", apiHandler.NextQuestionHandler)
			r.Post("/quiz/answer", apiHandler.SubmitAnswerHandler)

			r.Get("/progress/{documentID}", apiHandler.ProgressHandler)
		})
	})

	return r
}
