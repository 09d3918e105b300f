package main

import (
	"context"
	"fmt"

	"gwi.com/quiz-rag/internal/config"
	"gwi.com/quiz-rag/internal/core"
	"gwi.com/quiz-rag/internal/extract"
	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/store"
	"gwi.com/quiz-rag/internal/vectorstore"
	"gwi.com/quiz-rag/internal/vectorstore/pinecone"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *store.SQLiteStore
	gemini *core.GeminiClient

	documents *core.DocumentService
	ingestion *core.IngestionService
	questions *core.QuestionService
	quiz      *core.QuizService
	tasks     *core.Tasks
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.LogMode, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	if cfg.GeminiAPIKey != "" {
		a.gemini, err = core.NewGeminiClient(ctx, a.log, cfg.GeminiAPIKey, cfg.ChatModel, cfg.EmbeddingModel)
		if err != nil {
			return err
		}
	}

	var embedder core.Embedder
	switch cfg.Embedder {
	case "hash":
		embedder = core.NewHashEmbedder(cfg.EmbedDim)
	default:
		if a.gemini == nil {
			return fmt.Errorf("embedder %q needs GEMINI_API_KEY", cfg.Embedder)
		}
		embedder = a.gemini
	}

	var model core.Model
	modelName := ""
	if a.gemini != nil {
		model, modelName = a.gemini, cfg.ChatModel
	} else {
		a.log.Warn("no GEMINI_API_KEY, questions will be synthesized locally")
	}

	var index vectorstore.Storage
	switch cfg.VectorIndex {
	case "pinecone":
		index, err = pinecone.New(ctx, a.log, pinecone.Config{
			APIKey:    cfg.Pinecone.APIKey,
			IndexName: cfg.Pinecone.IndexName,
			IndexHost: cfg.Pinecone.IndexHost,
			Namespace: cfg.Pinecone.Namespace,
			Dimension: cfg.Pinecone.Dimension,
		})
		if err != nil {
			return err
		}
	default:
		index = store.NewVectorIndex(db, a.log)
	}

	chunker, err := core.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return err
	}
	a.documents, err = core.NewDocumentService(db, cfg.UploadDir, cfg.MaxFileSize, a.log)
	if err != nil {
		return err
	}
	a.ingestion = core.NewIngestionService(db, extract.New(), chunker, embedder, index, cfg.Chunking.ExcerptLength, a.log)

	g := cfg.Generation
	generator := core.NewQuestionGenerator(model, modelName, core.GeneratorConfig{
		TokenBudget:   g.TokenBudget,
		TokensPerChar: g.TokensPerChar,
		MaxAttempts:   g.MaxAttempts,
		BaseDelay:     g.BaseDelay,
		Workers:       g.Workers,
		RatePerSecond: g.RatePerSecond,
		RateBurst:     g.RateBurst,
	}, a.log)
	a.questions = core.NewQuestionService(db, db, index, generator, g.ChunkLimit, a.log)
	a.quiz = core.NewQuizService(db, db, a.log)
	a.tasks = core.NewTasks(ctx, a.log, 32)
	return nil
}

func (a *app) Close() {
	if a.gemini != nil {
		a.gemini.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("error closing database", "error", err)
		}
	}
	a.log.Sync()
}
