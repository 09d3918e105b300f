package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gwi.com/quiz-rag/internal/api"
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Document quiz service",
	Long: `Ingests study documents into a vector index, generates quiz questions
from them with a language model and tracks each user's quiz progress.
Without a subcommand the HTTP API is served.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	go func() {
		for te := range a.tasks.Errors() {
			a.log.Error("background task failed", "task", te.Name, "error", te.Err)
		}
	}()

	handler := api.NewAPIHandler(a.documents, a.ingestion, a.questions, a.quiz, a.tasks, api.Options{
		JWTSecret:        a.cfg.JWTSecret,
		MaxFileSize:      a.cfg.MaxFileSize,
		DefaultMCQ:       a.cfg.Generation.DefaultMCQ,
		DefaultShort:     a.cfg.Generation.DefaultShort,
		MaxQuestionCount: a.cfg.Generation.MaxQuestionCount,
	}, a.log)

	serverAddr := fmt.Sprintf(":%s", a.cfg.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  30 * time.Second, // uploads
		WriteTimeout: 120 * time.Second, // generation waits on the model
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting server", "addr", serverAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("could not listen on %s: %w", serverAddr, err)
	case <-ctx.Done():
	}
	a.log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server forced to shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		a.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.log.Warn("background tasks still running at exit")
	}

	a.log.Info("server exiting gracefully")
	return nil
}
