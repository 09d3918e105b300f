package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"gwi.com/quiz-rag/internal/extract"
	"gwi.com/quiz-rag/internal/store"
)

var ingestDocumentID string

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document synchronously",
	Long: `Extracts, chunks, embeds and indexes a document, then exits.
With only --document the stored upload of that document is re-ingested.
With a file and an unknown or empty --document a new document is created.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDocumentID, "document", "", "document id to (re)ingest")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestDocumentID == "" && len(args) == 0 {
		return errors.New("either --document or a file is required")
	}
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	docID := ingestDocumentID
	if docID == "" {
		docID = uuid.NewString()
	}
	doc, err := a.db.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	var path string
	switch {
	case len(args) == 1:
		path = args[0]
		if !extract.Supported(path) {
			return fmt.Errorf("unsupported file type: %s", path)
		}
		if doc == nil {
			doc = &store.Document{
				ID:       docID,
				UserID:   "cli",
				Filename: filepath.Base(path),
				FilePath: path,
				Status:   store.StatusProcessing,
			}
			if err := a.db.CreateDocument(ctx, doc); err != nil {
				return err
			}
		}
	case doc == nil:
		return fmt.Errorf("document %s not found", docID)
	default:
		path = doc.FilePath
	}

	if err := a.ingestion.IngestFile(ctx, docID, path); err != nil {
		return fmt.Errorf("data ingestion failed: %w", err)
	}
	cmd.Printf("Document %s indexed.\n", docID)
	return nil
}
