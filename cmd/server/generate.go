package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	generateDocumentID string
	generateMCQ        int
	generateShort      int
	generateRegenerate bool
	generateJSON       bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate quiz questions for an indexed document",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().StringVar(&generateDocumentID, "document", "", "document id (required)")
	generateCmd.Flags().IntVar(&generateMCQ, "mcq", -1, "number of multiple choice questions (default from config)")
	generateCmd.Flags().IntVar(&generateShort, "short", -1, "number of short answer questions (default from config)")
	generateCmd.Flags().BoolVar(&generateRegenerate, "regenerate", false, "delete existing questions first")
	generateCmd.Flags().BoolVar(&generateJSON, "json", false, "print the question set as JSON")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if generateDocumentID == "" {
		return errors.New("--document is required")
	}
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	nMCQ, nShort := generateMCQ, generateShort
	if nMCQ < 0 {
		nMCQ = a.cfg.Generation.DefaultMCQ
	}
	if nShort < 0 {
		nShort = a.cfg.Generation.DefaultShort
	}

	// the operator CLI is not scoped to a document owner
	if _, err := a.questions.GenerateQuestions(ctx, "", generateDocumentID, nMCQ, nShort, generateRegenerate); err != nil {
		return fmt.Errorf("question generation failed: %w", err)
	}
	questions, err := a.questions.ListQuestions(ctx, "", generateDocumentID)
	if err != nil {
		return err
	}

	if generateJSON {
		data, err := json.MarshalIndent(questions, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal questions: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Printf("Document %s now has %d questions.\n", generateDocumentID, len(questions))
	for i, q := range questions {
		cmd.Printf("%2d. [%s] %s\n", i+1, q.Type, q.Text)
		for _, o := range q.Options {
			cmd.Printf("      %s\n", o)
		}
	}
	return nil
}
