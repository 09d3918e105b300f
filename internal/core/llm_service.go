package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"gwi.com/quiz-rag/internal/logger"
)

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"

	// Gemini rejects batch embedding requests above this size.
	maxEmbedBatch = 100

	quizSystemInstruction = "You write quiz questions strictly from the study material you are given. " +
		"Never use outside knowledge. Reply with a JSON array only, without prose or markdown fences."
)

// Model completes a prompt with free text.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Embedder maps texts to vectors, one per input, in input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// GeminiClient implements Model and Embedder on the Gemini API.
type GeminiClient struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
	log            *logger.Logger
}

func NewGeminiClient(ctx context.Context, log *logger.Logger, apiKey, chatModel, embeddingModel string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("missing Gemini API key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if chatModel == "" {
		chatModel = defaultChatModelName
	}
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModelName
	}
	return &GeminiClient{
		client:         client,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		log:            log.With("service", "GeminiClient"),
	}, nil
}

func (c *GeminiClient) Close() {
	if c.client == nil {
		return
	}
	if err := c.client.Close(); err != nil {
		c.log.Warn("error closing GenAI client", "error", err)
		return
	}
	c.log.Debug("GenAI client closed")
}

// EmbedBatch embeds texts with as few requests as the provider allows.
func (c *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := c.client.EmbeddingModel(c.embeddingModel)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))
		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("gemini batch embedding request failed: %w", classifyModelError(err))
		}
		if len(res.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(res.Embeddings), end-start)
		}
		for i, e := range res.Embeddings {
			if e == nil || len(e.Values) == 0 {
				return nil, fmt.Errorf("no embedding data received from gemini for text %d", start+i)
			}
			out = append(out, e.Values)
		}
	}
	return out, nil
}

// Complete sends a single-turn prompt and returns the concatenated text parts.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(c.chatModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(quizSystemInstruction)},
	}
	model.SetTemperature(0.4)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate request failed: %w", classifyModelError(err))
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty response", ErrModelOutputInvalid)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			c.log.Debug("gemini response part was not text", "type", fmt.Sprintf("%T", part))
		}
	}
	return text.String(), nil
}

// classifyModelError tags provider throttling with ErrModelRateLimited so the
// generation loop can back off.
func classifyModelError(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.ResourceExhausted {
		return fmt.Errorf("%w: %w", ErrModelRateLimited, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrModelRateLimited, err)
	}
	return err
}
