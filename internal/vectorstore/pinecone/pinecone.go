package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"gwi.com/quiz-rag/internal/logger"
	"gwi.com/quiz-rag/internal/vectorstore"
)

// Storage is a minimal REST client for a Pinecone serverless index.
// It implements vectorstore.Storage.
type Storage struct {
	log       *logger.Logger
	cfg       Config
	http      *http.Client
	indexHost string
}

type Config struct {
	APIKey     string
	APIVersion string
	BaseURL    string // control plane, used to resolve IndexHost from IndexName
	IndexName  string
	IndexHost  string
	Namespace  string
	Dimension  int
	Timeout    time.Duration
}

func New(ctx context.Context, log *logger.Logger, cfg Config) (*Storage, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing Pinecone API key")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid Pinecone dimension %d", cfg.Dimension)
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "2025-04"
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.pinecone.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	s := &Storage{
		log:  log.With("service", "PineconeVectorStore"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}

	host := strings.TrimSpace(cfg.IndexHost)
	if host == "" {
		desc, err := s.describeIndex(ctx, cfg.IndexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
		}
		host = desc.Host
		s.log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index", "index_name", cfg.IndexName, "index_host", host)
	}
	s.indexHost = normalizeHost(host)
	return s, nil
}

func normalizeHost(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "https://" + host
}

type indexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
}

func (s *Storage) describeIndex(ctx context.Context, indexName string) (*indexDescription, error) {
	indexName = strings.TrimSpace(indexName)
	if indexName == "" {
		return nil, fmt.Errorf("indexName required")
	}
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/indexes/" + indexName
	out, err := doJSON[indexDescription](s, ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Host) == "" {
		return nil, fmt.Errorf("pinecone describe_index returned empty host")
	}
	return out, nil
}

type vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []vector `json:"vectors"`
	Namespace string   `json:"namespace,omitempty"`
}

type upsertResponse struct {
	UpsertedCount int64 `json:"upsertedCount"`
}

// Upsert writes all records in one request. Pinecone overwrites existing ids.
func (s *Storage) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	req := upsertRequest{Namespace: s.cfg.Namespace, Vectors: make([]vector, len(records))}
	for i, r := range records {
		req.Vectors[i] = vector{
			ID:     r.ID,
			Values: r.Values,
			Metadata: map[string]any{
				"document_id":  r.Metadata.DocumentID,
				"chunk_id":     r.Metadata.ChunkID,
				"sequence":     r.Metadata.Sequence,
				"text_excerpt": r.Metadata.TextExcerpt,
			},
		}
	}
	resp, err := doJSON[upsertResponse](s, ctx, http.MethodPost, s.indexHost+"/vectors/upsert", req)
	if err != nil {
		return err
	}
	s.log.Debug("pinecone upsert", "requested", len(records), "upserted", resp.UpsertedCount)
	return nil
}

type queryRequest struct {
	Namespace       string         `json:"namespace,omitempty"`
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

// QueryByDocument filters on document_id metadata. Pinecone needs a query
// vector, so a constant probe vector is used and results are re-sorted by
// chunk sequence.
func (s *Storage) QueryByDocument(ctx context.Context, documentID string, limit int) ([]vectorstore.Match, error) {
	if limit <= 0 {
		limit = 10
	}
	probe := make([]float32, s.cfg.Dimension)
	for i := range probe {
		probe[i] = 0.1
	}
	resp, err := doJSON[queryResponse](s, ctx, http.MethodPost, s.indexHost+"/query", queryRequest{
		Namespace:       s.cfg.Namespace,
		Vector:          probe,
		TopK:            limit,
		Filter:          map[string]any{"document_id": map[string]any{"$eq": documentID}},
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}

	out := make([]vectorstore.Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		// the filter is authoritative, the check guards against stale namespaces
		if v, _ := m.Metadata["document_id"].(string); v != documentID {
			continue
		}
		match := vectorstore.Match{ChunkID: m.ID, Score: m.Score}
		if v, ok := m.Metadata["chunk_id"].(string); ok && v != "" {
			match.ChunkID = v
		}
		if v, ok := m.Metadata["text_excerpt"].(string); ok {
			match.Text = v
		}
		if v, ok := m.Metadata["sequence"].(float64); ok {
			match.Sequence = int(v)
		} else if seq, ok := vectorstore.ParseSequence(match.ChunkID); ok {
			match.Sequence = seq
		}
		out = append(out, match)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func doJSON[T any](s *Storage, ctx context.Context, method, url string, body any) (*T, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", s.cfg.APIVersion)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pinecone http %d: %s", resp.StatusCode, string(raw))
	}

	var out T
	if len(raw) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pinecone decode: %w", err)
	}
	return &out, nil
}
