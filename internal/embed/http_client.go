package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// embedRequest/embedResponse mirror the OpenAI-style embeddings wire shape
// intelligencedev-manifold's internal/embedding/client.go speaks to.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// HTTPEmbedder calls a remote embeddings endpoint, wrapped in a circuit
// breaker so a struggling embedding service degrades the retrieval engine
// (via EMBEDDING_ERROR, spec.md §6.5) instead of hanging every connection.
// Grounded on the teacher's CircuitBreakerManager
// (internal/infrastructure/providers/circuitbreakers.go) and on manifold's
// EmbedText wire format (internal/embedding/client.go).
type HTTPEmbedder struct {
	endpoint string
	model    string
	dim      int
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewHTTPEmbedder constructs an embedder backed by endpoint, which must
// accept {"model":...,"input":[...]} and return {"data":[{"embedding":[...]}]}.
func NewHTTPEmbedder(endpoint, model string, dim int) *HTTPEmbedder {
	settings := gobreaker.Settings{
		Name:        "embedder:" + model,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &HTTPEmbedder{
		endpoint: endpoint,
		model:    model,
		dim:      dim,
		client:   &http.Client{Timeout: 10 * time.Second},
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

func (e *HTTPEmbedder) Name() string   { return e.model }
func (e *HTTPEmbedder) Dimension() int { return e.dim }

// EmbedBatch implements Embedder.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.doRequest(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return result.([][]float32), nil
}

func (e *HTTPEmbedder) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding endpoint returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// Ping checks the embedding endpoint is reachable, for startup health
// checks. Mirrors manifold's CheckReachability.
func (e *HTTPEmbedder) Ping(ctx context.Context) error {
	_, err := e.EmbedBatch(ctx, []string{"ping"})
	return err
}
