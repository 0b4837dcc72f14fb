package encoders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

var (
	ErrEmptyInput      = errors.New("empty input texts")
	ErrEmbeddingFailed = errors.New("dense embedding request failed")
)

// RemoteDenseConfig configures an HTTP-backed dense encoder, following the
// same text-embeddings-inference contract the teacher's embedding service
// speaks.
type RemoteDenseConfig struct {
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// RemoteDense calls an external embeddings HTTP endpoint and L2-normalizes
// the result.
type RemoteDense struct {
	cfg    RemoteDenseConfig
	client *http.Client
}

// NewRemoteDense constructs a dense encoder backed by an HTTP embeddings
// service.
func NewRemoteDense(cfg RemoteDenseConfig) (*RemoteDense, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrEmbeddingFailed)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RemoteDense{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type denseRequest struct {
	Inputs []string `json:"inputs"`
}

// Embed sends texts to the remote embedding service and L2-normalizes each
// resulting vector.
func (d *RemoteDense) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	body, err := json.Marshal(denseRequest{Inputs: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(b))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	for i := range vectors {
		normalize(vectors[i])
	}
	return vectors, nil
}

// Dimension returns the configured output dimension.
func (d *RemoteDense) Dimension() int { return d.cfg.Dimension }

// Close is a no-op; the encoder holds no persistent resources beyond an
// HTTP client.
func (d *RemoteDense) Close() error { return nil }

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range v {
		v[i] /= norm
	}
}
