package encoders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenizeWords(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(s), -1) {
		out[w] = true
	}
	return out
}

// LexicalCrossEncoder scores query/doc pairs by term overlap. It stands in
// for the external cross-encoder model call when no remote reranker is
// configured, so rerank is never a hard dependency on a model endpoint.
type LexicalCrossEncoder struct{}

// NewLexicalCrossEncoder returns the term-overlap fallback cross-encoder.
func NewLexicalCrossEncoder() *LexicalCrossEncoder { return &LexicalCrossEncoder{} }

// Score computes a term-overlap ratio in [0,1] between query and each doc.
func (c *LexicalCrossEncoder) Score(_ context.Context, query string, docs []string) ([]float32, error) {
	queryTokens := tokenizeWords(query)
	scores := make([]float32, len(docs))
	if len(queryTokens) == 0 {
		return scores, nil
	}
	for i, doc := range docs {
		docTokens := tokenizeWords(doc)
		if len(docTokens) == 0 {
			continue
		}
		var overlap int
		for t := range queryTokens {
			if docTokens[t] {
				overlap++
			}
		}
		scores[i] = float32(overlap) / float32(len(queryTokens))
	}
	return scores, nil
}

// RemoteCrossEncoderConfig configures an HTTP-backed cross-encoder model
// call.
type RemoteCrossEncoderConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// RemoteCrossEncoder calls an external cross-encoder scoring endpoint.
type RemoteCrossEncoder struct {
	cfg    RemoteCrossEncoderConfig
	client *http.Client
}

// NewRemoteCrossEncoder constructs an HTTP-backed cross-encoder.
func NewRemoteCrossEncoder(cfg RemoteCrossEncoderConfig) *RemoteCrossEncoder {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RemoteCrossEncoder{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type crossEncodeRequest struct {
	Query string   `json:"query"`
	Docs  []string `json:"docs"`
}

// Score sends (query, docs) to the remote cross-encoder and returns one
// score per doc, in order.
func (c *RemoteCrossEncoder) Score(ctx context.Context, query string, docs []string) ([]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(crossEncodeRequest{Query: query, Docs: docs})
	if err != nil {
		return nil, fmt.Errorf("marshal cross-encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build cross-encode request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cross-encode request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cross-encode request failed: status %d", resp.StatusCode)
	}

	var scores []float32
	if err := json.NewDecoder(resp.Body).Decode(&scores); err != nil {
		return nil, fmt.Errorf("decode cross-encode response: %w", err)
	}
	return scores, nil
}
