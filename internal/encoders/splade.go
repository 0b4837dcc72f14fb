package encoders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"
)

// SpladeConfig configures a remote SPLADE expansion model call.
type SpladeConfig struct {
	BaseURL   string
	ModelName string
	MaxLength int
	Threshold float32
	TopK      int
	Enabled   bool
	Timeout   time.Duration
}

// RemoteSplade calls an external masked-LM logits endpoint and applies
// log(1+relu(x)) to each returned (index, logit) pair, thresholded and
// top-k capped. No max over token positions is taken here.
type RemoteSplade struct {
	cfg    SpladeConfig
	client *http.Client
}

// NewRemoteSplade constructs a SPLADE encoder. When cfg.Enabled is false,
// Encode always returns an empty Sparse without making a network call.
func NewRemoteSplade(cfg SpladeConfig) *RemoteSplade {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.TopK == 0 {
		cfg.TopK = 256
	}
	return &RemoteSplade{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// Enabled reports whether SPLADE expansion is turned on by configuration.
func (s *RemoteSplade) Enabled() bool { return s.cfg.Enabled }

type spladeRequest struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length,omitempty"`
}

type spladeResponse struct {
	Indices []uint32  `json:"indices"`
	Logits  []float32 `json:"logits"`
}

// Encode produces the thresholded, top-k-capped sparse expansion vector for
// text. Returns an empty Sparse when SPLADE is disabled by configuration.
func (s *RemoteSplade) Encode(ctx context.Context, text string) (Sparse, error) {
	if !s.cfg.Enabled {
		return Sparse{}, nil
	}

	body, err := json.Marshal(spladeRequest{Text: text, MaxLength: s.cfg.MaxLength})
	if err != nil {
		return Sparse{}, fmt.Errorf("marshal splade request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/splade", bytes.NewReader(body))
	if err != nil {
		return Sparse{}, fmt.Errorf("build splade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Sparse{}, fmt.Errorf("splade request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Sparse{}, fmt.Errorf("splade request failed: status %d", resp.StatusCode)
	}

	var raw spladeResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Sparse{}, fmt.Errorf("decode splade response: %w", err)
	}

	return threshold(raw.Indices, reluLog(raw.Logits), s.cfg.Threshold, s.cfg.TopK), nil
}

// reluLog applies log(1+relu(x)) elementwise, the SPLADE activation.
func reluLog(logits []float32) []float32 {
	out := make([]float32, len(logits))
	for i, x := range logits {
		relu := x
		if relu < 0 {
			relu = 0
		}
		out[i] = float32(math.Log1p(float64(relu)))
	}
	return out
}

// threshold drops values below thresh and caps the result to the topK
// highest-weighted terms.
func threshold(indices []uint32, values []float32, thresh float32, topK int) Sparse {
	type pair struct {
		idx uint32
		val float32
	}
	pairs := make([]pair, 0, len(values))
	for i, v := range values {
		if v < thresh {
			continue
		}
		pairs = append(pairs, pair{idx: indices[i], val: v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].val > pairs[j].val })
	if len(pairs) > topK {
		pairs = pairs[:topK]
	}

	out := Sparse{Indices: make([]uint32, len(pairs)), Values: make([]float32, len(pairs))}
	for i, p := range pairs {
		out.Indices[i] = p.idx
		out.Values[i] = p.val
	}
	return out
}
