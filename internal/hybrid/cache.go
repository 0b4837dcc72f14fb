package hybrid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/vortexdb/vortex/internal/vectorstore"
)

const semanticCacheCollection = "semantic_cache"

// SemanticCache stores and retrieves fused search results keyed by the
// dense query vector, scoped per user_id. Writes never pre-scrub; reads
// always do, so a lookup hit for one user's cached entry can never leak to
// another (the caller still runs scrubResults on whatever Lookup returns).
type SemanticCache struct {
	store     vectorstore.Client
	threshold float32
}

// NewSemanticCache wires the cache to its dedicated collection. threshold
// defaults to 0.95 if <= 0.
func NewSemanticCache(store vectorstore.Client, threshold float32) *SemanticCache {
	if threshold <= 0 {
		threshold = 0.95
	}
	return &SemanticCache{store: store, threshold: threshold}
}

// cacheKey derives a deterministic point ID over (query_text, user_id).
func cacheKey(queryText, userID string) string {
	sum := sha256.Sum256([]byte(queryText + "\x00" + userID))
	return hex.EncodeToString(sum[:])
}

// Lookup queries the semantic cache collection with the dense query vector;
// a hit must exceed the similarity threshold and match user_id. Lookup
// itself only returns what this user wrote; the caller still runs
// scrubResults on the decoded entry before emitting it.
func (c *SemanticCache) Lookup(ctx context.Context, queryVector []float32, userID string) ([]Result, bool, error) {
	if len(queryVector) == 0 {
		return nil, false, nil
	}
	filter := vectorstore.Filter{Must: []vectorstore.Condition{
		{Key: "user_id", Match: &vectorstore.Match{Value: userID}},
	}}
	hits, err := c.store.Search(ctx, semanticCacheCollection, vectorstore.VectorDense,
		vectorstore.Vectors{Dense: queryVector}, 1, &filter, true)
	if err != nil {
		return nil, false, fmt.Errorf("hybrid: semantic cache search: %w", err)
	}
	if len(hits) == 0 || hits[0].Score < c.threshold {
		return nil, false, nil
	}

	raw, ok := hits[0].Payload["results"].(string)
	if !ok {
		return nil, false, nil
	}
	var results []Result
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, false, fmt.Errorf("hybrid: decode cache entry: %w", err)
	}
	return results, true, nil
}

// Store writes the fused result list under a deterministic key derived
// from (query_text, user_id). Cache writes include user_id in payload so a
// later Lookup can be scoped to the same user.
func (c *SemanticCache) Store(ctx context.Context, queryText, userID string, queryVector []float32, results []Result) error {
	if len(queryVector) == 0 {
		return nil
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("hybrid: encode cache entry: %w", err)
	}
	point := vectorstore.Point{
		ID:      cacheKey(queryText, userID),
		Vectors: vectorstore.Vectors{Dense: queryVector},
		Payload: map[string]any{
			"user_id":    userID,
			"query_text": queryText,
			"results":    string(encoded),
		},
	}
	return c.store.Upsert(ctx, semanticCacheCollection, []vectorstore.Point{point})
}
