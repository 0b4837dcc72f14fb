// Package hybrid implements the cross-collection hybrid search pipeline:
// dense/BM25/SPLADE fan-out, chunk-to-document dedup, score fusion,
// optional cross-encoder rerank, date boosting, tenancy scrubbing, and an
// optional semantic cache.
package hybrid

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/vortexdb/vortex/internal/access"
	"github.com/vortexdb/vortex/internal/encoders"
	"github.com/vortexdb/vortex/internal/metrics"
	"github.com/vortexdb/vortex/internal/queryfilter"
	"github.com/vortexdb/vortex/internal/vectorstore"
)

// FusionStrategy selects how per-vector-kind scores are combined.
type FusionStrategy string

const (
	FusionWeighted FusionStrategy = "weighted"
	FusionRRF      FusionStrategy = "rrf"
)

// Weights tunes the contribution of each vector kind, plus date-boost
// parameters.
type Weights struct {
	Dense  float64
	Sparse float64
	Splade float64

	RRFK int // default 60

	DateBoostEnabled bool
	DateDecayRate    float64 // default 0.05
	DateWeight       float64 // default 0.3
}

func (w Weights) withDefaults() Weights {
	if w.Dense == 0 && w.Sparse == 0 && w.Splade == 0 {
		w.Dense, w.Sparse, w.Splade = 0.6, 0.3, 0.1
	}
	if w.RRFK == 0 {
		w.RRFK = 60
	}
	if w.DateDecayRate == 0 {
		w.DateDecayRate = 0.05
	}
	if w.DateWeight == 0 {
		w.DateWeight = 0.3
	}
	return w
}

// Request is one hybrid search call.
type Request struct {
	QueryText       string
	TopK            int
	Collections     []string
	User            *access.User
	Fusion          FusionStrategy
	Weights         Weights
	Rerank          bool
	RerankRequested bool // true if caller explicitly set Rerank, overriding the default-on
	ScanCap         int
}

// Result is a fused, deduplicated, scrubbed search hit.
type Result struct {
	ParentID string
	Score    float64
	Payload  map[string]any
}

// Pipeline wires the vector store, encoders, and scoring stages together.
type Pipeline struct {
	store       vectorstore.Client
	encoders    encoders.Set
	log         *zap.Logger
	defaultScan int
	cache       *SemanticCache
}

// New constructs a HybridSearchPipeline. cache may be nil to disable the
// semantic cache.
func New(store vectorstore.Client, enc encoders.Set, log *zap.Logger, cache *SemanticCache) *Pipeline {
	return &Pipeline{store: store, encoders: enc, log: log, defaultScan: 500, cache: cache}
}

// Search runs the full received → fan-out → fuse → dedup → rerank → boost
// → scrub state machine, returning up to req.TopK results.
func (p *Pipeline) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.ScanCap <= 0 {
		req.ScanCap = p.defaultScan
	}
	weights := req.Weights.withDefaults()
	if req.User == nil {
		return nil, access.ErrMissingUser
	}

	encodeStart := time.Now()
	queryVecs, err := p.encodeQuery(ctx, req.QueryText)
	metrics.SearchLatency.WithLabelValues("encode").Observe(time.Since(encodeStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("hybrid: encode query: %w", err)
	}

	if p.cache != nil {
		if hit, ok, err := p.cache.Lookup(ctx, queryVecs.Dense, req.User.UserID); err != nil {
			p.log.Warn("hybrid: semantic cache lookup failed, falling through to live search", zap.Error(err))
		} else if ok {
			return p.scrubResults(hit, req.User), nil
		}
	}

	fanOutStart := time.Now()
	candidates, anyBackendReachable := p.fanOut(ctx, req, queryVecs, weights)
	metrics.SearchLatency.WithLabelValues("fanout").Observe(time.Since(fanOutStart).Seconds())
	if !anyBackendReachable {
		return nil, fmt.Errorf("hybrid: all collection backends unreachable")
	}

	fused := p.fuse(candidates, req.Fusion, weights)
	docs := p.collapse(fused)

	if rerankEnabled(req) && p.encoders.CrossEncoder != nil {
		rerankStart := time.Now()
		docs = p.rerank(ctx, req.QueryText, docs)
		metrics.SearchLatency.WithLabelValues("rerank").Observe(time.Since(rerankStart).Seconds())
	}

	if weights.DateBoostEnabled {
		docs = p.dateBoost(docs, weights)
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > req.TopK {
		docs = docs[:req.TopK]
	}

	scrubbed := p.scrubDocs(docs, req.User)

	if p.cache != nil {
		if err := p.cache.Store(ctx, req.QueryText, req.User.UserID, queryVecs.Dense, scrubbed); err != nil {
			p.log.Warn("hybrid: semantic cache write failed", zap.Error(err))
		}
	}
	return scrubbed, nil
}

func rerankEnabled(req Request) bool {
	if req.RerankRequested {
		return req.Rerank
	}
	return true // enabled by default per spec
}

func (p *Pipeline) encodeQuery(ctx context.Context, text string) (vectorstore.Vectors, error) {
	vecs := vectorstore.Vectors{}
	if p.encoders.Dense != nil {
		embeds, err := p.encoders.Dense.Embed(ctx, []string{text})
		if err != nil {
			return vecs, err
		}
		if len(embeds) > 0 {
			vecs.Dense = embeds[0]
		}
	}
	if p.encoders.BM25 != nil {
		sp := p.encoders.BM25.Encode(text)
		if !sp.Empty() {
			vecs.Sparse = &vectorstore.SparseVector{Indices: sp.Indices, Values: sp.Values}
		}
	}
	if p.encoders.SPLADE != nil && p.encoders.SPLADE.Enabled() {
		sp, err := p.encoders.SPLADE.Encode(ctx, text)
		if err == nil && !sp.Empty() {
			vecs.Splade = &vectorstore.SparseVector{Indices: sp.Indices, Values: sp.Values}
		}
	}
	return vecs, nil
}

// candidateHit is one per-collection, per-kind scored chunk hit, still
// chunk-level (not yet collapsed to a document).
type candidateHit struct {
	collection string
	kind       vectorstore.VectorKind
	point      vectorstore.ScoredPoint
	rank       int
}

func tenancyFilter(u *access.User) vectorstore.Filter {
	ceiling, ok := access.AccessLevelCeiling[u.Role]
	if !ok {
		ceiling = 0
	}
	tenantMatch := vectorstore.Condition{
		Key: "tenant_id",
		Match: &vectorstore.Match{Any: []any{u.UserID, "public"}},
	}
	accessCeiling := vectorstore.Condition{
		Key:   "access_level",
		Range: &vectorstore.RangeCondition{Lte: floatPtr(float64(ceiling))},
	}
	return vectorstore.Filter{Must: []vectorstore.Condition{tenantMatch, accessCeiling}}
}

func floatPtr(f float64) *float64 { return &f }

// fanOut runs the per-collection, per-vector-kind search, keeping up to
// top_k hits with distinct parent_ids from one search page per collection
// and kind (see uniqueDocumentHits). The
// second return reports whether at least one collection/kind was
// reachable, distinguishing a total outage from a merely empty result.
func (p *Pipeline) fanOut(ctx context.Context, req Request, queryVecs vectorstore.Vectors, weights Weights) ([]candidateHit, bool) {
	filter := tenancyFilter(req.User)
	filter.Must = append(filter.Must, queryfilter.Extract(req.QueryText)...)
	var out []candidateHit
	reachable := false

	kinds := []struct {
		kind vectorstore.VectorKind
		vecs vectorstore.Vectors
	}{
		{vectorstore.VectorDense, vectorstore.Vectors{Dense: queryVecs.Dense}},
	}
	if queryVecs.Sparse != nil {
		kinds = append(kinds, struct {
			kind vectorstore.VectorKind
			vecs vectorstore.Vectors
		}{vectorstore.VectorSparse, vectorstore.Vectors{Sparse: queryVecs.Sparse}})
	}
	if queryVecs.Splade != nil {
		kinds = append(kinds, struct {
			kind vectorstore.VectorKind
			vecs vectorstore.Vectors
		}{vectorstore.VectorSplade, vectorstore.Vectors{Splade: queryVecs.Splade}})
	}

	for _, collection := range req.Collections {
		for _, k := range kinds {
			hits, err := p.uniqueDocumentHits(ctx, collection, k.kind, k.vecs, filter, req.TopK, req.ScanCap)
			if err != nil {
				p.log.Warn("hybrid: collection search failed, contributing empty",
					zap.String("collection", collection), zap.String("kind", string(k.kind)), zap.Error(err))
				continue
			}
			reachable = true
			for rank, h := range hits {
				out = append(out, candidateHit{collection: collection, kind: k.kind, point: h, rank: rank})
			}
		}
	}
	return out, reachable
}

// uniqueDocumentHits runs one Search of max(3*topK, 20) points against
// collection and keeps up to topK hits with distinct parent_id payload
// values, stopping early once scanCap points have been examined. No further
// pages are fetched, so fewer than topK distinct parents are returned when
// that first page holds too many chunks of the same parents.
func (p *Pipeline) uniqueDocumentHits(ctx context.Context, collection string, kind vectorstore.VectorKind, queryVec vectorstore.Vectors, filter vectorstore.Filter, topK, scanCap int) ([]vectorstore.ScoredPoint, error) {
	limit := topK * 3
	if limit < 20 {
		limit = 20
	}
	scanned := 0
	seen := map[string]bool{}
	var out []vectorstore.ScoredPoint

	hits, err := p.store.Search(ctx, collection, kind, queryVec, limit, &filter, true)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		scanned++
		parent := parentID(h.Payload)
		if seen[parent] {
			continue
		}
		seen[parent] = true
		out = append(out, h)
		if len(out) >= topK || scanned >= scanCap {
			break
		}
	}
	return out, nil
}

func parentID(payload map[string]any) string {
	if v, ok := payload["parent_id"].(string); ok && v != "" {
		return v
	}
	if v, ok := payload["db_id"].(string); ok {
		return v
	}
	return ""
}

// fuse combines candidateHit scores into per-document-per-collection
// contributions, grouped by parent_id for the collapse stage. Each hit's
// contribution (weighted score or RRF reciprocal rank) is computed here and
// stashed back onto the hit so collapse can just average it.
func (p *Pipeline) fuse(candidates []candidateHit, strategy FusionStrategy, weights Weights) map[string][]candidateHit {
	if strategy == FusionRRF {
		for i := range candidates {
			w := weightFor(weights, candidates[i].kind)
			candidates[i].point.Score = float32(w / float64(weights.RRFK+candidates[i].rank+1))
		}
	} else {
		normalizeWeighted(candidates)
		for i := range candidates {
			w := weightFor(weights, candidates[i].kind)
			candidates[i].point.Score = float32(w * float64(candidates[i].point.Score))
		}
	}

	grouped := map[string][]candidateHit{}
	for _, c := range candidates {
		parent := parentID(c.point.Payload)
		grouped[parent] = append(grouped[parent], c)
	}
	return grouped
}

func normalizeWeighted(candidates []candidateHit) {
	type key struct {
		collection string
		kind       vectorstore.VectorKind
	}
	groups := map[key][]int{}
	for i, c := range candidates {
		k := key{c.collection, c.kind}
		groups[k] = append(groups[k], i)
	}
	for _, idxs := range groups {
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, i := range idxs {
			s := float64(candidates[i].point.Score)
			if s < minV {
				minV = s
			}
			if s > maxV {
				maxV = s
			}
		}
		spread := maxV - minV
		for _, i := range idxs {
			if spread == 0 {
				candidates[i].point.Score = 1
				continue
			}
			candidates[i].point.Score = float32((float64(candidates[i].point.Score) - minV) / spread)
		}
	}
}

func weightFor(weights Weights, kind vectorstore.VectorKind) float64 {
	switch kind {
	case vectorstore.VectorDense:
		return weights.Dense
	case vectorstore.VectorSparse:
		return weights.Sparse
	case vectorstore.VectorSplade:
		return weights.Splade
	}
	return 0
}

// docCandidate is a document with its contributing chunk hits, prior to
// collapse into a single Result.
type docCandidate struct {
	parentID string
	score    float64
	maxChunk float64
	payload  map[string]any
}

// collapse groups chunk-level hits by parent_id, computing the mean
// fused contribution per spec (fuse() has already turned each hit's raw
// score into its weighted or RRF contribution).
func (p *Pipeline) collapse(grouped map[string][]candidateHit) []docCandidate {
	var out []docCandidate
	for parent, hits := range grouped {
		if parent == "" {
			continue
		}
		var sum, maxChunk float64
		var payload map[string]any
		for _, h := range hits {
			contribution := float64(h.point.Score)
			sum += contribution
			if contribution > maxChunk {
				maxChunk = contribution
			}
			if payload == nil {
				payload = h.point.Payload
			}
		}
		mean := sum / float64(len(hits))
		out = append(out, docCandidate{parentID: parent, score: mean, maxChunk: maxChunk, payload: payload})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].maxChunk != out[j].maxChunk {
			return out[i].maxChunk > out[j].maxChunk
		}
		return out[i].parentID < out[j].parentID
	})
	return out
}

// rerank reads each candidate's representative chunk text from its
// "content" payload field and reorders by cross-encoder score. Candidates
// without that text are dropped, not failed; if none remain the fused order
// is returned.
func (p *Pipeline) rerank(ctx context.Context, query string, docs []docCandidate) []docCandidate {
	texts := make([]string, 0, len(docs))
	kept := make([]docCandidate, 0, len(docs))
	for _, d := range docs {
		text, ok := d.payload["content"].(string)
		if !ok || text == "" {
			p.log.Warn("hybrid: dropping candidate with unfetchable text for rerank", zap.String("parent_id", d.parentID))
			continue
		}
		texts = append(texts, text)
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return docs
	}

	scores, err := p.encoders.CrossEncoder.Score(ctx, query, texts)
	if err != nil {
		p.log.Warn("hybrid: cross-encoder rerank failed, falling back to fused order", zap.Error(err))
		return docs
	}
	for i := range kept {
		kept[i].score = float64(scores[i])
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	return kept
}

var datePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// dateBoost rescales each candidate's score by a freshness factor derived
// from a date found in payload fields or text.
func (p *Pipeline) dateBoost(docs []docCandidate, weights Weights) []docCandidate {
	now := time.Now()
	type scored struct {
		doc   docCandidate
		fresh float64
	}
	freshVals := make([]scored, len(docs))
	for i, d := range docs {
		t, ok := extractDate(d.payload)
		fresh := 0.5 // neutral if no date found
		if ok {
			deltaDays := now.Sub(t).Hours() / 24
			if deltaDays < 0 {
				deltaDays = 0
			}
			fresh = math.Exp(-weights.DateDecayRate * deltaDays)
		}
		freshVals[i] = scored{doc: d, fresh: fresh}
	}

	minS, maxS := math.Inf(1), math.Inf(-1)
	for _, s := range freshVals {
		if s.doc.score < minS {
			minS = s.doc.score
		}
		if s.doc.score > maxS {
			maxS = s.doc.score
		}
	}
	spread := maxS - minS

	out := make([]docCandidate, len(docs))
	for i, s := range freshVals {
		normalized := 0.5
		if spread != 0 {
			normalized = (s.doc.score - minS) / spread
		}
		final := normalized * math.Exp(weights.DateWeight*(s.fresh-0.5))
		d := s.doc
		d.score = final
		out[i] = d
	}
	return out
}

func extractDate(payload map[string]any) (time.Time, bool) {
	for _, key := range []string{"date", "start", "finish"} {
		if v, ok := payload[key].(string); ok {
			if t, err := time.Parse("2006-01-02", v); err == nil {
				return t, true
			}
		}
	}
	if meta, ok := payload["meta"].(map[string]any); ok {
		if v, ok := meta["date"].(string); ok {
			if t, err := time.Parse("2006-01-02", v); err == nil {
				return t, true
			}
		}
	}
	if text, ok := payload["_text"].(string); ok {
		if m := datePattern.FindString(text); m != "" {
			if t, err := time.Parse("2006-01-02", m); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// scrubDocs converts docCandidates to Results, dropping any that fail the
// tenancy/access check. Every result should already satisfy the store-side
// filter, but this defensive re-check is what the semantic cache path
// reuses (via scrubResults) since a cached entry may have been written by
// a different user.
func (p *Pipeline) scrubDocs(docs []docCandidate, u *access.User) []Result {
	results := make([]Result, len(docs))
	for i, d := range docs {
		results[i] = Result{ParentID: d.parentID, Score: d.score, Payload: d.payload}
	}
	return p.scrubResults(results, u)
}

// scrubResults re-applies the tenancy/access check to already-built
// Results. Results are always scrubbed on read, never on write, so a
// semantic-cache hit written by one user is re-filtered before it is ever
// returned to another.
func (p *Pipeline) scrubResults(results []Result, u *access.User) []Result {
	ceiling := access.AccessLevelCeiling[u.Role]
	out := make([]Result, 0, len(results))
	for _, r := range results {
		tenant, _ := r.Payload["tenant_id"].(string)
		if tenant != u.UserID && tenant != "public" {
			continue
		}
		level := 0
		switch v := r.Payload["access_level"].(type) {
		case int:
			level = v
		case float64:
			level = int(v)
		}
		if level > ceiling {
			continue
		}
		out = append(out, r)
	}
	return out
}
