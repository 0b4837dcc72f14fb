// Package encoders wraps the four embedding functions used by the ingestion
// and search pipelines: dense, BM25 sparse, SPLADE sparse expansion, and
// cross-encoder rerank. Each is treated as a pure function over text; the
// concrete models are external collaborators reached over HTTP or computed
// in-process from fitted statistics.
package encoders

import "context"

// Sparse is a sparse vector over an implicit vocabulary: parallel
// indices/values slices, as the vector store backend expects them.
type Sparse struct {
	Indices []uint32
	Values  []float32
}

// Empty reports whether the sparse vector carries no terms.
func (s Sparse) Empty() bool { return len(s.Indices) == 0 }

// Dense produces L2-normalized fixed-dimension embeddings.
type Dense interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Close() error
}

// BM25 produces sparse vectors over a vocabulary established by a prior Fit
// over a corpus. Encode on an unfit model returns an empty Sparse rather
// than failing: unfit state is a legal startup condition.
type BM25 interface {
	Fit(ctx context.Context, corpus []string) error
	Fitted() bool
	Encode(text string) Sparse
	Save(path string) error
	Load(path string) error
}

// SPLADE produces a sparse expansion vector from a masked-LM. Disabled by
// configuration returns an empty Sparse.
type SPLADE interface {
	Encode(ctx context.Context, text string) (Sparse, error)
	Enabled() bool
}

// CrossEncoder scores (query, doc) pairs for rerank. Used only in rerank,
// never on the ingest path.
type CrossEncoder interface {
	Score(ctx context.Context, query string, docs []string) ([]float32, error)
}

// Set bundles the four encoders the pipeline needs.
type Set struct {
	Dense        Dense
	BM25         BM25
	SPLADE       SPLADE
	CrossEncoder CrossEncoder
}
