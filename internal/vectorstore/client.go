// Package vectorstore provides a typed facade over the external vector
// store backend (Qdrant): collection lifecycle, multi-named-vector upsert
// and search, retrieve/scroll, delete-by-filter, and snapshot management.
package vectorstore

import "context"

// Distance is the similarity metric for a dense vector space.
type Distance int

const (
	DistanceCosine Distance = iota
	DistanceEuclid
	DistanceDot
)

// VectorKind names which named vector a search targets.
type VectorKind string

const (
	VectorDense  VectorKind = "dense"
	VectorSparse VectorKind = "sparse"
	VectorSplade VectorKind = "splade"
)

// SparseVector is a sparse vector over an implicit vocabulary.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Vectors bundles the named vectors carried by one point.
type Vectors struct {
	Dense  []float32
	Sparse *SparseVector
	Splade *SparseVector
}

// Point is one upsert unit: a point ID, its named vectors, and payload.
type Point struct {
	ID      string
	Vectors Vectors
	Payload map[string]any
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      string
	Score   float32
	Payload map[string]any
	Vectors *Vectors
}

// Match constrains a FieldCondition to either a single value or membership
// in a set of values.
type Match struct {
	Value any
	Any   []any
}

// RangeCondition constrains a numeric field to an interval.
type RangeCondition struct {
	Gt, Gte, Lt, Lte *float64
}

// Condition is either a field match or a field range; exactly one of Match
// or Range should be set.
type Condition struct {
	Key   string
	Match *Match
	Range *RangeCondition
}

// Filter composes conditions with boolean must/should/must_not semantics,
// matching the spec's filter grammar.
type Filter struct {
	Must    []Condition
	Should  []Condition
	MustNot []Condition
}

// SparseConfig names one sparse sub-vector carried by a collection.
type SparseConfig struct {
	Name string
}

// HNSWConfig carries HNSW index tuning knobs.
type HNSWConfig struct {
	M              int
	EFConstruct    int
	FullScanThresh int
}

// QuantizationConfig carries vector quantization knobs.
type QuantizationConfig struct {
	Enabled bool
	Type    string // e.g. "scalar", "product"
}

// CollectionSpec describes a collection's schema at creation time.
type CollectionSpec struct {
	Name          string
	DenseSize     int
	Distance      Distance
	SparseVectors []SparseConfig
	HNSW          *HNSWConfig
	Quantization  *QuantizationConfig
}

// CollectionInfo summarizes a collection's current state.
type CollectionInfo struct {
	Name        string
	PointsCount uint64
	VectorSize  int
	Status      string
}

// ScrollCursor opaquely resumes a scroll from where the previous call left
// off.
type ScrollCursor struct {
	Offset string
}

// Snapshot describes a point-in-time collection snapshot.
type Snapshot struct {
	Name string
	Path string
}

// Client is the typed facade every search and ingest service depends on.
type Client interface {
	CreateCollection(ctx context.Context, spec CollectionSpec) error
	DeleteCollection(ctx context.Context, name string) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	ListCollections(ctx context.Context) ([]CollectionInfo, error)
	GetCollectionInfo(ctx context.Context, name string) (CollectionInfo, error)

	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, using VectorKind, query Vectors, limit int, filter *Filter, withPayload bool) ([]ScoredPoint, error)
	Retrieve(ctx context.Context, collection string, ids []string, withPayload bool) ([]Point, error)
	Scroll(ctx context.Context, collection string, filter *Filter, limit int, cursor *ScrollCursor, withPayload bool) ([]Point, *ScrollCursor, error)
	Delete(ctx context.Context, collection string, filter Filter) error

	CreateSnapshot(ctx context.Context, collection string) (Snapshot, error)
	ListSnapshots(ctx context.Context, collection string) ([]Snapshot, error)
	DownloadSnapshot(ctx context.Context, collection, snapshotName, destPath string) error
	UploadSnapshot(ctx context.Context, collection, sourcePath string) error

	Close() error
}
