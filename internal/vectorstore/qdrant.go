package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

var tracer = otel.Tracer("vortexdb/vectorstore")

// QdrantConfig configures the gRPC connection to the backend.
type QdrantConfig struct {
	Host              string
	Port              int
	APIKey            string
	UseTLS            bool
	DialTimeout       time.Duration
	RequestTimeout    time.Duration
	RetryAttempts     int
	CircuitBreakerMax int // consecutive failures before the circuit opens
	CircuitResetAfter time.Duration
}

func (c QdrantConfig) withDefaults() QdrantConfig {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.CircuitBreakerMax == 0 {
		c.CircuitBreakerMax = 5
	}
	if c.CircuitResetAfter == 0 {
		c.CircuitResetAfter = 30 * time.Second
	}
	return c
}

// QdrantStore is the Client implementation backed by Qdrant's gRPC API.
type QdrantStore struct {
	cfg            QdrantConfig
	conn           *grpc.ClientConn
	collectionsSvc qdrant.CollectionsClient
	pointsSvc      qdrant.PointsClient
	snapshotsSvc   qdrant.SnapshotsClient

	mu              sync.Mutex
	consecutiveFail int
	circuitOpenedAt time.Time
}

// NewQdrantStore dials the backend and returns a ready Client.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	cfg = cfg.withDefaults()

	var creds credentials.TransportCredentials
	if cfg.UseTLS {
		creds = credentials.NewTLS(nil)
	} else {
		creds = insecure.NewCredentials()
	}

	target := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialCtx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	var dialOpts []grpc.DialOption
	dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
	if cfg.APIKey != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(apiKeyCreds{key: cfg.APIKey, insecureOK: !cfg.UseTLS}))
	}

	conn, err := grpc.DialContext(dialCtx, target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial qdrant at %s: %w", target, err)
	}

	return &QdrantStore{
		cfg:            cfg,
		conn:           conn,
		collectionsSvc: qdrant.NewCollectionsClient(conn),
		pointsSvc:      qdrant.NewPointsClient(conn),
		snapshotsSvc:   qdrant.NewSnapshotsClient(conn),
	}, nil
}

// apiKeyCreds attaches the API key as gRPC per-RPC credentials.
type apiKeyCreds struct {
	key        string
	insecureOK bool
}

func (a apiKeyCreds) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.key}, nil
}

func (a apiKeyCreds) RequireTransportSecurity() bool { return !a.insecureOK }

// IsTransientError reports whether err is likely to succeed on retry.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || !errors.Is(err, errPermanent)
}

var errPermanent = errors.New("permanent vectorstore error")

func (q *QdrantStore) isCircuitOpen() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.consecutiveFail < q.cfg.CircuitBreakerMax {
		return false
	}
	if time.Since(q.circuitOpenedAt) > q.cfg.CircuitResetAfter {
		q.consecutiveFail = 0
		return false
	}
	return true
}

func (q *QdrantStore) recordFailure() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consecutiveFail++
	if q.consecutiveFail == q.cfg.CircuitBreakerMax {
		q.circuitOpenedAt = time.Now()
	}
}

func (q *QdrantStore) recordSuccess() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consecutiveFail = 0
}

// retryOperation runs op with bounded exponential backoff, short-circuiting
// when the breaker is open.
func (q *QdrantStore) retryOperation(ctx context.Context, name string, op func(ctx context.Context) error) error {
	if q.isCircuitOpen() {
		return fmt.Errorf("%w: circuit open for %s", errUpstreamUnavailable, name)
	}

	ctx, span := tracer.Start(ctx, "vectorstore."+name)
	defer span.End()

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt < q.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, q.cfg.RequestTimeout)
		err := op(callCtx)
		cancel()
		if err == nil {
			q.recordSuccess()
			return nil
		}
		lastErr = err
		if !IsTransientError(err) {
			break
		}
	}

	q.recordFailure()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return fmt.Errorf("%w: %s: %v", errUpstreamUnavailable, name, lastErr)
}

var errUpstreamUnavailable = errors.New("vector store unavailable")

func toDistance(d Distance) qdrant.Distance {
	switch d {
	case DistanceEuclid:
		return qdrant.Distance_Euclid
	case DistanceDot:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Cosine
	}
}

func (q *QdrantStore) CreateCollection(ctx context.Context, spec CollectionSpec) error {
	sparseCfg := map[string]*qdrant.SparseVectorParams{}
	for _, sv := range spec.SparseVectors {
		sparseCfg[sv.Name] = &qdrant.SparseVectorParams{}
	}

	req := &qdrant.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_ParamsMap{
				ParamsMap: &qdrant.VectorParamsMap{
					Map: map[string]*qdrant.VectorParams{
						string(VectorDense): {
							Size:     uint64(spec.DenseSize),
							Distance: toDistance(spec.Distance),
						},
					},
				},
			},
		},
	}
	if len(sparseCfg) > 0 {
		req.SparseVectorsConfig = &qdrant.SparseVectorConfig{Map: sparseCfg}
	}
	if spec.HNSW != nil {
		req.HnswConfig = &qdrant.HnswConfigDiff{
			M:                  ptrUint64(uint64(spec.HNSW.M)),
			EfConstruct:        ptrUint64(uint64(spec.HNSW.EFConstruct)),
			FullScanThreshold:  ptrUint64(uint64(spec.HNSW.FullScanThresh)),
		}
	}

	return q.retryOperation(ctx, "create_collection", func(ctx context.Context) error {
		_, err := q.collectionsSvc.Create(ctx, req)
		return err
	})
}

func ptrUint64(v uint64) *uint64 { return &v }

func (q *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	return q.retryOperation(ctx, "delete_collection", func(ctx context.Context) error {
		_, err := q.collectionsSvc.Delete(ctx, &qdrant.DeleteCollection{CollectionName: name})
		return err
	})
}

func (q *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	infos, err := q.ListCollections(ctx)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (q *QdrantStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	var out []CollectionInfo
	err := q.retryOperation(ctx, "list_collections", func(ctx context.Context) error {
		resp, err := q.collectionsSvc.List(ctx, &qdrant.ListCollectionsRequest{})
		if err != nil {
			return err
		}
		out = make([]CollectionInfo, 0, len(resp.Collections))
		for _, c := range resp.Collections {
			out = append(out, CollectionInfo{Name: c.Name})
		}
		return nil
	})
	return out, err
}

func (q *QdrantStore) GetCollectionInfo(ctx context.Context, name string) (CollectionInfo, error) {
	var out CollectionInfo
	err := q.retryOperation(ctx, "get_collection_info", func(ctx context.Context) error {
		resp, err := q.collectionsSvc.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: name})
		if err != nil {
			return err
		}
		out = CollectionInfo{Name: name, Status: resp.Result.Status.String()}
		if resp.Result.PointsCount != nil {
			out.PointsCount = *resp.Result.PointsCount
		}
		return nil
	})
	return out, err
}

func toPointID(id string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}}
}

func toValue(v any) *qdrant.Value {
	switch val := v.(type) {
	case string:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
	case bool:
		return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
	case int:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
	case float32:
		return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
	default:
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprint(val)}}
	}
}

func fromValue(v *qdrant.Value) any {
	switch k := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return k.StringValue
	case *qdrant.Value_BoolValue:
		return k.BoolValue
	case *qdrant.Value_IntegerValue:
		return k.IntegerValue
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	default:
		return nil
	}
}

func toPayload(m map[string]any) map[string]*qdrant.Value {
	out := make(map[string]*qdrant.Value, len(m))
	for k, v := range m {
		out[k] = toValue(v)
	}
	return out
}

func fromPayload(m map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = fromValue(v)
	}
	return out
}

func toNamedVectors(v Vectors) *qdrant.Vectors {
	named := map[string]*qdrant.Vector{}
	if len(v.Dense) > 0 {
		named[string(VectorDense)] = &qdrant.Vector{Data: v.Dense}
	}
	if v.Sparse != nil && !v.Sparse.empty() {
		named[string(VectorSparse)] = &qdrant.Vector{
			Data:    v.Sparse.Values,
			Indices: &qdrant.SparseIndices{Data: v.Sparse.Indices},
		}
	}
	if v.Splade != nil && !v.Splade.empty() {
		named[string(VectorSplade)] = &qdrant.Vector{
			Data:    v.Splade.Values,
			Indices: &qdrant.SparseIndices{Data: v.Splade.Indices},
		}
	}
	return &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vectors{Vectors: &qdrant.NamedVectors{Vectors: named}}}
}

func (s *SparseVector) empty() bool { return s == nil || len(s.Indices) == 0 }

func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	pbPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		pbPoints[i] = &qdrant.PointStruct{
			Id:      toPointID(p.ID),
			Vectors: toNamedVectors(p.Vectors),
			Payload: toPayload(p.Payload),
		}
	}
	return q.retryOperation(ctx, "upsert", func(ctx context.Context) error {
		_, err := q.pointsSvc.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         pbPoints,
		})
		return err
	})
}

func toFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}
	return &qdrant.Filter{
		Must:    toConditions(f.Must),
		Should:  toConditions(f.Should),
		MustNot: toConditions(f.MustNot),
	}
}

func toConditions(conds []Condition) []*qdrant.Condition {
	out := make([]*qdrant.Condition, 0, len(conds))
	for _, c := range conds {
		out = append(out, toCondition(c))
	}
	return out
}

func toCondition(c Condition) *qdrant.Condition {
	if c.Match != nil {
		fc := &qdrant.FieldCondition{Key: c.Key}
		if c.Match.Any != nil {
			strs := make([]string, 0, len(c.Match.Any))
			for _, a := range c.Match.Any {
				strs = append(strs, fmt.Sprint(a))
			}
			fc.Match = &qdrant.Match{MatchValue: &qdrant.Match_Keywords{Keywords: &qdrant.RepeatedStrings{Strings: strs}}}
		} else {
			fc.Match = matchValue(c.Match.Value)
		}
		return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Field{Field: fc}}
	}
	if c.Range != nil {
		fc := &qdrant.FieldCondition{
			Key:   c.Key,
			Range: &qdrant.Range{Gt: c.Range.Gt, Gte: c.Range.Gte, Lt: c.Range.Lt, Lte: c.Range.Lte},
		}
		return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Field{Field: fc}}
	}
	return &qdrant.Condition{}
}

func matchValue(v any) *qdrant.Match {
	switch val := v.(type) {
	case string:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: val}}
	case bool:
		return &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: val}}
	case int:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(val)}}
	case int64:
		return &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: val}}
	default:
		return &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprint(val)}}
	}
}

func (q *QdrantStore) Search(ctx context.Context, collection string, using VectorKind, query Vectors, limit int, filter *Filter, withPayload bool) ([]ScoredPoint, error) {
	var queryVec []float32
	var sparseIdx *qdrant.SparseIndices
	switch using {
	case VectorDense:
		queryVec = query.Dense
	case VectorSparse:
		if query.Sparse != nil {
			queryVec = query.Sparse.Values
			sparseIdx = &qdrant.SparseIndices{Data: query.Sparse.Indices}
		}
	case VectorSplade:
		if query.Splade != nil {
			queryVec = query.Splade.Values
			sparseIdx = &qdrant.SparseIndices{Data: query.Splade.Indices}
		}
	}

	req := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         queryVec,
		VectorName:     strPtr(string(using)),
		Limit:          uint64(limit),
		Filter:         toFilter(filter),
		WithPayload:    withPayloadSelector(withPayload),
		SparseIndices:  sparseIdx,
	}

	var out []ScoredPoint
	_, span := tracer.Start(ctx, "vectorstore.search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.String("vector_kind", string(using)))

	err := q.retryOperation(ctx, "search", func(ctx context.Context) error {
		resp, err := q.pointsSvc.Search(ctx, req)
		if err != nil {
			return err
		}
		out = make([]ScoredPoint, 0, len(resp.Result))
		for _, sp := range resp.Result {
			out = append(out, ScoredPoint{
				ID:      extractID(sp.Id),
				Score:   sp.Score,
				Payload: fromPayload(sp.Payload),
			})
		}
		return nil
	})
	return out, err
}

func strPtr(s string) *string { return &s }

func withPayloadSelector(enabled bool) *qdrant.WithPayloadSelector {
	return &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: enabled}}
}

func extractID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func (q *QdrantStore) Retrieve(ctx context.Context, collection string, ids []string, withPayload bool) ([]Point, error) {
	pbIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pbIDs[i] = toPointID(id)
	}

	var out []Point
	err := q.retryOperation(ctx, "retrieve", func(ctx context.Context) error {
		resp, err := q.pointsSvc.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            pbIDs,
			WithPayload:    withPayloadSelector(withPayload),
		})
		if err != nil {
			return err
		}
		out = make([]Point, 0, len(resp.Result))
		for _, rp := range resp.Result {
			out = append(out, Point{ID: extractID(rp.Id), Payload: fromPayload(rp.Payload)})
		}
		return nil
	})
	return out, err
}

func (q *QdrantStore) Scroll(ctx context.Context, collection string, filter *Filter, limit int, cursor *ScrollCursor, withPayload bool) ([]Point, *ScrollCursor, error) {
	req := &qdrant.ScrollPoints{
		CollectionName: collection,
		Filter:         toFilter(filter),
		Limit:          ptrUint32(uint32(limit)),
		WithPayload:    withPayloadSelector(withPayload),
	}
	if cursor != nil && cursor.Offset != "" {
		req.Offset = toPointID(cursor.Offset)
	}

	var out []Point
	var next *ScrollCursor
	err := q.retryOperation(ctx, "scroll", func(ctx context.Context) error {
		resp, err := q.pointsSvc.Scroll(ctx, req)
		if err != nil {
			return err
		}
		out = make([]Point, 0, len(resp.Result))
		for _, rp := range resp.Result {
			out = append(out, Point{ID: extractID(rp.Id), Payload: fromPayload(rp.Payload)})
		}
		if resp.NextPageOffset != nil {
			next = &ScrollCursor{Offset: extractID(resp.NextPageOffset)}
		}
		return nil
	})
	return out, next, err
}

func ptrUint32(v uint32) *uint32 { return &v }

func (q *QdrantStore) Delete(ctx context.Context, collection string, filter Filter) error {
	return q.retryOperation(ctx, "delete", func(ctx context.Context) error {
		_, err := q.pointsSvc.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: toFilter(&filter)},
			},
		})
		return err
	})
}

func (q *QdrantStore) CreateSnapshot(ctx context.Context, collection string) (Snapshot, error) {
	var out Snapshot
	err := q.retryOperation(ctx, "create_snapshot", func(ctx context.Context) error {
		resp, err := q.snapshotsSvc.Create(ctx, &qdrant.CreateSnapshotRequest{CollectionName: collection})
		if err != nil {
			return err
		}
		out = Snapshot{Name: resp.SnapshotDescription.Name}
		return nil
	})
	return out, err
}

func (q *QdrantStore) ListSnapshots(ctx context.Context, collection string) ([]Snapshot, error) {
	var out []Snapshot
	err := q.retryOperation(ctx, "list_snapshots", func(ctx context.Context) error {
		resp, err := q.snapshotsSvc.List(ctx, &qdrant.ListSnapshotsRequest{CollectionName: collection})
		if err != nil {
			return err
		}
		out = make([]Snapshot, 0, len(resp.SnapshotDescriptions))
		for _, s := range resp.SnapshotDescriptions {
			out = append(out, Snapshot{Name: s.Name})
		}
		return nil
	})
	return out, err
}

// DownloadSnapshot and UploadSnapshot are left as thin, explicitly
// unimplemented operations: Qdrant exposes snapshot transfer over a plain
// HTTPS endpoint, not the gRPC surface this client wraps. The admin CLI
// shells out to that endpoint directly (see cmd/vortex-admin).
func (q *QdrantStore) DownloadSnapshot(ctx context.Context, collection, snapshotName, destPath string) error {
	return fmt.Errorf("%w: snapshot download is served over the HTTP API, not gRPC", errUpstreamUnavailable)
}

func (q *QdrantStore) UploadSnapshot(ctx context.Context, collection, sourcePath string) error {
	return fmt.Errorf("%w: snapshot upload is served over the HTTP API, not gRPC", errUpstreamUnavailable)
}

func (q *QdrantStore) Close() error {
	return q.conn.Close()
}

var _ Client = (*QdrantStore)(nil)
