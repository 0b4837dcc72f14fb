package hybrid

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/vortexdb/vortex/internal/access"
	"github.com/vortexdb/vortex/internal/encoders"
	"github.com/vortexdb/vortex/internal/vectorstore"
)

type fakeStore struct {
	vectorstore.Client
	searchFn func(collection string, kind vectorstore.VectorKind) []vectorstore.ScoredPoint
	upserts  []vectorstore.Point
	failing  map[string]bool
}

func (f *fakeStore) Search(ctx context.Context, collection string, using vectorstore.VectorKind, query vectorstore.Vectors, limit int, filter *vectorstore.Filter, withPayload bool) ([]vectorstore.ScoredPoint, error) {
	if f.failing[collection] {
		return nil, errFakeSearch
	}
	return f.searchFn(collection, using), nil
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	f.upserts = append(f.upserts, points...)
	return nil
}

var errFakeSearch = fakeErr("search failed")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

type fakeDense struct{}

func (fakeDense) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}
func (fakeDense) Dimension() int { return 3 }
func (fakeDense) Close() error   { return nil }

func docHits(n int) []vectorstore.ScoredPoint {
	out := make([]vectorstore.ScoredPoint, n)
	for i := 0; i < n; i++ {
		out[i] = vectorstore.ScoredPoint{
			ID:    fakeID(i),
			Score: float32(1.0 - float64(i)*0.1),
			Payload: map[string]any{
				"parent_id":    fakeID(i),
				"tenant_id":    "public",
				"access_level": 1,
				"content":      "chunk body text for doc",
			},
		}
	}
	return out
}

func fakeID(i int) string {
	return "doc-" + string(rune('a'+i))
}

func newTestPipeline(store *fakeStore) *Pipeline {
	set := encoders.Set{Dense: fakeDense{}}
	return New(store, set, zap.NewNop(), nil)
}

func TestSearchFusesAndRanksByScore(t *testing.T) {
	store := &fakeStore{
		searchFn: func(collection string, kind vectorstore.VectorKind) []vectorstore.ScoredPoint {
			return docHits(5)
		},
		failing: map[string]bool{},
	}
	p := newTestPipeline(store)

	req := Request{
		QueryText:   "hello",
		TopK:        3,
		Collections: []string{"docs"},
		User:        &access.User{UserID: "u1", Role: access.RoleEngineer},
	}
	results, err := p.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results capped at top_k, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Fatalf("expected descending score order, got %v then %v", results[i-1].Score, results[i].Score)
		}
	}
}

func TestSearchScrubsCrossTenantResults(t *testing.T) {
	store := &fakeStore{
		searchFn: func(collection string, kind vectorstore.VectorKind) []vectorstore.ScoredPoint {
			return []vectorstore.ScoredPoint{
				{ID: "1", Score: 0.9, Payload: map[string]any{"parent_id": "doc-1", "tenant_id": "tenant-other", "access_level": 1}},
				{ID: "2", Score: 0.8, Payload: map[string]any{"parent_id": "doc-2", "tenant_id": "public", "access_level": 1}},
			}
		},
		failing: map[string]bool{},
	}
	p := newTestPipeline(store)

	req := Request{
		QueryText:   "hello",
		TopK:        10,
		Collections: []string{"docs"},
		User:        &access.User{UserID: "u1", Role: access.RoleViewer},
	}
	results, err := p.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.ParentID == "doc-1" {
			t.Fatal("expected cross-tenant document to be scrubbed")
		}
	}
}

func TestSearchReturnsErrorWhenAllBackendsUnreachable(t *testing.T) {
	store := &fakeStore{
		searchFn: func(collection string, kind vectorstore.VectorKind) []vectorstore.ScoredPoint { return nil },
		failing:  map[string]bool{"docs": true},
	}
	p := newTestPipeline(store)

	req := Request{
		QueryText:   "hello",
		TopK:        5,
		Collections: []string{"docs"},
		User:        &access.User{UserID: "u1", Role: access.RoleEngineer},
	}
	if _, err := p.Search(context.Background(), req); err == nil {
		t.Fatal("expected error when all backends unreachable")
	}
}

func TestSearchMissingUserFailsClosed(t *testing.T) {
	store := &fakeStore{searchFn: func(collection string, kind vectorstore.VectorKind) []vectorstore.ScoredPoint { return nil }, failing: map[string]bool{}}
	p := newTestPipeline(store)
	if _, err := p.Search(context.Background(), Request{QueryText: "hello", Collections: []string{"docs"}}); err != access.ErrMissingUser {
		t.Fatalf("expected ErrMissingUser, got %v", err)
	}
}
