package ingest

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/vortexdb/vortex/internal/chunker"
	"github.com/vortexdb/vortex/internal/encoders"
	"github.com/vortexdb/vortex/internal/idservice"
	"github.com/vortexdb/vortex/internal/vectorstore"
)

type fakeStore struct {
	vectorstore.Client
	collections map[string]bool
	points      map[string][]vectorstore.Point
}

func newFakeStore() *fakeStore {
	return &fakeStore{collections: map[string]bool{}, points: map[string][]vectorstore.Point{}}
}

func (f *fakeStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	return f.collections[name], nil
}

func (f *fakeStore) CreateCollection(ctx context.Context, spec vectorstore.CollectionSpec) error {
	f.collections[spec.Name] = true
	return nil
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	f.points[collection] = append(f.points[collection], points...)
	return nil
}

type fakeDense struct{ dim int }

func (f *fakeDense) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}
func (f *fakeDense) Dimension() int { return f.dim }
func (f *fakeDense) Close() error   { return nil }

func newTestService(t *testing.T, store *fakeStore) *Service {
	t.Helper()
	set := encoders.Set{Dense: &fakeDense{dim: 8}}
	return New(store, set, idservice.New(), nil, zap.NewNop(), Config{ChunkSize: 50, ChunkOverlap: 5, DenseSize: 8}, chunker.Split)
}

func TestUpsertDocumentsCreatesCollectionAndPoints(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)

	docs := []Document{
		{Fields: map[string]any{"title": "hello", "content": "hello world, this is a short document"}, TenantID: "public", AccessLevel: 1},
	}

	count, err := svc.UpsertDocuments(context.Background(), "docs", docs, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 document processed, got %d", count)
	}
	if !store.collections["docs"] {
		t.Fatal("expected collection auto-created")
	}
	if len(store.points["docs"]) == 0 {
		t.Fatal("expected points upserted")
	}
}

func TestUpsertDocumentsIsIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	docs := []Document{
		{Fields: map[string]any{"content": "identical content for idempotence check"}, TenantID: "public", AccessLevel: 1},
	}

	if _, err := svc.UpsertDocuments(context.Background(), "docs", docs, nil); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	firstIDs := pointIDs(store.points["docs"])

	store.points["docs"] = nil
	if _, err := svc.UpsertDocuments(context.Background(), "docs", docs, nil); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	secondIDs := pointIDs(store.points["docs"])

	if len(firstIDs) != len(secondIDs) {
		t.Fatalf("expected same point count, got %d vs %d", len(firstIDs), len(secondIDs))
	}
	for i := range firstIDs {
		if firstIDs[i] != secondIDs[i] {
			t.Fatalf("expected identical point id at %d, got %s vs %s", i, firstIDs[i], secondIDs[i])
		}
	}
}

func TestUpsertDocumentsReportsMonotonicProgressCappedBelow100(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(t, store)
	docs := make([]Document, 0, 20)
	for i := 0; i < 20; i++ {
		docs = append(docs, Document{Fields: map[string]any{"content": "document body text"}, TenantID: "public", AccessLevel: 1})
	}

	var last int
	_, err := svc.UpsertDocuments(context.Background(), "docs", docs, func(percent int, message string) {
		if percent < last {
			t.Fatalf("progress regressed: %d after %d", percent, last)
		}
		if percent >= 100 {
			t.Fatalf("progress must stay below 100 until caller marks completion, got %d", percent)
		}
		last = percent
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
}

func pointIDs(points []vectorstore.Point) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = p.ID
	}
	return out
}
