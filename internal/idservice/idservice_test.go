package idservice

import "testing"

func TestDocHashStableAcrossKeyOrder(t *testing.T) {
	svc := New()
	a := map[string]any{"title": "Hello", "tenant_id": "public", "_id": "drop-me"}
	b := map[string]any{"_id": "drop-me-too", "tenant_id": "public", "title": "Hello"}

	ha, err := svc.DocHash(a)
	if err != nil {
		t.Fatalf("DocHash(a): %v", err)
	}
	hb, err := svc.DocHash(b)
	if err != nil {
		t.Fatalf("DocHash(b): %v", err)
	}
	if ha != hb {
		t.Fatalf("expected stable hash regardless of key order and reserved fields, got %s != %s", ha, hb)
	}
}

func TestDocHashChangesWithContent(t *testing.T) {
	svc := New()
	ha, _ := svc.DocHash(map[string]any{"content": "one"})
	hb, _ := svc.DocHash(map[string]any{"content": "two"})
	if ha == hb {
		t.Fatal("expected different content to hash differently")
	}
}

func TestPointIDDeterministic(t *testing.T) {
	svc := New()
	p1 := svc.PointID("abc123", 0)
	p2 := svc.PointID("abc123", 0)
	p3 := svc.PointID("abc123", 1)
	if p1 != p2 {
		t.Fatalf("expected identical point IDs for identical inputs, got %s != %s", p1, p2)
	}
	if p1 == p3 {
		t.Fatal("expected different chunk index to produce a different point ID")
	}
}
