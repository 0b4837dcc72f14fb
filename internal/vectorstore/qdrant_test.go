package vectorstore

import "testing"

func TestToPayloadRoundTrip(t *testing.T) {
	in := map[string]any{
		"tenant_id":    "public",
		"access_level": int64(2),
		"encrypted":    false,
	}
	pb := toPayload(in)
	out := fromPayload(pb)

	if out["tenant_id"] != "public" {
		t.Fatalf("expected tenant_id round trip, got %v", out["tenant_id"])
	}
	if out["access_level"] != int64(2) {
		t.Fatalf("expected access_level round trip, got %v", out["access_level"])
	}
	if out["encrypted"] != false {
		t.Fatalf("expected encrypted round trip, got %v", out["encrypted"])
	}
}

func TestSparseVectorEmpty(t *testing.T) {
	var s *SparseVector
	if !s.empty() {
		t.Fatal("expected nil sparse vector to be empty")
	}
	s = &SparseVector{}
	if !s.empty() {
		t.Fatal("expected zero-value sparse vector to be empty")
	}
	s = &SparseVector{Indices: []uint32{1}, Values: []float32{0.5}}
	if s.empty() {
		t.Fatal("expected populated sparse vector to be non-empty")
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	q := &QdrantStore{cfg: QdrantConfig{CircuitBreakerMax: 2, CircuitResetAfter: 0}.withDefaults()}
	q.cfg.CircuitBreakerMax = 2
	if q.isCircuitOpen() {
		t.Fatal("expected circuit closed initially")
	}
	q.recordFailure()
	if q.isCircuitOpen() {
		t.Fatal("expected circuit still closed after one failure")
	}
	q.recordFailure()
	if !q.isCircuitOpen() {
		t.Fatal("expected circuit open after reaching CircuitBreakerMax")
	}
}
