package encoders

import (
	"context"
	"testing"
)

func TestLexicalCrossEncoderPrefersOverlap(t *testing.T) {
	ce := NewLexicalCrossEncoder()
	scores, err := ce.Score(context.Background(), "quick fox", []string{
		"the quick brown fox jumps",
		"an entirely unrelated sentence",
	})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 scores, got %d", len(scores))
	}
	if scores[0] <= scores[1] {
		t.Fatalf("expected doc with term overlap to score higher: %v", scores)
	}
}

func TestLexicalCrossEncoderEmptyQuery(t *testing.T) {
	ce := NewLexicalCrossEncoder()
	scores, err := ce.Score(context.Background(), "", []string{"anything"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if scores[0] != 0 {
		t.Fatalf("expected zero score for empty query, got %f", scores[0])
	}
}
