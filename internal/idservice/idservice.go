// Package idservice derives deterministic document and point identities so
// that re-ingesting identical content never duplicates or churns IDs.
package idservice

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// pointNamespace is the fixed UUID5 namespace for chunk point IDs. It must
// never change, or every previously ingested point ID would shift.
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// reservedFields are stripped before canonicalization so that store-assigned
// metadata never perturbs the content hash.
var reservedFields = map[string]bool{
	"_id":         true,
	"_vector":     true,
	"_timestamp":  true,
	"_hash":       true,
	"_collection": true,
}

// Service derives db_id and point_id values.
type Service struct{}

// New returns an IDService. It is stateless and safe for concurrent use.
func New() *Service { return &Service{} }

// DocHash computes the canonical-JSON SHA-256 content hash of doc, after
// stripping reserved fields and recursively sorting map keys. Identical
// content and tenant yield the identical hash across processes.
func (s *Service) DocHash(doc map[string]any) (string, error) {
	clean := stripReserved(doc)
	canon, err := canonicalize(clean)
	if err != nil {
		return "", fmt.Errorf("canonicalize document: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// PointID derives the deterministic UUID5 point ID for chunk chunkIndex of
// document dbID.
func (s *Service) PointID(dbID string, chunkIndex int) string {
	name := fmt.Sprintf("%s:%d", dbID, chunkIndex)
	return uuid.NewSHA1(pointNamespace, []byte(name)).String()
}

func stripReserved(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if reservedFields[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// canonicalize produces a deterministic JSON serialization: object keys
// sorted recursively, no whitespace variance introduced by map iteration
// order.
func canonicalize(v any) ([]byte, error) {
	ordered, err := order(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ordered)
}

// order recursively copies nested map[string]any and []any values and
// returns every other value unchanged; it never returns an error. Key order
// in the serialized output comes from json.Marshal, which sorts
// map[string]any keys.
func order(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			n, err := order(nested)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, nested := range val {
			n, err := order(nested)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return val, nil
	}
}

// sortedKeys is a small helper kept for callers that need deterministic key
// order outside of json.Marshal (e.g. debug logging of a document).
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
