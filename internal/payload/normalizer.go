// Package payload implements universal JSON document flattening, text
// extraction, and reserved-field stripping ahead of vector store upsert.
package payload

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
)

const (
	maxDepth     = 5
	maxListItems = 10
	autoFallback = 1000 // max chars for the auto-strategy concatenation fallback
)

var reservedFields = map[string]bool{
	"_id":         true,
	"_vector":     true,
	"_timestamp":  true,
	"_hash":       true,
	"_collection": true,
}

// autoFields are tried in order for the "auto" text-extraction strategy.
var autoFields = []string{"title", "name", "subject", "description", "content", "message", "text", "body"}

// Strategy selects how the primary text field is derived.
type Strategy string

const (
	StrategyAuto      Strategy = "auto"
	StrategyConcatAll Strategy = "concat_all"
	StrategyCustom    Strategy = "custom"
)

// Options configures Process.
type Options struct {
	Strategy     Strategy
	CustomFields []string // used only when Strategy == StrategyCustom
}

// Process strips reserved fields, derives the `_text` field per the
// configured strategy, flattens nested structures, and attaches `_hash`.
// Process is pure and idempotent on structurally equal inputs.
func Process(raw map[string]any, opts Options) map[string]any {
	clean := stripReserved(raw)

	text := extractText(clean, opts)
	flat := flatten(clean, "", 0)
	flat["_text"] = text
	flat["_hash"] = textHash(text)
	return flat
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

func extractText(doc map[string]any, opts Options) string {
	switch opts.Strategy {
	case StrategyConcatAll:
		return concatAll(doc, 0)
	case StrategyCustom:
		return concatFields(doc, opts.CustomFields)
	default:
		return autoExtract(doc)
	}
}

func autoExtract(doc map[string]any) string {
	for _, field := range autoFields {
		if v, ok := doc[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	// Fallback: concatenate top-level strings under autoFallback chars.
	keys := sortedKeys(doc)
	out := ""
	for _, k := range keys {
		s, ok := doc[k].(string)
		if !ok || s == "" || len(s) >= autoFallback {
			continue
		}
		if out != "" {
			out += " "
		}
		out += s
	}
	return out
}

func concatFields(doc map[string]any, fields []string) string {
	out := ""
	for _, f := range fields {
		v, ok := doc[f]
		if !ok {
			continue
		}
		s := fmt.Sprint(v)
		if out != "" {
			out += " "
		}
		out += s
	}
	return out
}

// concatAll recursively collects all string/number leaves up to maxDepth,
// truncating lists to maxListItems.
func concatAll(v any, depth int) string {
	switch val := v.(type) {
	case map[string]any:
		out := ""
		for _, k := range sortedKeys(val) {
			s := concatAllValue(val[k], depth)
			if s == "" {
				continue
			}
			if out != "" {
				out += " "
			}
			out += s
		}
		return out
	default:
		return concatAllValue(v, depth)
	}
}

func concatAllValue(v any, depth int) string {
	if depth >= maxDepth {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64, int, int64, bool:
		return fmt.Sprint(val)
	case map[string]any:
		return concatAll(val, depth+1)
	case []any:
		out := ""
		for i, item := range val {
			if i >= maxListItems {
				break
			}
			s := concatAllValue(item, depth+1)
			if s == "" {
				continue
			}
			if out != "" {
				out += " "
			}
			out += s
		}
		return out
	default:
		return ""
	}
}

// flatten turns nested maps into `a_b_c` keys and arrays into
// `key_0,key_1,...` up to maxListItems, recursing to maxDepth. Leaves
// reached past maxDepth are joined into the deepest accessible key.
func flatten(v any, prefix string, depth int) map[string]any {
	out := map[string]any{}
	m, ok := v.(map[string]any)
	if !ok {
		if prefix != "" {
			out[prefix] = v
		}
		return out
	}
	for _, k := range sortedKeys(m) {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		flattenValue(m[k], key, depth, out)
	}
	return out
}

func flattenValue(v any, key string, depth int, out map[string]any) {
	if depth >= maxDepth {
		out[key] = joinLeaf(v)
		return
	}
	switch val := v.(type) {
	case map[string]any:
		for nk, nv := range flatten(val, key, depth+1) {
			out[nk] = nv
		}
	case []any:
		for i, item := range val {
			if i >= maxListItems {
				break
			}
			itemKey := fmt.Sprintf("%s_%d", key, i)
			flattenValue(item, itemKey, depth+1, out)
		}
	default:
		out[key] = val
	}
}

// joinLeaf collapses anything past maxDepth into a best-effort scalar.
func joinLeaf(v any) any {
	switch val := v.(type) {
	case map[string]any, []any:
		return fmt.Sprint(val)
	default:
		return val
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func textHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}
