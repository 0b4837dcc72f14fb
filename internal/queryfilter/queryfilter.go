// Package queryfilter extracts deterministic metadata hints from free-text
// queries so the hybrid pipeline can narrow a search before it ever touches
// a vector. It covers only exact, regex-anchored signals; fuzzy/learned
// extraction is out of scope here.
package queryfilter

import (
	"regexp"
	"strings"

	"github.com/vortexdb/vortex/internal/vectorstore"
)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// fieldKeywords maps a payload field to the keywords that, when present in
// a query, narrow the search to documents whose field equals the keyword's
// canonical value.
var fieldKeywords = map[string]map[string]string{
	"department": {
		"engineering": "engineering",
		"sales":       "sales",
		"legal":       "legal",
		"finance":     "finance",
		"hr":          "hr",
	},
	"category": {
		"policy":      "policy",
		"runbook":     "runbook",
		"incident":    "incident",
		"onboarding":  "onboarding",
	},
}

// Extract returns Qdrant payload conditions implied by literal signals in
// queryText: a four-digit year, and any configured field keyword. Both are
// additive (AND'd with the tenancy filter) so a miss narrows to zero
// results rather than silently falling back to an unfiltered search.
func Extract(queryText string) []vectorstore.Condition {
	var conditions []vectorstore.Condition

	if year := yearPattern.FindString(queryText); year != "" {
		conditions = append(conditions, vectorstore.Condition{
			Key:   "year",
			Match: &vectorstore.Match{Value: year},
		})
	}

	lower := strings.ToLower(queryText)
	for field, keywords := range fieldKeywords {
		for keyword, value := range keywords {
			if strings.Contains(lower, keyword) {
				conditions = append(conditions, vectorstore.Condition{
					Key:   field,
					Match: &vectorstore.Match{Value: value},
				})
				break
			}
		}
	}
	return conditions
}
