// Package defense implements the injection pattern matcher and vector
// anomaly detector guarding ingestion and search against hostile input.
package defense

import "regexp"

// Rule is a single compiled detection pattern, covering prompt injection,
// classic SQL tautologies, and NoSQL operator injection strings. Any match
// is a reject, not a redaction — unlike a secret scrubber, the defense
// engine has nothing safe to do with matched content but refuse it.
type Rule struct {
	ID          string
	Description string
	Pattern     string
	Severity    string

	compiled *regexp.Regexp
}

// DefaultRules returns the built-in injection pattern table.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "prompt-injection-ignore-instructions",
			Description: "Attempt to override prior instructions",
			Pattern:     `(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`,
			Severity:    "high",
		},
		{
			ID:          "prompt-injection-system-override",
			Description: "Attempt to impersonate a system or developer role",
			Pattern:     `(?i)(you are now|act as|pretend to be)\s+(a\s+)?(system|developer|admin)`,
			Severity:    "high",
		},
		{
			ID:          "prompt-injection-reveal-data",
			Description: "Attempt to exfiltrate all stored data",
			Pattern:     `(?i)(show|reveal|dump|list)\s+(all|every)\s+(data|documents|secrets|records)`,
			Severity:    "high",
		},
		{
			ID:          "prompt-injection-reveal-prompt",
			Description: "Attempt to reveal the system prompt",
			Pattern:     `(?i)(reveal|show|print)\s+(your|the)\s+(system\s+)?prompt`,
			Severity:    "medium",
		},
		{
			ID:          "sql-tautology",
			Description: "Classic SQL injection tautology",
			Pattern:     `(?i)(\bor\b|\band\b)\s+['"]?\w*['"]?\s*=\s*['"]?\w*['"]?\s*(--|#|;)?`,
			Severity:    "high",
		},
		{
			ID:          "sql-union-select",
			Description: "SQL UNION-based injection",
			Pattern:     `(?i)\bunion\s+(all\s+)?select\b`,
			Severity:    "high",
		},
		{
			ID:          "sql-statement-terminator",
			Description: "SQL statement chaining via semicolon",
			Pattern:     `;\s*(drop|delete|update|insert)\s`,
			Severity:    "high",
		},
		{
			ID:          "nosql-operator-injection",
			Description: "MongoDB-style operator injection",
			Pattern:     `\$(where|ne|gt|gte|lt|lte|regex|exists)\s*:`,
			Severity:    "high",
		},
		{
			ID:          "nosql-javascript-injection",
			Description: "NoSQL server-side JavaScript injection",
			Pattern:     `(?i)\bthis\.\w+\s*==`,
			Severity:    "medium",
		},
	}
}

// compile returns the set of rules with their patterns compiled, skipping
// any pattern that fails to compile rather than aborting startup.
func compile(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			continue
		}
		r.compiled = re
		out = append(out, r)
	}
	return out
}
