// Package scapeid canonicalizes scape names so that configs and CLI flags can
// use the spellings people actually type.
package scapeid

import "strings"

// Canonical scape names.
const (
	GridSpread = "grid-spread"
)

var aliases = map[string]string{
	"gridspread":   GridSpread,
	"spread":       GridSpread,
	"simplespread": GridSpread,
}

// Normalize lowercases name, folds separators to '-', and resolves known
// aliases. Unknown names come back folded but otherwise unchanged.
func Normalize(name string) string {
	normalized := strings.TrimSpace(strings.ToLower(name))
	normalized = strings.NewReplacer("_", "-", " ", "-").Replace(normalized)
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	for _, candidate := range candidates(normalized) {
		if canonical, ok := aliases[strings.ReplaceAll(candidate, "-", "")]; ok {
			return canonical
		}
	}
	return normalized
}

// candidates strips, in order, a "scape-" prefix, a "-sim" suffix and a
// "-vN" version suffix.
func candidates(normalized string) []string {
	out := []string{normalized}
	current := normalized
	for _, strip := range []func(string) string{trimScapePrefix, trimSimSuffix, trimVersionSuffix} {
		next := strip(current)
		if next != "" && next != current {
			out = append(out, next)
			current = next
		}
	}
	return out
}

func trimScapePrefix(value string) string {
	return strings.Trim(strings.TrimPrefix(value, "scape-"), "-")
}

func trimSimSuffix(value string) string {
	return strings.TrimSuffix(value, "-sim")
}

func trimVersionSuffix(value string) string {
	i := strings.LastIndex(value, "-v")
	if i <= 0 || i+2 == len(value) {
		return value
	}
	for _, r := range value[i+2:] {
		if r < '0' || r > '9' {
			return value
		}
	}
	return value[:i]
}
