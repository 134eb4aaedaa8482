package workflow

import "strings"

// normalizeWord lowercases and trims punctuation the model sometimes
// wraps a one-word answer in.
func normalizeWord(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Trim(s, ".!? ")
}

// containsAny reports whether text contains any of the given substrings,
// case-insensitively.
func containsAny(text string, substrs ...string) bool {
	lower := strings.ToLower(text)
	for _, s := range substrs {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
