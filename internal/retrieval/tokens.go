package retrieval

import "strings"

// CountTokens counts whitespace-separated words. A fixed, model-independent
// count keeps the cap enforcement deterministic across providers.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

// TruncateTokens returns s cut to at most limit words. Inter-word whitespace
// is normalized to single spaces in the truncated result; input at or under
// the limit is returned unchanged.
func TruncateTokens(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	fields := strings.Fields(s)
	if len(fields) <= limit {
		return s
	}
	return strings.Join(fields[:limit], " ")
}
