// Package strings holds small string-slice helpers shared by the normalizers.
package strings

import "strings"

// DedupeAndTrim returns the distinct non-blank values of in, trimmed, in first-seen
// order. Comparison is case sensitive. A nil or empty input is returned as is.
func DedupeAndTrim(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		v := strings.TrimSpace(raw)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
