package services

import (
	"encoding/json"
	"strings"
)

// truncateRunes cuts a string to at most n runes, appending an ellipsis when
// anything was dropped.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// capRunes hard-cuts a string to at most n runes with no ellipsis, for
// fields with a real length contract.
func capRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// shortestNonEmpty picks the shortest usable string, which keeps prompts
// compact when several text variants describe the same post.
func shortestNonEmpty(candidates ...string) string {
	best := ""
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if best == "" || len(c) < len(best) {
			best = c
		}
	}
	return best
}

// extractStringArray parses a JSON string array out of a completion response,
// tolerating code fences and surrounding prose. Returns nil when nothing
// parseable is present.
func extractStringArray(content string) []string {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end <= start {
		return nil
	}

	var items []string
	if err := json.Unmarshal([]byte(content[start:end+1]), &items); err != nil {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
