// Package search normalizes free-text queries for full-text lookups.
package search

import "strings"

const (
	// MaxTokens caps how many query words are considered.
	MaxTokens = 32
	// MinTokenLength drops short words that would match too broadly.
	MinTokenLength = 3
	// ResultLimit caps full-text search results.
	ResultLimit = 100
)

// Tokenize splits query on whitespace, drops words shorter than
// MinTokenLength and strips non-alphanumeric characters. Returns nil when
// nothing searchable remains.
func Tokenize(query string) []string {
	words := strings.Fields(query)
	if len(words) > MaxTokens {
		words = words[:MaxTokens]
	}
	var tokens []string
	for _, word := range words {
		cleaned := strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			case r >= 0x80:
				return r
			}
			return -1
		}, word)
		if len([]rune(cleaned)) < MinTokenLength {
			continue
		}
		tokens = append(tokens, cleaned)
	}
	return tokens
}
