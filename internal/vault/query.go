package vault

import (
	"strings"
	"unicode"

	"github.com/keeptower/keeptower/internal/domain"
)

// ParseSearchTokens splits the raw search string into lower-cased tokens.
// Tokens are delimited by '+' or any whitespace character.
func ParseSearchTokens(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || r == '+'
	})
	if len(fields) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		tokens = append(tokens, strings.ToLower(field))
	}
	return tokens
}

// MatchesSearchTokens reports whether the account satisfies all search
// tokens. Each token must be contained in at least one of the account name,
// username, email, website, notes or tags.
func MatchesSearchTokens(rec *domain.AccountRecord, tokens []string) bool {
	if len(tokens) == 0 || rec == nil {
		return true
	}

	haystack := []string{
		strings.ToLower(rec.AccountName),
		strings.ToLower(rec.Username),
		strings.ToLower(rec.Email),
		strings.ToLower(rec.Website),
		strings.ToLower(rec.Notes),
	}
	for _, tag := range rec.Tags {
		haystack = append(haystack, strings.ToLower(tag))
	}

	for _, token := range tokens {
		if token == "" {
			continue
		}
		if !containsToken(haystack, strings.ToLower(token)) {
			return false
		}
	}
	return true
}

func containsToken(fields []string, token string) bool {
	for _, f := range fields {
		if strings.Contains(f, token) {
			return true
		}
	}
	return false
}
