package slug

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxLength   = 50
	Fallback    = "church"
	MaxAttempts = 1000
)

var (
	disallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize derives the base slug of a tenant name. Accented latin letters
// are folded to ASCII and Greek or Cyrillic ones transliterated before
// everything outside [a-z0-9 -] is dropped.
func Normalize(name string) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}

	s := transliterate.Replace(strings.ToLower(folded))
	s = disallowed.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), "-")
	if len(s) > MaxLength {
		s = s[:MaxLength]
	}
	s = strings.Trim(s, "-")
	if s == "" {
		return Fallback
	}
	return s
}

func WithSuffix(base string, n int) string {
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}

// Sequence yields candidate slugs for base, skipping the ones already known
// to be taken. Callers still insert each candidate under a unique constraint
// and ask for the next one on collision.
type Sequence struct {
	base     string
	taken    map[string]struct{}
	n        int
	attempts int
}

func NewSequence(base string, taken []string) *Sequence {
	seen := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		seen[t] = struct{}{}
	}
	return &Sequence{base: base, taken: seen}
}

func (s *Sequence) Next() (string, bool) {
	for s.attempts < MaxAttempts {
		candidate := WithSuffix(s.base, s.n)
		s.n++
		if _, ok := s.taken[candidate]; ok {
			continue
		}
		s.attempts++
		return candidate, true
	}
	return "", false
}

// LikePattern matches base and every suffixed variant of it in SQL LIKE syntax.
func LikePattern(base string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(base)
	return escaped + "-%"
}
