package kernel

import (
	"strings"
	"unicode"
)

// DeriveSlug turns a title into the run slug. It lowercases and trims, drops
// everything but word characters, whitespace and hyphens, collapses runs of
// whitespace, underscore and hyphen into one underscore, and trims
// underscores from both ends. An empty title gives an empty slug.
func DeriveSlug(title string) string {
	s := strings.TrimSpace(strings.ToLower(title))

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r) || r == '_' || r == '-':
			pendingSep = true
		case unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SafeTitle is the filename prefix kernel files are saved under: letters,
// digits, space, hyphen and underscore are kept, then spaces become
// underscores.
func SafeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
}
