package perception

import (
	"sort"
	"strings"
)

// Substitute replaces each whole {token} in template with subs[token].
//
// Replacement is one left-to-right pass, so braces inside substituted values
// (JSON documents, mostly) are never rescanned. Tokens with no entry in subs
// are left as they are.
func Substitute(template string, subs map[string]string) string {
	if len(subs) == 0 {
		return template
	}
	keys := make([]string, 0, len(subs))
	for k := range subs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", subs[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Placeholders lists the distinct {token} names in template, in order of
// first appearance. Tokens must be identifier-like, so JSON braces in prompt
// examples are not reported.
func Placeholders(template string) []string {
	var out []string
	seen := make(map[string]bool)
	for i := 0; i < len(template); i++ {
		if template[i] != '{' {
			continue
		}
		j := i + 1
		for j < len(template) && isTokenByte(template[j]) {
			j++
		}
		if j == i+1 || j >= len(template) || template[j] != '}' {
			continue
		}
		name := template[i+1 : j]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
		i = j
	}
	return out
}

func isTokenByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
