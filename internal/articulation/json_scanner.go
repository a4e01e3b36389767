package articulation

// findJSONCandidates scans s for balanced top-level JSON objects and arrays
// and returns them in order of appearance.
//
// The scan is a byte-level state machine. Quotes only open a string once the
// scanner is inside a candidate, so apostrophes and quoted words in the
// surrounding prose do not hide the payload. Mismatched bracket kinds are not
// checked here; the parser rejects those candidates.
//
// Iterating bytes is safe for the ASCII delimiters ({, }, [, ], ", \) because
// UTF-8 never uses ASCII bytes inside a multi-byte sequence.
func findJSONCandidates(s string) []string {
	var candidates []string
	var depth int
	var start = -1
	var inString bool
	var escape bool

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}

	return candidates
}
