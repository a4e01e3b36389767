package kernel

import "strings"

// DefaultRequiredPaths must resolve for a run to start.
var DefaultRequiredPaths = []string{
	"metadata.title",
	"alignment_pattern.pattern_name",
	"alignment_pattern.core_dynamic",
	"alignment_pattern.reader_effect",
	"micro_devices",
}

// DefaultOptionalPaths are checked and logged; stages fall back when absent.
var DefaultOptionalPaths = []string{
	"metadata.author",
	"alignment_pattern.device_priorities",
	"macro_variables.device_mediation.summary",
	"macro_variables.narrative.voice.pov_description",
	"macro_variables.rhetoric.voice.tone",
	"text_structure.total_chapters_estimate",
}

// Lookup resolves a dotted path through nested objects. nil, "", and empty
// lists or objects count as missing.
func Lookup(doc map[string]any, dotted string) (any, bool) {
	if dotted == "" {
		return nil, false
	}
	var cur any = doc
	for _, part := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	if isEmpty(cur) {
		return nil, false
	}
	return cur, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// ValidateRequired returns every path that does not resolve, in input order.
func ValidateRequired(k *Kernel, paths []string) []string {
	return unresolved(k, paths)
}

// CheckOptional resolves the same way as ValidateRequired. Callers treat the
// result as a warning.
func CheckOptional(k *Kernel, paths []string) []string {
	return unresolved(k, paths)
}

func unresolved(k *Kernel, paths []string) []string {
	var missing []string
	for _, p := range paths {
		if _, ok := Lookup(k.Doc, p); !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// RequireFields wraps ValidateRequired into an error listing every missing path.
func RequireFields(k *Kernel, paths []string) error {
	if missing := ValidateRequired(k, paths); len(missing) > 0 {
		return &MissingRequiredFieldError{Paths: missing}
	}
	return nil
}
