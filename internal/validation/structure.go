package validation

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Violation is one structural problem in a stage output.
type Violation struct {
	Rule    string `json:"rule"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Rule checks one property of a decoded JSON document.
type Rule interface {
	Check(doc any) []Violation
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(doc any) []Violation

func (f RuleFunc) Check(doc any) []Violation { return f(doc) }

// ValidateStructure applies every rule to doc and returns the violations in
// rule order.
func ValidateStructure(doc any, rules ...Rule) []Violation {
	var out []Violation
	for _, r := range rules {
		out = append(out, r.Check(doc)...)
	}
	return out
}

// Required reports every resolution of path that is missing or empty.
// A path segment ending in "[]" iterates the list at that point, so
// "segments[].name" checks the name of every segment.
func Required(path string) Rule {
	return RuleFunc(func(doc any) []Violation {
		var out []Violation
		for _, r := range resolve(doc, path) {
			if !r.found || isBlank(r.value) {
				out = append(out, Violation{Rule: "required", Path: r.path, Message: "missing or empty"})
			}
		}
		return out
	})
}

// MinItems reports every resolution of path that is not a list of at least n items.
func MinItems(path string, n int) Rule {
	return RuleFunc(func(doc any) []Violation {
		var out []Violation
		for _, r := range resolve(doc, path) {
			if !r.found {
				out = append(out, Violation{Rule: "min_items", Path: r.path, Message: fmt.Sprintf("missing, want at least %d items", n)})
				continue
			}
			list, ok := r.value.([]any)
			if !ok {
				out = append(out, Violation{Rule: "min_items", Path: r.path, Message: fmt.Sprintf("is %s, want a list", typeName(r.value))})
				continue
			}
			if len(list) < n {
				out = append(out, Violation{Rule: "min_items", Path: r.path, Message: fmt.Sprintf("has %d items, want at least %d", len(list), n)})
			}
		}
		return out
	})
}

// OrderedSections requires the list at path to carry exactly the expected
// values of field, in order. Any mismatch is a single violation naming both lists.
func OrderedSections(path, field string, expected []string) Rule {
	return RuleFunc(func(doc any) []Violation {
		var out []Violation
		for _, r := range resolve(doc, path) {
			list, ok := r.value.([]any)
			if !r.found || !ok {
				out = append(out, Violation{Rule: "ordered_sections", Path: r.path,
					Message: fmt.Sprintf("expected sections %s, got none", quoteList(expected))})
				continue
			}
			actual := make([]string, 0, len(list))
			for _, item := range list {
				m, _ := item.(map[string]any)
				s, _ := m[field].(string)
				actual = append(actual, s)
			}
			if !slices.Equal(actual, expected) {
				out = append(out, Violation{Rule: "ordered_sections", Path: r.path,
					Message: fmt.Sprintf("expected sections %s, got %s", quoteList(expected), quoteList(actual))})
			}
		}
		return out
	})
}

type resolution struct {
	path  string
	value any
	found bool
}

// resolve expands a dotted path with optional "[]" iteration into the
// concrete locations it names. A missing list at an iteration point yields
// one unresolved entry for the list itself.
func resolve(doc any, path string) []resolution {
	cur := []resolution{{path: "", value: doc, found: true}}
	for _, seg := range strings.Split(path, ".") {
		iterate := strings.HasSuffix(seg, "[]")
		key := strings.TrimSuffix(seg, "[]")
		var next []resolution
		for _, r := range cur {
			if !r.found {
				next = append(next, r)
				continue
			}
			p := join(r.path, key)
			m, _ := r.value.(map[string]any)
			v, ok := m[key]
			if !iterate {
				next = append(next, resolution{path: p, value: v, found: ok && v != nil})
				continue
			}
			list, isList := v.([]any)
			if !ok || !isList {
				next = append(next, resolution{path: p, value: v, found: false})
				continue
			}
			for i, item := range list {
				next = append(next, resolution{path: p + "[" + strconv.Itoa(i) + "]", value: item, found: item != nil})
			}
		}
		cur = next
	}
	return cur
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

func typeName(v any) string {
	switch v.(type) {
	case map[string]any:
		return "an object"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}

func quoteList(items []string) string {
	q := make([]string, len(items))
	for i, s := range items {
		q[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(q, ", ") + "]"
}
