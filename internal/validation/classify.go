// Package validation checks LLM-generated stage outputs against the kernel
// they were derived from.
//
// It never rejects content on its own. Every reference is classified and
// every structural problem is reported; the caller decides whether a report
// is fatal (see Mode).
package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"patternpress/internal/kernel"
)

// Kind is the classification of a single kernel reference.
type Kind string

const (
	ExactDeviceMatch  Kind = "exact_device_match"  // names a micro device exactly
	ExactPatternMatch Kind = "exact_pattern_match" // names the alignment pattern
	FuzzyTextMatch    Kind = "fuzzy_text_match"    // found in a kernel text field
	NeedsManualReview Kind = "needs_manual_review" // nothing matched
)

// IsExact reports whether the kind is one of the exact matches.
func (k Kind) IsExact() bool {
	return k == ExactDeviceMatch || k == ExactPatternMatch
}

// Classification is the verdict for one reference.
type Classification struct {
	Reference string `json:"reference"`
	Kind      Kind   `json:"kind"`
	Evidence  string `json:"evidence,omitempty"`
}

// Matcher holds the fuzzy-matching thresholds.
type Matcher struct {
	// SnippetRadius is the number of characters of context quoted on each
	// side of a substring hit.
	SnippetRadius int
	// MinOverlapWords is both the minimum reference length in words for
	// overlap matching and the minimum number of shared words.
	MinOverlapWords int
}

// DefaultMatcher returns the tuned defaults (20 characters, 2 words).
func DefaultMatcher() Matcher {
	return Matcher{SnippetRadius: 20, MinOverlapWords: 2}
}

// field is one searchable kernel text.
type field struct {
	label string
	text  string
	lower string
	words map[string]bool
}

// index is the per-kernel view a batch classifies against.
type index struct {
	devices map[string]bool
	pattern string
	fields  []field
}

func newIndex(k *kernel.Kernel) *index {
	idx := &index{devices: make(map[string]bool), pattern: k.PatternName()}
	add := func(label, text string) {
		if text == "" {
			return
		}
		lower := strings.ToLower(text)
		idx.fields = append(idx.fields, field{label: label, text: text, lower: lower, words: wordSet(lower)})
	}
	add("reader_effect", k.ReaderEffect())
	add("core_dynamic", k.CoreDynamic())
	for _, d := range k.Devices() {
		if d.Name != "" {
			idx.devices[d.Name] = true
		}
		add(d.Name+" effect", d.Effect)
	}
	return idx
}

// Classify classifies ref against k with the default thresholds.
func Classify(ref string, k *kernel.Kernel) Classification {
	return DefaultMatcher().Classify(ref, k)
}

// Classify classifies ref against k.
func (m Matcher) Classify(ref string, k *kernel.Kernel) Classification {
	return m.classify(ref, newIndex(k))
}

func (m Matcher) classify(ref string, idx *index) Classification {
	c := Classification{Reference: ref}
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		c.Kind = NeedsManualReview
		c.Evidence = "empty reference"
		return c
	}

	if idx.devices[ref] || idx.devices[trimmed] {
		c.Kind = ExactDeviceMatch
		c.Evidence = "Device name"
		return c
	}

	if p := idx.pattern; p != "" {
		if trimmed == p || strings.Contains(trimmed, p) || strings.Contains(p, trimmed) {
			c.Kind = ExactPatternMatch
			c.Evidence = "Pattern name"
			return c
		}
	}

	lowerRef := strings.ToLower(trimmed)
	for _, f := range idx.fields {
		if i := strings.Index(f.lower, lowerRef); i >= 0 {
			c.Kind = FuzzyTextMatch
			c.Evidence = fmt.Sprintf("Found in %s: '...%s...'", f.label, snippet(f.lower, i, len(lowerRef), m.radius()))
			return c
		}
	}

	refWords := wordSet(lowerRef)
	if need := m.minWords(); len(refWords) >= need {
		for _, f := range idx.fields {
			shared := intersect(refWords, f.words)
			if len(shared) >= need {
				c.Kind = FuzzyTextMatch
				c.Evidence = fmt.Sprintf("Word overlap in %s: {%s}", f.label, strings.Join(shared, ", "))
				return c
			}
		}
	}

	c.Kind = NeedsManualReview
	c.Evidence = "No match in kernel"
	return c
}

func (m Matcher) radius() int {
	if m.SnippetRadius < 0 {
		return 0
	}
	return m.SnippetRadius
}

func (m Matcher) minWords() int {
	if m.MinOverlapWords < 1 {
		return 1
	}
	return m.MinOverlapWords
}

// snippet returns text[i-radius : i+n+radius] widened to rune boundaries.
func snippet(text string, i, n, radius int) string {
	start := i
	for r := 0; r < radius && start > 0; r++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	end := i + n
	for r := 0; r < radius && end < len(text); r++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return text[start:end]
}

// wordSet splits lowercase text on anything that is not a letter, digit or apostrophe.
func wordSet(lower string) map[string]bool {
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func intersect(a, b map[string]bool) []string {
	var out []string
	for w := range a {
		if b[w] {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}

// BatchResult aggregates the classifications of a reference list.
// ExactCount + FuzzyCount + len(Review) always equals len(All).
type BatchResult struct {
	ExactCount int              `json:"exact_count"`
	FuzzyCount int              `json:"fuzzy_count"`
	Review     []Classification `json:"review"`
	All        []Classification `json:"all"`
}

// Total is the number of references classified.
func (b BatchResult) Total() int { return len(b.All) }

// Merge appends other into b.
func (b *BatchResult) Merge(other BatchResult) {
	b.ExactCount += other.ExactCount
	b.FuzzyCount += other.FuzzyCount
	b.Review = append(b.Review, other.Review...)
	b.All = append(b.All, other.All...)
}

// ValidateBatch classifies refs with the default thresholds.
func ValidateBatch(refs []string, k *kernel.Kernel) BatchResult {
	return DefaultMatcher().ValidateBatch(refs, k)
}

// ValidateBatch classifies every reference in refs. The review list is
// never truncated.
func (m Matcher) ValidateBatch(refs []string, k *kernel.Kernel) BatchResult {
	idx := newIndex(k)
	res := BatchResult{All: make([]Classification, 0, len(refs))}
	for _, ref := range refs {
		c := m.classify(ref, idx)
		res.All = append(res.All, c)
		switch {
		case c.Kind.IsExact():
			res.ExactCount++
		case c.Kind == FuzzyTextMatch:
			res.FuzzyCount++
		default:
			res.Review = append(res.Review, c)
		}
	}
	return res
}
