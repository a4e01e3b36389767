package validation

import (
	"fmt"
	"strings"
)

// Mode decides whether a report with warnings fails its stage.
type Mode int

const (
	// ModeAdvisory logs warnings and manual-review items and lets the stage pass.
	ModeAdvisory Mode = iota
	// ModeStrict fails the stage on any violation, warning or manual-review item.
	ModeStrict
)

func (m Mode) String() string {
	if m == ModeStrict {
		return "strict"
	}
	return "advisory"
}

// StrictModeError is returned by Report.Err in strict mode.
type StrictModeError struct {
	Stage      string
	Violations int
	Warnings   int
	Review     int
}

func (e *StrictModeError) Error() string {
	return fmt.Sprintf("strict validation failed for %s: %d violations, %d warnings, %d references need review",
		e.Stage, e.Violations, e.Warnings, e.Review)
}

// Report is the validation outcome of one stage output.
type Report struct {
	Stage      string      `json:"stage"`
	Violations []Violation `json:"violations,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
	References BatchResult `json:"references"`
}

// Passed reports whether the output has no structural violations.
func (r *Report) Passed() bool {
	return len(r.Violations) == 0
}

// Clean reports whether the output has nothing at all to flag.
func (r *Report) Clean() bool {
	return r.Passed() && len(r.Warnings) == 0 && len(r.References.Review) == 0
}

// Err returns nil in advisory mode. In strict mode it returns a
// *StrictModeError unless the report is clean.
func (r *Report) Err(mode Mode) error {
	if mode != ModeStrict || r.Clean() {
		return nil
	}
	return &StrictModeError{
		Stage:      r.Stage,
		Violations: len(r.Violations),
		Warnings:   len(r.Warnings),
		Review:     len(r.References.Review),
	}
}

// Issues counts everything the report flags.
func (r *Report) Issues() int {
	return len(r.Violations) + len(r.Warnings) + len(r.References.Review)
}

func (r *Report) violate(v ...Violation) {
	r.Violations = append(r.Violations, v...)
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Markdown renders the report for humans.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Validation: %s\n\n", r.Stage)

	status := "PASSED"
	if !r.Passed() {
		status = "FAILED"
	} else if !r.Clean() {
		status = "PASSED with warnings"
	}
	fmt.Fprintf(&b, "**Status:** %s\n\n", status)

	refs := r.References
	if refs.Total() > 0 {
		b.WriteString("## References\n\n")
		b.WriteString("| kind | count |\n|------|-------|\n")
		fmt.Fprintf(&b, "| exact | %d |\n", refs.ExactCount)
		fmt.Fprintf(&b, "| fuzzy | %d |\n", refs.FuzzyCount)
		fmt.Fprintf(&b, "| needs review | %d |\n", len(refs.Review))
		fmt.Fprintf(&b, "| total | %d |\n\n", refs.Total())
	}

	if len(r.Violations) > 0 {
		b.WriteString("## Violations\n\n")
		for _, v := range r.Violations {
			fmt.Fprintf(&b, "- `%s` %s\n", v.Path, v.Message)
		}
		b.WriteString("\n")
	}

	if len(r.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	var fuzzy []Classification
	for _, c := range refs.All {
		if c.Kind == FuzzyTextMatch {
			fuzzy = append(fuzzy, c)
		}
	}
	if len(fuzzy) > 0 {
		b.WriteString("## Fuzzy matches\n\n")
		for _, c := range fuzzy {
			fmt.Fprintf(&b, "- %q: %s\n", c.Reference, c.Evidence)
		}
		b.WriteString("\n")
	}

	if len(refs.Review) > 0 {
		b.WriteString("## Needs manual review\n\n")
		for _, c := range refs.Review {
			fmt.Fprintf(&b, "- %q\n", c.Reference)
		}
		b.WriteString("\n")
	}
	return b.String()
}
