package validation

import (
	"fmt"
	"sort"
	"strings"

	"patternpress/internal/config"
	"patternpress/internal/kernel"
	"patternpress/internal/logging"
)

// LayerSections are the five narrative sections of layer 2, in order.
var LayerSections = []string{"Exposition", "Rising Action", "Climax", "Falling Action", "Resolution"}

// RefinedChannels are the channels stage6_refined must produce.
var RefinedChannels = []string{"social", "youtube", "seo", "guide"}

const minAnglesPerChannel = 3

// Validator runs the per-stage checks.
type Validator struct {
	Matcher       Matcher
	WeakThreshold float64
}

// New returns a Validator with the default thresholds.
func New() *Validator {
	return &Validator{Matcher: DefaultMatcher(), WeakThreshold: DefaultWeakThreshold}
}

// NewFromConfig builds a Validator from the validation config section.
// Zero values keep the defaults.
func NewFromConfig(cfg config.ValidationConfig) *Validator {
	v := New()
	if cfg.SnippetRadius > 0 {
		v.Matcher.SnippetRadius = cfg.SnippetRadius
	}
	if cfg.MinOverlapWords > 0 {
		v.Matcher.MinOverlapWords = cfg.MinOverlapWords
	}
	if cfg.WeakThreshold > 0 {
		v.WeakThreshold = float64(cfg.WeakThreshold)
	}
	return v
}

func (v *Validator) finish(r *Report) *Report {
	logging.Validation("%s: %d violations, %d warnings, refs exact=%d fuzzy=%d review=%d",
		r.Stage, len(r.Violations), len(r.Warnings), r.References.ExactCount, r.References.FuzzyCount, len(r.References.Review))
	for _, c := range r.References.Review {
		logging.ValidationDebug("%s: needs review: %q", r.Stage, c.Reference)
	}
	return r
}

// Audience checks stage2_audience.
func (v *Validator) Audience(doc any, k *kernel.Kernel) *Report {
	r := &Report{Stage: "stage2_audience"}
	r.violate(ValidateStructure(doc,
		MinItems("segments", 1),
		Required("segments[].name"),
		Required("segments[].pain_point"),
		MinItems("segments[].search_terms", 3),
	)...)

	var refs []string
	for _, seg := range listAt(doc, "segments") {
		kr := mapAt(seg, "kernel_references")
		refs = append(refs, stringsAt(kr, "devices")...)
		if p := stringAt(kr, "pattern"); p != "" {
			refs = append(refs, p)
		}
	}
	r.References = v.Matcher.ValidateBatch(refs, k)
	return v.finish(r)
}

// Angles checks stage3_angles.
func (v *Validator) Angles(doc any, k *kernel.Kernel) *Report {
	r := &Report{Stage: "stage3_angles"}
	r.violate(ValidateStructure(doc,
		MinItems("angles", 1),
		Required("angles[].message"),
		Required("angles[].pain_point"),
		MinItems("angles[].kernel_elements", 1),
	)...)

	perChannel := make(map[string]int)
	var refs []string
	for i, angle := range listAt(doc, "angles") {
		channel := strings.ToLower(strings.TrimSpace(stringAt(angle, "channel")))
		if channel == "" {
			channel = "unspecified"
		}
		perChannel[channel]++
		if stringAt(angle, "why_this_derives") == "" {
			r.warnf("angles[%d] has no why_this_derives", i)
		}
		refs = append(refs, stringsAt(angle, "kernel_elements")...)
	}

	channels := make([]string, 0, len(perChannel))
	for c := range perChannel {
		channels = append(channels, c)
	}
	sort.Strings(channels)
	for _, c := range channels {
		if n := perChannel[c]; n < minAnglesPerChannel {
			r.violate(Violation{Rule: "min_per_channel", Path: "angles",
				Message: fmt.Sprintf("channel %q has %d angles, want at least %d", c, n, minAnglesPerChannel)})
		}
	}

	r.References = v.Matcher.ValidateBatch(refs, k)
	return v.finish(r)
}

// Drafts checks stage4_drafts. Entries in the failed list become warnings.
func (v *Validator) Drafts(doc any, k *kernel.Kernel) *Report {
	r := &Report{Stage: "stage4_drafts"}
	r.violate(ValidateStructure(doc,
		MinItems("drafts", 1),
		MinItems("drafts[].variations", 2),
		Required("drafts[].variations[].text"),
	)...)

	var refs []string
	for _, d := range listAt(doc, "drafts") {
		for _, variation := range listAt(d, "variations") {
			refs = append(refs, stringsAt(variation, "kernel_references")...)
		}
	}
	for _, f := range listAt(doc, "failed") {
		r.warnf("draft for angle %v failed: %s", valueAt(f, "angle_index"), stringAt(f, "error"))
	}
	r.References = v.Matcher.ValidateBatch(refs, k)
	return v.finish(r)
}

// DraftInputs checks that the drafts can feed evaluation: at least one
// draft, no more drafts than angles, and unique 1-based angle indices in range.
func (v *Validator) DraftInputs(angles, drafts any) *Report {
	r := &Report{Stage: "stage5_evaluation inputs"}
	total := len(listAt(angles, "angles"))
	list := listAt(drafts, "drafts")

	if len(list) == 0 {
		r.violate(Violation{Rule: "draft_inputs", Path: "drafts", Message: "no angles were drafted"})
		return v.finish(r)
	}
	if len(list) > total {
		r.violate(Violation{Rule: "draft_inputs", Path: "drafts",
			Message: fmt.Sprintf("%d drafts but only %d angles", len(list), total)})
	}

	seen := make(map[int]bool)
	for i, d := range list {
		idx, ok := intAt(d, "angle_index")
		path := fmt.Sprintf("drafts[%d].angle_index", i)
		switch {
		case !ok:
			r.violate(Violation{Rule: "draft_inputs", Path: path, Message: "missing"})
		case idx < 1 || idx > total:
			r.violate(Violation{Rule: "draft_inputs", Path: path,
				Message: fmt.Sprintf("references angle %d but only %d exist", idx, total)})
		case seen[idx]:
			r.violate(Violation{Rule: "draft_inputs", Path: path, Message: fmt.Sprintf("duplicate angle index %d", idx)})
		}
		seen[idx] = true
	}
	return v.finish(r)
}

// Evaluation checks stage5_evaluation and confirms the declared winner.
func (v *Validator) Evaluation(doc any) (*Report, WinnerCheck) {
	r := &Report{Stage: "stage5_evaluation"}
	r.violate(ValidateStructure(doc,
		MinItems("evaluations", 1),
		Required("winner.angle_id"),
	)...)

	for i, e := range listAt(doc, "evaluations") {
		scores := mapAt(e, "scores")
		for _, name := range ScoreCriteria {
			s, ok := scores[name].(float64)
			if !ok {
				r.violate(Violation{Rule: "score", Path: fmt.Sprintf("evaluations[%d].scores.%s", i, name), Message: "missing"})
				continue
			}
			if s < 0 || s > 10 {
				r.violate(Violation{Rule: "score", Path: fmt.Sprintf("evaluations[%d].scores.%s", i, name),
					Message: fmt.Sprintf("%s is outside 0..10", formatScore(s))})
			}
		}
	}

	set, err := ParseEvaluationSet(doc)
	if err != nil {
		r.violate(Violation{Rule: "decode", Path: "evaluations", Message: err.Error()})
		return v.finish(r), WinnerCheck{}
	}
	check := confirmWinner(set, v.WeakThreshold)
	r.Warnings = append(r.Warnings, check.Warnings()...)
	return v.finish(r), check
}

// Channels checks a channel strategy map: every channel needs a job and at
// least two must_do and must_not_do entries, and jobs must differ. When
// thread is non-empty, a job that shares no word with it is flagged.
func (v *Validator) Channels(strategy map[string]any, thread string) *Report {
	r := &Report{Stage: "channel_strategy"}
	names := make([]string, 0, len(strategy))
	for name := range strategy {
		names = append(names, name)
	}
	sort.Strings(names)

	threadWords := wordSet(strings.ToLower(thread))
	jobs := make(map[string]string)
	for _, name := range names {
		s := strategy[name]
		job := stringAt(s, "job")
		if job == "" {
			r.violate(Violation{Rule: "required", Path: name + ".job", Message: "missing or empty"})
		} else {
			if other, dup := jobs[job]; dup {
				r.violate(Violation{Rule: "distinct_jobs", Path: name + ".job", Message: fmt.Sprintf("same job as %s", other)})
			}
			jobs[job] = name
			if len(threadWords) > 0 && len(intersect(wordSet(strings.ToLower(job)), threadWords)) == 0 {
				r.warnf("%s: job does not clearly use the thread", name)
			}
		}
		for _, key := range []string{"must_do", "must_not_do"} {
			if n := len(listAt(s, key)); n < 2 {
				r.violate(Violation{Rule: "min_items", Path: name + "." + key,
					Message: fmt.Sprintf("has %d items, want at least 2", n)})
			}
		}
		if stringAt(s, "success_metric") == "" {
			r.warnf("%s: no success_metric", name)
		}
	}
	return v.finish(r)
}

// Refined checks stage6_refined. Channel names match case-insensitively.
func (v *Validator) Refined(doc any, k *kernel.Kernel) *Report {
	r := &Report{Stage: "stage6_refined"}
	blocks := make(map[string]any)
	for name, block := range mapAt(doc, "content_blocks") {
		blocks[strings.ToLower(name)] = block
	}

	var refs []string
	for _, channel := range RefinedChannels {
		block, ok := blocks[channel]
		if !ok {
			r.violate(Violation{Rule: "required", Path: "content_blocks." + channel, Message: "channel missing"})
			continue
		}
		for _, viol := range ValidateStructure(block, Required("final_content"), Required("constraint_validation")) {
			viol.Path = "content_blocks." + channel + "." + viol.Path
			r.violate(viol)
		}
		cv := mapAt(block, "constraint_validation")
		for _, flag := range []string{"job_accomplished", "thread_visible"} {
			if b, ok := cv[flag].(bool); ok && !b {
				r.warnf("%s: constraint_validation.%s is false", channel, flag)
			}
		}
		refs = append(refs, stringsAt(block, "kernel_references")...)
	}

	if strategy := mapAt(doc, "channel_strategy"); len(strategy) > 0 {
		cr := v.Channels(strategy, stringAt(doc, "thread"))
		for _, viol := range cr.Violations {
			viol.Path = "channel_strategy." + viol.Path
			r.violate(viol)
		}
		r.Warnings = append(r.Warnings, cr.Warnings...)
	}

	r.References = v.Matcher.ValidateBatch(refs, k)
	return v.finish(r)
}

// Themes checks stage2_themes. Quotes that appear in no kernel anchor
// phrase and slugs filled in from the theme name are flagged.
func (v *Validator) Themes(doc any, k *kernel.Kernel) *Report {
	r := &Report{Stage: "stage2_themes"}
	r.violate(ValidateStructure(doc,
		MinItems("themes", 1),
		Required("themes[].name"),
		Required("themes[].slug"),
		MinItems("themes[].device_examples", 1),
		Required("themes[].device_examples[].device_name"),
	)...)

	var anchors []string
	for _, d := range k.Devices() {
		if d.AnchorPhrase != "" {
			anchors = append(anchors, normalizeQuote(d.AnchorPhrase))
		}
	}

	var refs []string
	slugs := make(map[string]bool)
	for i, theme := range listAt(doc, "themes") {
		if s := stringAt(theme, "slug"); s != "" {
			if slugs[s] {
				r.violate(Violation{Rule: "distinct_slugs", Path: fmt.Sprintf("themes[%d].slug", i), Message: fmt.Sprintf("duplicate slug %q", s)})
			}
			slugs[s] = true
			if derived, _ := valueAt(theme, "slug_derived").(bool); derived {
				r.warnf("themes[%d].slug: missing from the response, derived from name as %q", i, s)
			}
		}
		for j, ex := range listAt(theme, "device_examples") {
			refs = append(refs, stringAt(ex, "device_name"))
			q := stringAt(ex, "quote")
			if q != "" && !quoteInAnchors(normalizeQuote(q), anchors) {
				r.warnf("themes[%d].device_examples[%d]: quote not found in kernel anchors: %q", i, j, q)
			}
		}
	}
	r.References = v.Matcher.ValidateBatch(refs, k)
	return v.finish(r)
}

// Layers checks stage2_layers.
func (v *Validator) Layers(doc any) *Report {
	r := &Report{Stage: "stage2_layers"}
	r.violate(ValidateStructure(doc,
		Required("metadata"),
		Required("layer_1_whats_happening.who_tells_it"),
		Required("layer_1_whats_happening.what_we_experience"),
		Required("layer_1_whats_happening.how_it_feels"),
		OrderedSections("layer_2_meaning_by_section", "section", LayerSections),
		Required("layer_3_connections.step_1"),
		Required("layer_3_connections.step_2"),
		Required("layer_3_connections.step_3"),
		Required("layer_3_connections.pattern_name"),
		Required("layer_4_thesis.thesis_sentence"),
	)...)
	return v.finish(r)
}

func normalizeQuote(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("“", "", "”", "", "‘", "'", "’", "'", "\"", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func quoteInAnchors(q string, anchors []string) bool {
	q = strings.Trim(q, " .,;:!?'")
	if q == "" {
		return true
	}
	for _, a := range anchors {
		a = strings.Trim(a, " .,;:!?'")
		if a == "" {
			continue
		}
		if strings.Contains(a, q) || strings.Contains(q, a) {
			return true
		}
	}
	return false
}

func valueAt(doc any, key string) any {
	m, _ := doc.(map[string]any)
	return m[key]
}

func listAt(doc any, key string) []any {
	l, _ := valueAt(doc, key).([]any)
	return l
}

func mapAt(doc any, key string) map[string]any {
	m, _ := valueAt(doc, key).(map[string]any)
	return m
}

func stringAt(doc any, key string) string {
	s, _ := valueAt(doc, key).(string)
	return strings.TrimSpace(s)
}

func stringsAt(doc any, key string) []string {
	var out []string
	for _, item := range listAt(doc, key) {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intAt(doc any, key string) (int, bool) {
	switch n := valueAt(doc, key).(type) {
	case float64:
		return int(n), n == float64(int(n))
	case int:
		return n, true
	}
	return 0, false
}
