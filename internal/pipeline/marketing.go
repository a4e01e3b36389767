package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"patternpress/internal/articulation"
	"patternpress/internal/kernel"
	"patternpress/internal/logging"
	"patternpress/internal/validation"
)

const (
	maxListedDevices = 8
	maxSampleQuotes  = 5
	maxSearchTerms   = 10
)

// orderedDevices returns the priority devices first, then the rest, each
// name once.
func orderedDevices(k *kernel.Kernel, limit int) []kernel.Device {
	devices := k.Devices()
	seen := make(map[string]bool)
	var out []kernel.Device
	add := func(d kernel.Device) {
		if len(out) < limit && !seen[d.Name] {
			seen[d.Name] = true
			out = append(out, d)
		}
	}
	for _, name := range k.DevicePriorities() {
		for _, d := range devices {
			if d.Name == name {
				add(d)
				break
			}
		}
	}
	for _, d := range devices {
		add(d)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func deviceList(k *kernel.Kernel, withSection bool) string {
	var lines []string
	for _, d := range orderedDevices(k, maxListedDevices) {
		if withSection {
			section := d.AssignedSection
			if section == "" {
				section = "N/A"
			}
			lines = append(lines, fmt.Sprintf("- %s (%s): %s", d.Name, section, truncate(d.Effect, 80)))
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", d.Name, truncate(d.Effect, 100)))
	}
	return strings.Join(lines, "\n")
}

func sampleQuotes(k *kernel.Kernel) string {
	var lines []string
	for _, d := range orderedDevices(k, len(k.Devices())) {
		if len(lines) == maxSampleQuotes {
			break
		}
		if d.AnchorPhrase != "" {
			lines = append(lines, fmt.Sprintf("%q (%s)", truncate(d.AnchorPhrase, 80), d.Name))
		}
	}
	if len(lines) == 0 {
		return "See device entries for quotes"
	}
	return strings.Join(lines, "\n")
}

func kernelPattern(k *kernel.Kernel) string {
	return fmt.Sprintf("Pattern: %s\nCore Dynamic: %s\nReader Effect: %s", k.PatternName(), k.CoreDynamic(), k.ReaderEffect())
}

func patternSubs(rc *RunContext) map[string]string {
	k := rc.Kernel
	return map[string]string{
		"book_title":    k.Title(),
		"pattern":       k.PatternName(),
		"core_dynamic":  k.CoreDynamic(),
		"reader_effect": k.ReaderEffect(),
		"device_list":   deviceList(k, true),
	}
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func audienceStage() Stage {
	return &stage{
		name: StageAudience,
		kind: KindDerivation,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			return deriveObject(ctx, rc, StageAudience, prompt("audience"), patternSubs(rc))
		},
		check: func(rc *RunContext, doc any) *validation.Report {
			return rc.Validator.Audience(doc, rc.Kernel)
		},
	}
}

type audienceDoc struct {
	Segments []struct {
		Name           string   `json:"name"`
		AwarenessStage string   `json:"awareness_stage"`
		PainPoint      string   `json:"pain_point"`
		SearchTerms    []string `json:"search_terms"`
	} `json:"segments"`
	HighIntentSearches []string `json:"high_intent_searches"`
}

func orUnknown(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func anglesStage() Stage {
	return &stage{
		name: StageAngles,
		kind: KindDerivation,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			var audience audienceDoc
			if err := rc.Load(StageAudience, &audience); err != nil {
				return nil, err
			}
			var segments []string
			var terms []string
			for _, s := range audience.Segments {
				segments = append(segments, fmt.Sprintf("- %s (%s): %s",
					orUnknown(s.Name, "Unnamed"), orUnknown(s.AwarenessStage, "Unknown"), orUnknown(s.PainPoint, "No pain point")))
				terms = append(terms, s.SearchTerms...)
			}
			if len(audience.HighIntentSearches) > 0 {
				terms = audience.HighIntentSearches
			}
			var termLines []string
			for _, t := range firstN(terms, maxSearchTerms) {
				termLines = append(termLines, "- "+t)
			}

			subs := patternSubs(rc)
			subs["audience_segments_summary"] = strings.Join(segments, "\n")
			subs["search_terms"] = strings.Join(termLines, "\n")
			return deriveObject(ctx, rc, StageAngles, prompt("angles"), subs)
		},
		check: func(rc *RunContext, doc any) *validation.Report {
			return rc.Validator.Angles(doc, rc.Kernel)
		},
	}
}

type anglesDoc struct {
	Angles []map[string]any `json:"angles"`
}

type draftEntry struct {
	AngleIndex int    `json:"angle_index"`
	Channel    string `json:"channel"`
	Message    string `json:"message"`
	Variations []any  `json:"variations"`
}

type failedDraft struct {
	AngleIndex int    `json:"angle_index"`
	Channel    string `json:"channel"`
	Error      string `json:"error"`
	RawPath    string `json:"raw_path,omitempty"`
}

type draftsDoc struct {
	Drafts []draftEntry  `json:"drafts"`
	Failed []failedDraft `json:"failed"`
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// draftsStage drafts every angle on its own. An angle whose output cannot be
// parsed is listed under failed with its .raw sidecar and the stage moves on.
// Any other derivation error, exhausted retries included, fails the stage so
// a resume derives every angle again. A run with no drafts at all fails too.
func draftsStage() Stage {
	return &stage{
		name: StageDrafts,
		kind: KindDerivation,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			var angles anglesDoc
			if err := rc.Load(StageAngles, &angles); err != nil {
				return nil, err
			}
			k := rc.Kernel
			base := map[string]string{
				"book_title":               k.Title(),
				"kernel_pattern":           k.PatternName(),
				"core_dynamic":             k.CoreDynamic(),
				"reader_effect":            k.ReaderEffect(),
				"device_list_with_effects": deviceList(k, false),
				"sample_quotes":            sampleQuotes(k),
			}
			tmpl := prompt("drafts")

			out := draftsDoc{Drafts: []draftEntry{}, Failed: []failedDraft{}}
			for i, angle := range angles.Angles {
				index := i + 1
				channel := strings.ToLower(stringField(angle, "channel"))
				subs := make(map[string]string, len(base)+1)
				for key, v := range base {
					subs[key] = v
				}
				subs["angle_json"] = prettyJSON(angle)

				obj, raw, err := rc.Deriver.DeriveObject(ctx, tmpl, subs)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					var jerr *articulation.JSONRecoveryError
					if !errors.As(err, &jerr) {
						return nil, fmt.Errorf("draft for angle %d: %w", index, err)
					}
					f := failedDraft{AngleIndex: index, Channel: channel, Error: err.Error()}
					if p, werr := rc.Store.WriteRaw(rc.Slug, fmt.Sprintf("%s_angle_%02d", StageDrafts, index), raw); werr == nil {
						f.RawPath = p
					}
					logging.PipelineWarn("%s: draft for angle %d failed: %v", rc.Slug, index, err)
					out.Failed = append(out.Failed, f)
					continue
				}
				variations, _ := obj["variations"].([]any)
				if variations == nil {
					variations = []any{}
				}
				out.Drafts = append(out.Drafts, draftEntry{
					AngleIndex: index,
					Channel:    channel,
					Message:    stringField(angle, "message"),
					Variations: variations,
				})
			}
			if len(out.Drafts) == 0 {
				return nil, fmt.Errorf("no angles were drafted (%d failed)", len(out.Failed))
			}
			logging.Pipeline("%s: drafted %d of %d angles", rc.Slug, len(out.Drafts), len(angles.Angles))
			return out, nil
		},
		check: func(rc *RunContext, doc any) *validation.Report {
			return rc.Validator.Drafts(doc, rc.Kernel)
		},
	}
}

type evaluationDoc struct {
	validation.EvaluationSet
	Winner struct {
		validation.Winner
		AgitationRegister string `json:"agitation_register"`
		SolutionRegister  string `json:"solution_register"`
	} `json:"winner"`
}

func evaluationStage() Stage {
	return &stage{
		name: StageEvaluation,
		kind: KindDerivation,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			var anglesRaw, draftsRaw any
			if err := rc.Load(StageAngles, &anglesRaw); err != nil {
				return nil, err
			}
			if err := rc.Load(StageDrafts, &draftsRaw); err != nil {
				return nil, err
			}
			inputs := rc.Validator.DraftInputs(anglesRaw, draftsRaw)
			if !inputs.Passed() {
				return nil, fmt.Errorf("evaluation inputs: %s", inputs.Violations[0])
			}

			var angles anglesDoc
			var drafts draftsDoc
			if err := convert(anglesRaw, &angles); err != nil {
				return nil, err
			}
			if err := convert(draftsRaw, &drafts); err != nil {
				return nil, err
			}
			candidates := make([]map[string]any, 0, len(drafts.Drafts))
			for _, d := range drafts.Drafts {
				c := map[string]any{"angle_id": d.AngleIndex, "variations": d.Variations}
				for key, v := range angles.Angles[d.AngleIndex-1] {
					c[key] = v
				}
				candidates = append(candidates, c)
			}

			subs := map[string]string{
				"num_angles":         strconv.Itoa(len(candidates)),
				"json_of_all_angles": prettyJSON(candidates),
				"kernel_pattern":     kernelPattern(rc.Kernel),
			}
			return deriveObject(ctx, rc, StageEvaluation, prompt("evaluation"), subs)
		},
		check: func(rc *RunContext, doc any) *validation.Report {
			r, check := rc.Validator.Evaluation(doc)
			if check.Found && !check.IsTopScorer {
				logging.PipelineWarn("%s: declared winner %s is not a top scorer %v", rc.Slug, check.WinnerID, check.TopScorers)
			}
			return r
		},
	}
}

// startingDrafts picks, per channel, the drafted angle with the best total
// score. Ties go to the lower angle index.
func startingDrafts(drafts draftsDoc, set validation.EvaluationSet) map[string]draftEntry {
	totals := make(map[int]float64)
	for _, e := range set.Evaluations {
		if n, err := strconv.Atoi(string(e.AngleID)); err == nil {
			totals[n] = e.TotalScore
		}
	}
	sorted := append([]draftEntry(nil), drafts.Drafts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := totals[sorted[i].AngleIndex], totals[sorted[j].AngleIndex]
		if ti != tj {
			return ti > tj
		}
		return sorted[i].AngleIndex < sorted[j].AngleIndex
	})
	out := make(map[string]draftEntry)
	for _, d := range sorted {
		if _, ok := out[d.Channel]; !ok {
			out[d.Channel] = d
		}
	}
	return out
}

func refinedStage() Stage {
	return &stage{
		name: StageRefined,
		kind: KindDerivation,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			var eval evaluationDoc
			if err := rc.Load(StageEvaluation, &eval); err != nil {
				return nil, err
			}
			var drafts draftsDoc
			if err := rc.Load(StageDrafts, &drafts); err != nil {
				return nil, err
			}
			if eval.Winner.CoreMessage == "" {
				return nil, errors.New("evaluation has no winner core_message")
			}
			eval.EvaluationSet.Winner = eval.Winner.Winner

			subs := map[string]string{
				"book_title":           rc.Kernel.Title(),
				"core_message":         eval.Winner.CoreMessage,
				"agitation_register":   orUnknown(eval.Winner.AgitationRegister, "Not defined"),
				"solution_register":    orUnknown(eval.Winner.SolutionRegister, "Not defined"),
				"kernel_pattern":       kernelPattern(rc.Kernel),
				"starting_drafts_json": prettyJSON(startingDrafts(drafts, eval.EvaluationSet)),
			}
			obj, err := deriveObject(ctx, rc, StageRefined, prompt("refined"), subs)
			if err != nil {
				return nil, err
			}
			if _, ok := obj["thread"]; !ok {
				obj["thread"] = eval.Winner.CoreMessage
			}
			return obj, nil
		},
		check: func(rc *RunContext, doc any) *validation.Report {
			return rc.Validator.Refined(doc, rc.Kernel)
		},
	}
}
