package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"patternpress/internal/articulation"
	"patternpress/internal/assembly"
	"patternpress/internal/kernel"
	"patternpress/internal/logging"
	"patternpress/internal/render"
	"patternpress/internal/validation"
)

func extractionStage() Stage {
	return &stage{
		name: StageExtraction,
		kind: KindExtraction,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			x, notes := kernel.Extract(rc.Kernel, rc.Now())
			for _, n := range notes {
				logging.Pipeline("%s: %s", rc.Slug, n)
			}
			if !x.Validation.PatternPresent {
				logging.PipelineWarn("%s: kernel has no pattern name", rc.Slug)
			}
			return x, nil
		},
	}
}

// deriveObject runs one whole-stage derivation. Unparseable output is kept
// as a .raw sidecar before the stage fails.
func deriveObject(ctx context.Context, rc *RunContext, stageName, tmpl string, subs map[string]string) (map[string]any, error) {
	obj, raw, err := rc.Deriver.DeriveObject(ctx, tmpl, subs)
	if err != nil {
		var jerr *articulation.JSONRecoveryError
		if errors.As(err, &jerr) {
			if p, werr := rc.Store.WriteRaw(rc.Slug, stageName, raw); werr == nil {
				return nil, fmt.Errorf("%w (raw response saved to %s)", err, p)
			}
		}
		return nil, err
	}
	return obj, nil
}

func firstN[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

func themesStage() Stage {
	return &stage{
		name: StageThemes,
		kind: KindDerivation,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			s1, err := rc.Extraction()
			if err != nil {
				return nil, err
			}
			var samples []string
			for _, d := range firstN(s1.MicroDevices, 5) {
				samples = append(samples, fmt.Sprintf("- %s: %q", d.Name, d.AnchorPhrase))
			}
			subs := map[string]string{
				"pattern_name":             s1.Pattern.Name,
				"core_dynamic":             s1.Pattern.CoreDynamic,
				"reader_effect":            s1.Pattern.ReaderEffect,
				"tone":                     s1.MacroVariables.Rhetoric.Tone,
				"device_priorities":        strings.Join(firstN(s1.Pattern.DevicePriorities, 5), ", "),
				"device_mediation_summary": s1.DeviceMediation.Summary,
				"sample_devices":           strings.Join(samples, "\n"),
			}
			obj, err := deriveObject(ctx, rc, StageThemes, prompt("themes"), subs)
			if err != nil {
				return nil, err
			}

			var set assembly.ThemeSet
			if err := convert(obj, &set); err != nil {
				return nil, fmt.Errorf("decode themes: %w", err)
			}
			if len(set.Themes) == 0 {
				return nil, errors.New("no themes derived")
			}
			anchors := anchorPhrases(rc.Kernel)
			for i := range set.Themes {
				t := &set.Themes[i]
				if t.Slug == "" && t.Name != "" {
					t.Slug = kernel.DeriveSlug(t.Name)
					t.SlugDerived = true
					logging.PipelineWarn("%s: theme %q has no slug, using %q", rc.Slug, t.Name, t.Slug)
				}
				if t.DeviceExamples == nil {
					t.DeviceExamples = []assembly.DeviceExample{}
				}
				for j := range t.DeviceExamples {
					t.DeviceExamples[j].Quote = snapQuote(t.DeviceExamples[j].Quote, anchors)
				}
			}
			return set, nil
		},
		check: func(rc *RunContext, doc any) *validation.Report {
			return rc.Validator.Themes(doc, rc.Kernel)
		},
	}
}

func anchorPhrases(k *kernel.Kernel) []string {
	var out []string
	for _, d := range k.Devices() {
		if a := strings.TrimSpace(d.AnchorPhrase); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// snapQuote replaces a quote with the kernel anchor phrase it was taken
// from, when one contains the other ignoring case.
func snapQuote(quote string, anchors []string) string {
	q := strings.ToLower(strings.Trim(strings.TrimSpace(quote), `"'`))
	if q == "" {
		return quote
	}
	for _, a := range anchors {
		la := strings.ToLower(a)
		if strings.Contains(la, q) || strings.Contains(q, la) {
			return a
		}
	}
	return quote
}

func thesesStage() Stage {
	return &stage{
		name: StageTheses,
		kind: KindDerivation,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			s1, err := rc.Extraction()
			if err != nil {
				return nil, err
			}
			var themes assembly.ThemeSet
			if err := rc.Load(StageThemes, &themes); err != nil {
				return nil, err
			}
			lines := make([]string, 0, len(themes.Themes))
			for _, t := range themes.Themes {
				lines = append(lines, fmt.Sprintf("- %s: %s", t.Name, t.Description))
			}
			subs := map[string]string{
				"pattern_name":      s1.Pattern.Name,
				"core_dynamic":      s1.Pattern.CoreDynamic,
				"reader_effect":     s1.Pattern.ReaderEffect,
				"themes":            strings.Join(lines, "\n"),
				"device_priorities": strings.Join(firstN(s1.Pattern.DevicePriorities, 5), ", "),
			}
			obj, err := deriveObject(ctx, rc, StageTheses, prompt("theses"), subs)
			if err != nil {
				return nil, err
			}
			var set assembly.ThesisSet
			if err := convert(obj, &set); err != nil {
				return nil, fmt.Errorf("decode theses: %w", err)
			}
			if len(set.Theses) == 0 {
				return nil, errors.New("no theses derived")
			}
			return set, nil
		},
		check: func(rc *RunContext, doc any) *validation.Report {
			r := &validation.Report{Stage: StageTheses}
			r.Violations = validation.ValidateStructure(doc,
				validation.MinItems("theses", 1),
				validation.Required("theses[].statement"),
			)
			return r
		},
	}
}

func pagesStage() Stage {
	return &stage{
		name: StagePages,
		kind: KindAssembly,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			s1, err := rc.Extraction()
			if err != nil {
				return nil, err
			}
			var themes assembly.ThemeSet
			if err := rc.Load(StageThemes, &themes); err != nil {
				return nil, err
			}
			var theses assembly.ThesisSet
			if err := rc.Load(StageTheses, &theses); err != nil {
				return nil, err
			}
			pages, err := assembly.AssemblePages(s1, themes.Themes, theses.Theses)
			if err != nil {
				return nil, err
			}

			if err := rc.Store.WritePage(rc.Slug, "hub.json", pages.Hub); err != nil {
				return nil, err
			}
			for _, t := range pages.Themes {
				if err := rc.Store.WritePage(rc.Slug, path.Join("themes", t.ThemeSlug+".json"), t); err != nil {
					return nil, err
				}
			}
			if err := rc.Store.WritePage(rc.Slug, "essay_guide.json", pages.EssayGuide); err != nil {
				return nil, err
			}
			return pages, nil
		},
	}
}

func translationStage() Stage {
	return &stage{
		name: StageTranslation,
		kind: KindDerivation,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			var pages assembly.Pages
			if err := rc.Load(StagePages, &pages); err != nil {
				return nil, err
			}
			tmpl := prompt("translate")
			for _, f := range pages.ProseFields() {
				if f.Content.Translated() || strings.TrimSpace(f.Content.Text) == "" {
					continue
				}
				raw, err := rc.Deriver.Derive(ctx, tmpl, map[string]string{"text": f.Content.Text})
				if err != nil {
					return nil, fmt.Errorf("translate %s: %w", f.Name, err)
				}
				*f.Content = assembly.Content{Blocks: parseBlocks(f.Name, raw, f.Content.Text)}
			}
			return pages, nil
		},
	}
}

// parseBlocks decodes a translated block list. Output that is not a block
// array keeps the original text as a single statement.
func parseBlocks(field, raw, original string) []assembly.Block {
	fallback := []assembly.Block{{Type: assembly.BlockStatement, Text: original}}
	v, err := articulation.ExtractJSON(raw)
	if err != nil {
		logging.PipelineWarn("Translation of %s is not JSON, keeping original: %v", field, err)
		return fallback
	}
	if _, ok := v.([]any); !ok {
		logging.PipelineWarn("Translation of %s is not a block list, keeping original", field)
		return fallback
	}
	var blocks []assembly.Block
	if err := convert(v, &blocks); err != nil || len(blocks) == 0 {
		logging.PipelineWarn("Translation of %s has no usable blocks, keeping original", field)
		return fallback
	}
	return blocks
}

func renderStage() Stage {
	return &stage{
		name: StageRender,
		kind: KindRendering,
		run: func(ctx context.Context, rc *RunContext) (any, error) {
			return RenderSlug(rc)
		},
		check: func(rc *RunContext, doc any) *validation.Report {
			r := &validation.Report{Stage: StageRender}
			broken, err := render.CheckLinks(filepath.Join(rc.DistDir, rc.Slug))
			if err != nil {
				r.Warnings = append(r.Warnings, err.Error())
				return r
			}
			for _, b := range broken {
				r.Warnings = append(r.Warnings, "broken link "+b.String())
			}
			return r
		},
	}
}

// RenderSlug renders the site of rc.Slug from stage5_translation, or from
// stage4_pages when the run stopped before translation.
func RenderSlug(rc *RunContext) (*render.Manifest, error) {
	var pages assembly.Pages
	source := StageTranslation
	if err := rc.Load(source, &pages); err != nil {
		var missing *MissingCheckpointError
		if !errors.As(err, &missing) {
			return nil, err
		}
		source = StagePages
		if err := rc.Load(source, &pages); err != nil {
			return nil, err
		}
	}
	logging.PipelineDebug("%s: rendering from %s", rc.Slug, source)

	site := render.SiteMeta{Slug: rc.Slug}
	if rc.Kernel != nil {
		site.Title = rc.Kernel.Title()
		site.Author = rc.Kernel.Author()
	} else if s1, err := rc.Extraction(); err == nil {
		site.Title = s1.Metadata.Title
		site.Author = s1.Metadata.Author
	}
	return render.RenderSite(rc.DistDir, site, &pages)
}
