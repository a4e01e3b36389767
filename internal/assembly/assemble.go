// Package assembly builds the study pages (hub, theme pages, essay guide)
// from the stage1 extraction and the derived themes and theses.
//
// Assembly is pure: the same inputs always give the same pages, and nothing
// here calls out or invents content. Fallbacks only cover descriptive fields.
package assembly

import (
	"fmt"
	"strings"

	"patternpress/internal/kernel"
	"patternpress/internal/logging"
)

// AssemblyError reports a theme that cannot become a page.
type AssemblyError struct {
	Field string
	Index int
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("theme %d: missing required field %q", e.Index, e.Field)
}

func checkTheme(t Theme, index int) error {
	if strings.TrimSpace(t.Slug) == "" {
		return &AssemblyError{Field: "slug", Index: index}
	}
	if strings.TrimSpace(t.Name) == "" {
		return &AssemblyError{Field: "name", Index: index}
	}
	return nil
}

func bookRoot(s1 *kernel.Extraction) string {
	return "/" + s1.Metadata.BookSlug + "/"
}

// AssembleHub builds the hub page.
func AssembleHub(s1 *kernel.Extraction, themes []Theme) (Hub, error) {
	pattern := s1.Pattern

	formula := StaticContent.FallbackFormula
	if p := pattern.DevicePriorities; len(p) > 0 {
		if len(p) > 3 {
			p = p[:3]
		}
		formula = strings.Join(p, " + ")
	}

	structure := StaticContent.FallbackStructure
	if n := s1.MacroVariables.Structure.TotalChapters; n != nil && *n > 0 {
		structure = fmt.Sprintf("%d chapters", *n)
	}

	links := make([]Link, 0, len(themes)+1)
	for i, t := range themes {
		if err := checkTheme(t, i); err != nil {
			return Hub{}, err
		}
		links = append(links, Link{Text: t.Name, URL: "themes/" + t.Slug + "/"})
	}
	links = append(links, Link{Text: StaticContent.BuildThesisText, URL: "essay-guide/", Emphasis: true})

	return Hub{
		PageType: "hub",
		BookSlug: s1.Metadata.BookSlug,
		URL:      bookRoot(s1),
		Zones: HubZones{
			Knowledge: HubKnowledge{
				Badge:        StaticContent.BadgeKnowledgeHub,
				Heading:      pattern.Name,
				Description:  Text(pattern.CoreDynamic),
				ReaderEffect: Text(pattern.ReaderEffect),
				QuickReference: QuickReference{
					Structure: structure,
					Voice:     s1.MacroVariables.Voice.POVDescription,
					Tone:      s1.MacroVariables.Rhetoric.Tone,
				},
			},
			Pedagogy: HubPedagogy{
				Badge:   StaticContent.BadgePedagogyHub,
				Heading: StaticContent.HeadingPedagogyHub,
				WorkedExample: WorkedExample{
					Formula: formula,
					Arrow:   "→",
					Effect:  pattern.ReaderEffect,
				},
				Prompts: append([]string(nil), StaticContent.Prompts...),
			},
			CTA: LinkZone{Badge: StaticContent.BadgeCTAHub, Links: links},
		},
	}, nil
}

// AssembleTheme builds the page for theme, the index-th entry of stage2_themes.
func AssembleTheme(s1 *kernel.Extraction, theme Theme, index int) (ThemePage, error) {
	if err := checkTheme(theme, index); err != nil {
		return ThemePage{}, err
	}

	firstDevice := StaticContent.FallbackFirstDevice
	if len(theme.DeviceExamples) > 0 && theme.DeviceExamples[0].DeviceName != "" {
		firstDevice = theme.DeviceExamples[0].DeviceName
	}
	examples := theme.DeviceExamples
	if examples == nil {
		examples = []DeviceExample{}
	}

	root := bookRoot(s1)
	titles := StaticContent.ThreeStepTitles
	return ThemePage{
		PageType:  "theme",
		BookSlug:  s1.Metadata.BookSlug,
		ThemeSlug: theme.Slug,
		URL:       root + "themes/" + theme.Slug + "/",
		Zones: ThemeZones{
			Knowledge: ThemeKnowledge{
				Badge:             "Knowledge: " + theme.Name,
				Heading:           theme.Name,
				Description:       Text(theme.Description),
				PatternConnection: Text(theme.PatternConnection),
				DeviceExamples:    examples,
			},
			Pedagogy: ThemePedagogy{
				Badge: StaticContent.BadgePedagogyTheme,
				ThreeSteps: []Step{
					{Step: 1, Title: titles[0], Content: s1.Pattern.ReaderEffect},
					{Step: 2, Title: titles[1], Content: fmt.Sprintf("See how %s and other devices create this theme", firstDevice)},
					{Step: 3, Title: titles[2], Content: theme.Description},
				},
			},
			CTA: LinkZone{
				Badge: StaticContent.BadgeCTATheme,
				Links: []Link{
					{Text: StaticContent.BackToHubText, URL: root},
					{Text: StaticContent.BuildThesisText, URL: root + "essay-guide/"},
				},
			},
		},
	}, nil
}

// AssembleEssayGuide builds the essay guide page.
func AssembleEssayGuide(s1 *kernel.Extraction, themes []Theme, theses []Thesis) (EssayGuide, error) {
	names := make([]string, 0, len(themes))
	for i, t := range themes {
		if err := checkTheme(t, i); err != nil {
			return EssayGuide{}, err
		}
		names = append(names, t.Name)
	}

	devices := s1.Pattern.DevicePriorities
	if len(devices) > 5 {
		devices = devices[:5]
	}
	devices = append([]string{}, devices...)

	steps := make([]Step, len(StaticContent.FourSteps))
	copy(steps, StaticContent.FourSteps[:])
	for i := range steps {
		if steps[i].Step == 3 {
			steps[i].Content = fmt.Sprintf("How does %s work?", s1.Pattern.Name)
		}
	}

	if theses == nil {
		theses = []Thesis{}
	}
	return EssayGuide{
		PageType: "essay_guide",
		BookSlug: s1.Metadata.BookSlug,
		URL:      bookRoot(s1) + "essay-guide/",
		Zones: EssayZones{
			Knowledge: EssayKnowledge{
				Badge:   StaticContent.BadgeKnowledgeEssay,
				Heading: "How to Write About " + s1.Metadata.Title,
				ThesisComponents: ThesisComponents{
					Pattern: s1.Pattern.Name,
					Themes:  names,
					Devices: devices,
				},
				ExampleTheses: theses,
			},
			Pedagogy: EssayPedagogy{Badge: StaticContent.BadgePedagogyEssay, FourSteps: steps},
			CTA: EssayCTA{
				Badge:     StaticContent.BadgeCTAEssay,
				Primary:   StaticContent.CTAPrimaryEssay,
				Secondary: StaticContent.CTASecondaryEssay,
			},
		},
	}, nil
}

// AssemblePages builds every page of a book.
func AssemblePages(s1 *kernel.Extraction, themes []Theme, theses []Thesis) (*Pages, error) {
	hub, err := AssembleHub(s1, themes)
	if err != nil {
		return nil, fmt.Errorf("hub: %w", err)
	}
	pages := &Pages{Hub: hub, Themes: make([]ThemePage, 0, len(themes))}
	for i, t := range themes {
		page, err := AssembleTheme(s1, t, i)
		if err != nil {
			return nil, err
		}
		pages.Themes = append(pages.Themes, page)
	}
	pages.EssayGuide, err = AssembleEssayGuide(s1, themes, theses)
	if err != nil {
		return nil, fmt.Errorf("essay guide: %w", err)
	}
	logging.Assembly("Assembled %s: 1 hub, %d themes, 1 essay guide", s1.Metadata.BookSlug, len(pages.Themes))
	return pages, nil
}
