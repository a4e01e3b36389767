package assembly

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Theme is one entry of stage2_themes.
type Theme struct {
	Name              string          `json:"name"`
	Slug              string          `json:"slug"`
	Description       string          `json:"description"`
	PatternConnection string          `json:"pattern_connection"`
	DeviceExamples    []DeviceExample `json:"device_examples"`
	// SlugDerived is set when slug was filled in from name.
	SlugDerived bool `json:"slug_derived,omitempty"`
}

type DeviceExample struct {
	DeviceName string `json:"device_name"`
	Quote      string `json:"quote"`
	Effect     string `json:"effect"`
}

// ThemeSet is the stage2_themes document.
type ThemeSet struct {
	Themes []Theme `json:"themes"`
}

// Thesis is one entry of stage3_theses.
type Thesis struct {
	Focus          string `json:"focus"`
	Statement      string `json:"statement"`
	StructureNotes string `json:"structure_notes"`
}

// ThesisSet is the stage3_theses document.
type ThesisSet struct {
	Theses []Thesis `json:"theses"`
}

// Block types produced by translation.
const (
	BlockStatement = "statement"
	BlockBullets   = "bullets"
	BlockScaffold  = "scaffold"
	BlockEmphasis  = "emphasis"
)

// Block is one unit of translated prose.
type Block struct {
	Type     string   `json:"type"`
	Text     string   `json:"text,omitempty"`
	Items    []string `json:"items,omitempty"`
	Question string   `json:"question,omitempty"`
}

// Content is a prose field: plain text until translation, a block list after.
type Content struct {
	Text   string
	Blocks []Block
}

// Text returns untranslated content.
func Text(s string) Content { return Content{Text: s} }

// Translated reports whether the field holds blocks.
func (c Content) Translated() bool { return c.Blocks != nil }

func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case len(data) > 0 && data[0] == '[':
		var blocks []Block
		if err := json.Unmarshal(data, &blocks); err != nil {
			return fmt.Errorf("content blocks: %w", err)
		}
		if blocks == nil {
			blocks = []Block{}
		}
		*c = Content{Blocks: blocks}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("content: want string or block list: %w", err)
	}
	*c = Content{Text: s}
	return nil
}

type Link struct {
	Text     string `json:"text"`
	URL      string `json:"url"`
	Emphasis bool   `json:"emphasis,omitempty"`
}

type Step struct {
	Step    int    `json:"step"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type LinkZone struct {
	Badge string `json:"badge"`
	Links []Link `json:"links"`
}

// Hub is the book landing page.
type Hub struct {
	PageType string   `json:"page_type"`
	BookSlug string   `json:"book_slug"`
	URL      string   `json:"url"`
	Zones    HubZones `json:"zones"`
}

type HubZones struct {
	Knowledge HubKnowledge `json:"knowledge"`
	Pedagogy  HubPedagogy  `json:"pedagogy"`
	CTA       LinkZone     `json:"cta"`
}

type HubKnowledge struct {
	Badge          string         `json:"badge"`
	Heading        string         `json:"heading"`
	Description    Content        `json:"description"`
	ReaderEffect   Content        `json:"reader_effect"`
	QuickReference QuickReference `json:"quick_reference"`
}

type QuickReference struct {
	Structure string `json:"structure"`
	Voice     string `json:"voice"`
	Tone      string `json:"tone"`
}

type HubPedagogy struct {
	Badge         string        `json:"badge"`
	Heading       string        `json:"heading"`
	WorkedExample WorkedExample `json:"worked_example"`
	Prompts       []string      `json:"prompts"`
}

type WorkedExample struct {
	Formula string `json:"formula"`
	Arrow   string `json:"arrow"`
	Effect  string `json:"effect"`
}

// ThemePage is one theme's page.
type ThemePage struct {
	PageType  string     `json:"page_type"`
	BookSlug  string     `json:"book_slug"`
	ThemeSlug string     `json:"theme_slug"`
	URL       string     `json:"url"`
	Zones     ThemeZones `json:"zones"`
}

type ThemeZones struct {
	Knowledge ThemeKnowledge `json:"knowledge"`
	Pedagogy  ThemePedagogy  `json:"pedagogy"`
	CTA       LinkZone       `json:"cta"`
}

type ThemeKnowledge struct {
	Badge             string          `json:"badge"`
	Heading           string          `json:"heading"`
	Description       Content         `json:"description"`
	PatternConnection Content         `json:"pattern_connection"`
	DeviceExamples    []DeviceExample `json:"device_examples"`
}

type ThemePedagogy struct {
	Badge      string `json:"badge"`
	ThreeSteps []Step `json:"three_steps"`
}

// EssayGuide is the thesis-building page.
type EssayGuide struct {
	PageType string     `json:"page_type"`
	BookSlug string     `json:"book_slug"`
	URL      string     `json:"url"`
	Zones    EssayZones `json:"zones"`
}

type EssayZones struct {
	Knowledge EssayKnowledge `json:"knowledge"`
	Pedagogy  EssayPedagogy  `json:"pedagogy"`
	CTA       EssayCTA       `json:"cta"`
}

type EssayKnowledge struct {
	Badge            string           `json:"badge"`
	Heading          string           `json:"heading"`
	ThesisComponents ThesisComponents `json:"thesis_components"`
	ExampleTheses    []Thesis         `json:"example_theses"`
}

type ThesisComponents struct {
	Pattern string   `json:"pattern"`
	Themes  []string `json:"themes"`
	Devices []string `json:"devices"`
}

type EssayPedagogy struct {
	Badge     string `json:"badge"`
	FourSteps []Step `json:"four_steps"`
}

type EssayCTA struct {
	Badge     string `json:"badge"`
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// Pages is the stage4_pages document, and after translation stage5_translation.
type Pages struct {
	Hub        Hub         `json:"hub"`
	Themes     []ThemePage `json:"themes"`
	EssayGuide EssayGuide  `json:"essay_guide"`
}

// ProseField names one translatable field of Pages.
type ProseField struct {
	Name    string
	Content *Content
}

// ProseFields returns the fields translation rewrites into blocks: the hub
// description and reader effect, and each theme's description and pattern
// connection. The essay guide is already structured and is left alone.
func (p *Pages) ProseFields() []ProseField {
	fields := []ProseField{
		{Name: "hub.knowledge.description", Content: &p.Hub.Zones.Knowledge.Description},
		{Name: "hub.knowledge.reader_effect", Content: &p.Hub.Zones.Knowledge.ReaderEffect},
	}
	for i := range p.Themes {
		k := &p.Themes[i].Zones.Knowledge
		slug := p.Themes[i].ThemeSlug
		fields = append(fields,
			ProseField{Name: "themes." + slug + ".description", Content: &k.Description},
			ProseField{Name: "themes." + slug + ".pattern_connection", Content: &k.PatternConnection},
		)
	}
	return fields
}
