// Package render turns assembled pages into a static HTML site.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"patternpress/internal/assembly"
)

//go:embed templates/*.html templates/style.css
var templateFS embed.FS

var (
	stylesheet    template.CSS
	hubTemplate   *template.Template
	themeTemplate *template.Template
	guideTemplate *template.Template
)

func init() {
	css, err := templateFS.ReadFile("templates/style.css")
	if err != nil {
		panic(err)
	}
	stylesheet = template.CSS(css)

	hubTemplate = mustPage("hub.html")
	themeTemplate = mustPage("theme.html")
	guideTemplate = mustPage("essay_guide.html")
}

func mustPage(page string) *template.Template {
	funcMap := template.FuncMap{
		"content": RenderContentField,
	}
	return template.Must(template.New(page).Funcs(funcMap).ParseFS(templateFS,
		"templates/base.html", "templates/steps.html", "templates/"+page))
}

// UnknownBlockError is returned for a content block whose type the renderer
// does not know.
type UnknownBlockError struct {
	Type  string
	Index int
}

func (e *UnknownBlockError) Error() string {
	return fmt.Sprintf("content block %d: unknown type %q", e.Index, e.Type)
}

// SiteMeta is the book-level information shared by every page.
type SiteMeta struct {
	Title  string
	Author string
	Slug   string
}

type pageData struct {
	Title string
	CSS   template.CSS
	Site  SiteMeta
	Hub   *assembly.Hub
	Theme *assembly.ThemePage
	Guide *assembly.EssayGuide
}

// RenderContentField renders a prose field. Plain strings become one
// escaped paragraph; block lists render block by block.
func RenderContentField(v any) (template.HTML, error) {
	switch c := v.(type) {
	case nil:
		return "", nil
	case string:
		return paragraph(c), nil
	case assembly.Content:
		if !c.Translated() {
			return paragraph(c.Text), nil
		}
		return renderBlocks(c.Blocks)
	case *assembly.Content:
		if c == nil {
			return "", nil
		}
		return RenderContentField(*c)
	case []assembly.Block:
		return renderBlocks(c)
	case []any:
		blocks, err := blocksFromAny(c)
		if err != nil {
			return "", err
		}
		return renderBlocks(blocks)
	default:
		return "", fmt.Errorf("render content: unsupported value of type %T", v)
	}
}

func paragraph(s string) template.HTML {
	if s == "" {
		return ""
	}
	return template.HTML("<p>" + template.HTMLEscapeString(s) + "</p>")
}

func renderBlocks(blocks []assembly.Block) (template.HTML, error) {
	parts := make([]string, 0, len(blocks))
	for i, b := range blocks {
		var sb strings.Builder
		switch b.Type {
		case assembly.BlockStatement:
			sb.WriteString("<p>" + template.HTMLEscapeString(b.Text) + "</p>")
		case assembly.BlockBullets:
			sb.WriteString(`<ul class="bullet-list">`)
			for _, item := range b.Items {
				sb.WriteString("<li>" + template.HTMLEscapeString(item) + "</li>")
			}
			sb.WriteString("</ul>")
		case assembly.BlockScaffold:
			sb.WriteString(`<div class="scaffold-question"><span class="scaffold-label">Ask yourself:</span><p>`)
			sb.WriteString(template.HTMLEscapeString(b.Question))
			sb.WriteString("</p></div>")
		case assembly.BlockEmphasis:
			sb.WriteString(`<p class="emphasis"><strong>` + template.HTMLEscapeString(b.Text) + "</strong></p>")
		default:
			return "", &UnknownBlockError{Type: b.Type, Index: i}
		}
		parts = append(parts, sb.String())
	}
	return template.HTML(strings.Join(parts, "\n")), nil
}

// blocksFromAny converts decoded JSON blocks. A missing type reads as a
// statement.
func blocksFromAny(items []any) ([]assembly.Block, error) {
	blocks := make([]assembly.Block, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &UnknownBlockError{Type: fmt.Sprintf("%T", item), Index: i}
		}
		b := assembly.Block{Type: assembly.BlockStatement}
		if t, ok := m["type"].(string); ok && t != "" {
			b.Type = t
		}
		b.Text, _ = m["text"].(string)
		b.Question, _ = m["question"].(string)
		if raw, ok := m["items"].([]any); ok {
			for _, it := range raw {
				if s, ok := it.(string); ok {
					b.Items = append(b.Items, s)
				}
			}
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func execute(t *template.Template, data pageData) ([]byte, error) {
	data.CSS = stylesheet
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderHub renders the hub page.
func RenderHub(site SiteMeta, hub *assembly.Hub) ([]byte, error) {
	return execute(hubTemplate, pageData{
		Title: site.Title + " Analysis",
		Site:  site,
		Hub:   hub,
	})
}

// RenderTheme renders one theme page.
func RenderTheme(site SiteMeta, page *assembly.ThemePage) ([]byte, error) {
	return execute(themeTemplate, pageData{
		Title: page.Zones.Knowledge.Heading + " | " + site.Title,
		Site:  site,
		Theme: page,
	})
}

// RenderEssayGuide renders the essay guide.
func RenderEssayGuide(site SiteMeta, guide *assembly.EssayGuide) ([]byte, error) {
	return execute(guideTemplate, pageData{
		Title: "Essay Guide | " + site.Title,
		Site:  site,
		Guide: guide,
	})
}
