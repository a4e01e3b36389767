package render

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"patternpress/internal/assembly"
	"patternpress/internal/logging"
)

// Manifest lists the files of one rendered site. Files are slash-separated
// and relative to Root.
type Manifest struct {
	Slug  string   `json:"slug"`
	Root  string   `json:"root"`
	Files []string `json:"files"`
}

// RenderSite writes the hub, theme pages and essay guide under dist/<slug>/.
func RenderSite(dist string, site SiteMeta, pages *assembly.Pages) (*Manifest, error) {
	if site.Slug == "" {
		site.Slug = pages.Hub.BookSlug
	}
	if err := checkSegment(site.Slug); err != nil {
		return nil, err
	}
	root := filepath.Join(dist, site.Slug)
	timer := logging.StartTimer(logging.CategoryRender, "RenderSite "+site.Slug)
	defer timer.Stop()

	m := &Manifest{Slug: site.Slug, Root: root}
	write := func(rel string, data []byte) error {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("render %s: %w", rel, err)
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return fmt.Errorf("render %s: %w", rel, err)
		}
		logging.RenderDebug("Wrote %s (%d bytes)", full, len(data))
		m.Files = append(m.Files, rel)
		return nil
	}

	data, err := RenderHub(site, &pages.Hub)
	if err != nil {
		return nil, fmt.Errorf("render hub: %w", err)
	}
	if err := write("index.html", data); err != nil {
		return nil, err
	}

	for i := range pages.Themes {
		page := &pages.Themes[i]
		if err := checkSegment(page.ThemeSlug); err != nil {
			return nil, fmt.Errorf("theme %d: %w", i, err)
		}
		data, err := RenderTheme(site, page)
		if err != nil {
			return nil, fmt.Errorf("render theme %s: %w", page.ThemeSlug, err)
		}
		if err := write(path.Join("themes", page.ThemeSlug, "index.html"), data); err != nil {
			return nil, err
		}
	}

	data, err = RenderEssayGuide(site, &pages.EssayGuide)
	if err != nil {
		return nil, fmt.Errorf("render essay guide: %w", err)
	}
	if err := write("essay-guide/index.html", data); err != nil {
		return nil, err
	}

	sort.Strings(m.Files)
	logging.Render("Rendered %s: %d files under %s", site.Slug, len(m.Files), root)
	return m, nil
}

func checkSegment(s string) error {
	if strings.TrimSpace(s) == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("invalid path segment %q", s)
	}
	return nil
}
