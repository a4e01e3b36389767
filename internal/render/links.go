package render

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"patternpress/internal/logging"
)

// BrokenLink is a link in a rendered page that points at no generated file.
type BrokenLink struct {
	Page   string
	Href   string
	Target string
}

func (b BrokenLink) String() string {
	return fmt.Sprintf("%s: %s (%s)", b.Page, b.Href, b.Target)
}

// CheckLinks parses every HTML file under siteDir and reports local links
// that do not resolve. Root-relative links resolve against the parent of
// siteDir, which is the dist directory. External links and bare fragments
// are skipped.
func CheckLinks(siteDir string) ([]BrokenLink, error) {
	distRoot := filepath.Dir(filepath.Clean(siteDir))
	var broken []BrokenLink

	err := filepath.WalkDir(siteDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".html") {
			return nil
		}
		hrefs, err := pageLinks(p)
		if err != nil {
			return err
		}
		for _, href := range hrefs {
			target, ok := resolveLink(href, filepath.Dir(p), distRoot)
			if !ok {
				continue
			}
			if !exists(target) {
				rel, _ := filepath.Rel(siteDir, p)
				broken = append(broken, BrokenLink{Page: filepath.ToSlash(rel), Href: href, Target: target})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("check links: %w", err)
	}
	for _, b := range broken {
		logging.RenderWarn("Broken link %s", b)
	}
	return broken, nil
}

func pageLinks(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" {
					hrefs = append(hrefs, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hrefs, nil
}

// resolveLink maps href to the file it should serve. ok is false for links
// that are not checked.
func resolveLink(href, pageDir, distRoot string) (string, bool) {
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	u, err := url.Parse(href)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	if u.Path == "" {
		return "", false
	}

	var target string
	if strings.HasPrefix(u.Path, "/") {
		target = filepath.Join(distRoot, filepath.FromSlash(u.Path))
	} else {
		target = filepath.Join(pageDir, filepath.FromSlash(u.Path))
	}
	if strings.HasSuffix(u.Path, "/") {
		target = filepath.Join(target, "index.html")
	}
	return target, true
}

func exists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		_, err = os.Stat(filepath.Join(path, "index.html"))
		return err == nil
	}
	return true
}
