// Package listing discovers downloadable file links on a static HTML page.
package listing

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cantalupo555/gov-dataset-retriever/internal/fetch"
)

// Rules selects links on a listing page.
type Rules struct {
	// ItemSelector scopes the search. Empty means the whole document.
	ItemSelector string `yaml:"item_selector"`
	// LinkSelector is matched inside each item.
	LinkSelector string `yaml:"link_selector"`
	// TextContains keeps only links whose text contains it, case-insensitively.
	TextContains string `yaml:"text_contains"`
	// Extension is appended to the derived file name when it lacks one.
	Extension string `yaml:"extension"`
}

// Link is one discovered file.
type Link struct {
	URL      string
	Filename string
}

// Discover fetches pageURL and extracts the links matched by rules, in
// document order, without duplicates.
func Discover(ctx context.Context, client *fetch.Client, pageURL string, rules Rules) ([]Link, error) {
	resp, err := client.Do(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	links := Extract(doc, base, rules)
	slog.Info("✓ Discovered links", "page", pageURL, "count", len(links))
	return links, nil
}

// Extract applies rules to an already parsed document.
func Extract(doc *goquery.Document, base *url.URL, rules Rules) []Link {
	scopes := doc.Selection
	if rules.ItemSelector != "" {
		scopes = doc.Find(rules.ItemSelector)
	}
	linkSel := rules.LinkSelector
	if linkSel == "" {
		linkSel = "a[href]"
	}
	needle := strings.ToLower(rules.TextContains)

	var links []Link
	seen := make(map[string]bool)

	scopes.Find(linkSel).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		if needle != "" && !strings.Contains(strings.ToLower(strings.TrimSpace(a.Text())), needle) {
			return
		}

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			slog.Debug("skipping malformed href", "href", href, "error", err)
			return
		}
		abs := base.ResolveReference(ref)
		if seen[abs.String()] {
			return
		}
		seen[abs.String()] = true

		links = append(links, Link{URL: abs.String(), Filename: Filename(abs, rules.Extension)})
	})

	return links
}

// Filename derives a local file name from the last path segment of u. ext is
// appended unless the segment already ends with it.
func Filename(u *url.URL, ext string) string {
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = u.Hostname()
	}
	if ext != "" && !strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		name += ext
	}
	return name
}
