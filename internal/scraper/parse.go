package scraper

import (
	"net/url"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// parsePage converts html to markdown and pulls out links and metadata.
// Links are absolute http(s) URLs without fragments, deduplicated in
// document order.
func parsePage(base *url.URL, html string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	converter := htmlmd.NewConverter(base.Hostname(), true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		markdown = strings.TrimSpace(doc.Text())
	}

	page := &Page{
		URL:         base.String(),
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: doc.Find("meta[name=description]").AttrOr("content", ""),
		Language:    doc.Find("html").First().AttrOr("lang", ""),
		Markdown:    markdown,
		Links:       []string{},
	}
	if page.Title == "" {
		page.Title = doc.Find("meta[property='og:title']").AttrOr("content", "")
	}

	if canonical := doc.Find("link[rel=canonical]").AttrOr("href", ""); canonical != "" {
		if cu, err := base.Parse(canonical); err == nil {
			page.Canonical = cu.String()
		}
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		link, err := base.Parse(href)
		if err != nil {
			return
		}
		if link.Scheme != "http" && link.Scheme != "https" {
			return
		}
		link.Fragment = ""
		s := link.String()
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		page.Links = append(page.Links, s)
	})

	return page, nil
}
