package source

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/novel-harvester/internal/harvest"
)

// CollectionID extracts the collection id from a collection URL.
func (p *Parser) CollectionID(pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("%w: collection id: %w", harvest.ErrMissingField, err)
	}
	m := p.id.FindStringSubmatch(u.Path)
	if len(m) < 2 || m[1] == "" {
		return "", fmt.Errorf("%w: collection id in %q", harvest.ErrMissingField, pageURL)
	}
	return m[1], nil
}

// ParseCollection reads the title and ordered item list from a collection
// page. Relative item links are resolved against pageURL.
func (p *Parser) ParseCollection(doc *goquery.Document, pageURL string) (harvest.Collection, error) {
	id, err := p.CollectionID(pageURL)
	if err != nil {
		return harvest.Collection{}, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return harvest.Collection{}, fmt.Errorf("parse collection url: %w", err)
	}

	title := normalizeSpace(doc.Find(p.sel.Title).First().Text())
	if title == "" {
		return harvest.Collection{}, fmt.Errorf("%w: title (%s)", harvest.ErrMissingField, p.sel.Title)
	}
	list := doc.Find(p.sel.ChapterList)
	if list.Length() == 0 {
		return harvest.Collection{}, fmt.Errorf("%w: chapter list (%s)", harvest.ErrMissingField, p.sel.ChapterList)
	}

	coll := harvest.Collection{ID: id, Title: title}
	list.Find(p.sel.ChapterLink).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		ref, err := base.Parse(href)
		if err != nil {
			return
		}
		coll.Items = append(coll.Items, harvest.Item{
			URL:   ref.String(),
			Title: normalizeSpace(a.Text()),
		})
	})
	return coll, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
