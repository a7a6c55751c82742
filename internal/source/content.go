package source

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/novel-harvester/internal/harvest"
)

// ExtractContent returns the item text. Line breaks expressed as <br> are
// kept as newlines; surrounding whitespace is trimmed.
func (p *Parser) ExtractContent(doc *goquery.Document) (string, error) {
	sel := doc.Find(p.sel.Content).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: content not found (%s)", harvest.ErrFetchFailed, p.sel.Content)
	}
	sel = sel.Clone()
	sel.Find("br").ReplaceWithHtml("\n")
	sel.Find("script, style").Remove()
	return strings.TrimSpace(sel.Text()), nil
}
