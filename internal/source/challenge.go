package source

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var challengeMarkers = [][]byte{
	[]byte("/cdn-cgi/challenge-platform"),
	[]byte("cf-browser-verification"),
	[]byte("cf_chl_opt"),
	[]byte("<title>just a moment...</title>"),
}

// IsChallenge reports whether the page is an anti-bot interstitial rather than
// the requested document.
func (p *Parser) IsChallenge(page Page, doc *goquery.Document) bool {
	if strings.EqualFold(page.Header.Get("cf-mitigated"), "challenge") {
		return true
	}
	if doc != nil && p.sel.Challenge != "" && doc.Find(p.sel.Challenge).Length() > 0 {
		return true
	}
	if page.StatusCode != http.StatusForbidden && page.StatusCode != http.StatusServiceUnavailable {
		return false
	}
	lower := bytes.ToLower(page.Body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}
