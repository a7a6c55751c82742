package source

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
)

// Page is a retrieved document.
type Page struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Document parses the page body.
func (p Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", p.URL, err)
	}
	return doc, nil
}

// Getter retrieves a page. Non-2xx responses are returned as pages, not
// errors, so challenge bodies can be inspected.
type Getter interface {
	Get(ctx context.Context, url string) (Page, error)
}

// GetterFunc adapts a function to Getter.
type GetterFunc func(ctx context.Context, url string) (Page, error)

// Get implements Getter.
func (f GetterFunc) Get(ctx context.Context, url string) (Page, error) { return f(ctx, url) }
