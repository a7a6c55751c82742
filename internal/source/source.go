package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/harvest"
)

// ErrUnsupportedURL rejects collection URLs outside the configured source.
var ErrUnsupportedURL = errors.New("unsupported collection url")

// Source loads collections and fetches item text through a Getter. It
// implements harvest.Fetcher.
type Source struct {
	getter    Getter
	parser    *Parser
	urlPrefix string
	logger    *zap.Logger
}

var _ harvest.Fetcher = (*Source)(nil)

// New builds a Source. An empty urlPrefix accepts any collection URL.
func New(getter Getter, parser *Parser, urlPrefix string, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{getter: getter, parser: parser, urlPrefix: urlPrefix, logger: logger}
}

// Parser exposes the field extractor.
func (s *Source) Parser() *Parser {
	return s.parser
}

// CheckURL validates a collection URL and returns its id.
func (s *Source) CheckURL(collectionURL string) (string, error) {
	if s.urlPrefix != "" && !strings.HasPrefix(collectionURL, s.urlPrefix) {
		return "", fmt.Errorf("%w: %q does not start with %q", ErrUnsupportedURL, collectionURL, s.urlPrefix)
	}
	return s.parser.CollectionID(collectionURL)
}

// LoadCollection fetches and parses a collection page.
func (s *Source) LoadCollection(ctx context.Context, collectionURL string) (harvest.Collection, error) {
	if _, err := s.CheckURL(collectionURL); err != nil {
		return harvest.Collection{}, err
	}
	page, doc, err := s.retrieve(ctx, collectionURL)
	if err != nil {
		return harvest.Collection{}, err
	}
	// Parse against the requested URL so redirects cannot change the id.
	coll, err := s.parser.ParseCollection(doc, collectionURL)
	if err != nil {
		return harvest.Collection{}, err
	}
	s.logger.Info("collection loaded",
		zap.String("collection_id", coll.ID),
		zap.String("title", coll.Title),
		zap.Int("items", len(coll.Items)),
		zap.String("final_url", page.URL))
	return coll, nil
}

// Fetch implements harvest.Fetcher.
func (s *Source) Fetch(ctx context.Context, item harvest.Item) (string, error) {
	_, doc, err := s.retrieve(ctx, item.URL)
	if err != nil {
		return "", err
	}
	return s.parser.ExtractContent(doc)
}

func (s *Source) retrieve(ctx context.Context, pageURL string) (Page, *goquery.Document, error) {
	page, err := s.getter.Get(ctx, pageURL)
	if err != nil {
		return Page{}, nil, fmt.Errorf("%w: get %s: %w", harvest.ErrFetchFailed, pageURL, err)
	}
	doc, err := page.Document()
	if err != nil {
		return Page{}, nil, fmt.Errorf("%w: %w", harvest.ErrFetchFailed, err)
	}
	if s.parser.IsChallenge(page, doc) {
		return Page{}, nil, fmt.Errorf("%w: %s", harvest.ErrChallengeBlocked, pageURL)
	}
	if page.StatusCode < 200 || page.StatusCode >= 300 {
		return Page{}, nil, fmt.Errorf("%w: %s returned status %d", harvest.ErrFetchFailed, pageURL, page.StatusCode)
	}
	return page, doc, nil
}
