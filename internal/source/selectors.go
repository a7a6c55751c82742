package source

import (
	"fmt"
	"regexp"
)

// Selectors locate the fields the harvester needs.
type Selectors struct {
	Title       string
	ChapterList string
	ChapterLink string
	Content     string
	Challenge   string
}

// DefaultSelectors matches czbooks.net markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Title:       "span.title",
		ChapterList: "ul.nav.chapter-list",
		ChapterLink: "a",
		Content:     "div.content",
		Challenge:   "#challenge-form",
	}
}

func (s Selectors) withDefaults() Selectors {
	def := DefaultSelectors()
	if s.Title == "" {
		s.Title = def.Title
	}
	if s.ChapterList == "" {
		s.ChapterList = def.ChapterList
	}
	if s.ChapterLink == "" {
		s.ChapterLink = def.ChapterLink
	}
	if s.Content == "" {
		s.Content = def.Content
	}
	if s.Challenge == "" {
		s.Challenge = def.Challenge
	}
	return s
}

// DefaultIDPattern extracts the collection id from a collection URL path.
const DefaultIDPattern = `/n/([\w-]+)`

// Parser extracts fields using one set of selectors.
type Parser struct {
	sel Selectors
	id  *regexp.Regexp
}

// NewParser compiles idPattern (DefaultIDPattern when empty). The pattern
// must contain one capture group.
func NewParser(sel Selectors, idPattern string) (*Parser, error) {
	if idPattern == "" {
		idPattern = DefaultIDPattern
	}
	re, err := regexp.Compile(idPattern)
	if err != nil {
		return nil, fmt.Errorf("compile id pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("id pattern %q needs a capture group", idPattern)
	}
	return &Parser{sel: sel.withDefaults(), id: re}, nil
}
