package harvest

import (
	"fmt"
	"strings"
)

// Item is one fetchable unit of a collection, such as a chapter.
type Item struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Collection is an ordered list of items sharing a title. It is read once at
// the start of a run and never mutated by the harvester.
type Collection struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Items []Item `json:"items"`
}

// Validate checks the fields the harvester depends on.
func (c Collection) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: collection id", ErrMissingField)
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: collection title", ErrMissingField)
	}
	for i, item := range c.Items {
		if strings.TrimSpace(item.URL) == "" {
			return fmt.Errorf("%w: url of item %d", ErrMissingField, i+1)
		}
	}
	return nil
}

// FormatBlock renders a fetched item as it appears inside an artifact.
func FormatBlock(item Item, content string) string {
	return "\n\n" + item.Title + "\n\n" + content
}
