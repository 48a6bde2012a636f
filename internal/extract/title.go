// Package extract derives the artifact title from a fetched HTML page.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html/charset"
)

// DefaultSelector matches the document title.
const DefaultSelector = "title"

// ErrNoTitle means the page did not have the expected shape.
var ErrNoTitle = errors.New("title not found")

// Extractor pulls the text of the first element matching a CSS selector.
type Extractor struct {
	selector string
}

func New(selector string) (*Extractor, error) {
	if strings.TrimSpace(selector) == "" {
		selector = DefaultSelector
	}
	if _, err := cascadia.Compile(selector); err != nil {
		return nil, fmt.Errorf("invalid title selector %q: %w", selector, err)
	}
	return &Extractor{selector: selector}, nil
}

func (e *Extractor) Selector() string {
	return e.selector
}

// Title decodes body using the charset from contentType (or the page's own
// meta tag) and returns the selected text on a single line.
func (e *Extractor) Title(body []byte, contentType string) (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	title := strings.Join(strings.Fields(doc.Find(e.selector).First().Text()), " ")
	if title == "" {
		return "", ErrNoTitle
	}
	return title, nil
}
