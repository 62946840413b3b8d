package process

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"jw-notices/pkg/config"
	"jw-notices/pkg/utils"
)

// SelectorTable holds the compiled matcher for each extraction role.
// Swapping the portal's markup means swapping this table, not the extraction code.
type SelectorTable struct {
	Content                goquery.Matcher
	Title                  goquery.Matcher
	Date                   goquery.Matcher
	Paragraph              goquery.Matcher
	Heading                goquery.Matcher
	AttachmentLink         goquery.Matcher
	AttachmentPathPatterns []string
}

// CompileSelectors compiles a SelectorConfig. Errors wrap utils.ErrConfigValidation.
func CompileSelectors(cfg config.SelectorConfig) (*SelectorTable, error) {
	table := &SelectorTable{AttachmentPathPatterns: cfg.AttachmentPathPatterns}

	roles := []struct {
		name   string
		source string
		dst    *goquery.Matcher
	}{
		{"content", cfg.Content, &table.Content},
		{"title", cfg.Title, &table.Title},
		{"date", cfg.Date, &table.Date},
		{"paragraph", cfg.Paragraph, &table.Paragraph},
		{"heading", cfg.Heading, &table.Heading},
		{"attachment_link", cfg.AttachmentLink, &table.AttachmentLink},
	}
	for _, r := range roles {
		sel, err := cascadia.Compile(r.source)
		if err != nil {
			return nil, fmt.Errorf("%w: selector %s %q: %v", utils.ErrConfigValidation, r.name, r.source, err)
		}
		*r.dst = sel
	}
	return table, nil
}

// MustDefaultSelectors compiles config.DefaultSelectors; it panics only if the built-in table is broken.
func MustDefaultSelectors() *SelectorTable {
	table, err := CompileSelectors(config.DefaultSelectors())
	if err != nil {
		panic(err)
	}
	return table
}

// isAttachmentHref reports whether href contains one of the attachment path substrings
func (t *SelectorTable) isAttachmentHref(href string) bool {
	for _, pattern := range t.AttachmentPathPatterns {
		if pattern != "" && strings.Contains(href, pattern) {
			return true
		}
	}
	return false
}
