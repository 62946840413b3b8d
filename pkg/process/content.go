package process

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ContentNotFound is the content placeholder used when a detail page has no content container
const ContentNotFound = "Content not found"

// ExtractContent flattens a content container into plain text blocks separated by blank lines:
// the title marker, then the date marker, then every non-empty paragraph, then every non-empty
// heading that is not the title or date marker. Title and date text is kept as-is; paragraph and
// heading text is trimmed. The result is trimmed.
func ExtractContent(container *goquery.Selection, sel *SelectorTable) string {
	var b strings.Builder
	markers := make(map[*html.Node]bool, 2)

	for _, m := range []goquery.Matcher{sel.Title, sel.Date} {
		marker := container.FindMatcher(m).First()
		if marker.Length() == 0 {
			continue
		}
		markers[marker.Get(0)] = true
		b.WriteString(marker.Text())
		b.WriteString("\n\n")
	}

	writeBlocks := func(blocks *goquery.Selection) {
		blocks.Each(func(_ int, s *goquery.Selection) {
			if markers[s.Get(0)] {
				return
			}
			text := strings.TrimSpace(s.Text())
			if text == "" {
				return
			}
			b.WriteString(text)
			b.WriteString("\n\n")
		})
	}
	writeBlocks(container.FindMatcher(sel.Paragraph))
	writeBlocks(container.FindMatcher(sel.Heading))

	return strings.TrimSpace(b.String())
}
