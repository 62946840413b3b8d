package process

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractHeadings parses markdown and returns the text of every heading in document order.
// Inline markup inside a heading (emphasis, links, code) contributes its text.
func ExtractHeadings(markdown []byte) []string {
	doc := goldmark.DefaultParser().Parse(text.NewReader(markdown))

	var headings []string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		collectInlineText(heading, markdown, &buf)
		if s := strings.TrimSpace(buf.String()); s != "" {
			headings = append(headings, s)
		}
		return ast.WalkSkipChildren, nil
	})

	return headings
}

func collectInlineText(n ast.Node, source []byte, buf *bytes.Buffer) {
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			buf.Write(c.Segment.Value(source))
			if c.SoftLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(c.Value)
		default:
			collectInlineText(child, source, buf)
		}
	}
}
