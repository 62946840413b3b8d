package process

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"jw-notices/pkg/utils"
)

// ToMarkdown converts a content container's HTML to Markdown
func ToMarkdown(containerHTML string) (string, error) {
	if strings.TrimSpace(containerHTML) == "" {
		return "", nil
	}
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(containerHTML)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrMarkdownConversion, err)
	}
	return markdown, nil
}

// AbsolutizeLinks rewrites relative a[href] and img[src] values in content against base.
// Fragment-only and unparseable values are left alone.
func AbsolutizeLinks(content *goquery.Selection, base *url.URL) {
	rewrite := func(attr string) func(int, *goquery.Selection) {
		return func(_ int, s *goquery.Selection) {
			raw, _ := s.Attr(attr)
			if raw == "" || strings.HasPrefix(raw, "#") {
				return
			}
			u, err := url.Parse(raw)
			if err != nil || (u.IsAbs() && u.Host != "") {
				return
			}
			s.SetAttr(attr, base.ResolveReference(u).String())
		}
	}
	content.Find("a[href]").Each(rewrite("href"))
	content.Find("img[src]").Each(rewrite("src"))
}
