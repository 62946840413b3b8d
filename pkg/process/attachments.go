package process

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"jw-notices/pkg/models"
)

// UnnamedAttachment is the name given to a link with neither a title attribute nor text
const UnnamedAttachment = "Unnamed attachment"

// ResolveAttachments collects attachment links inside container, in document order.
// An href is used as-is when it is already absolute; otherwise it is resolved against origin.
// Scheme-relative hrefs keep their path but stay on origin's host.
// Links whose href cannot be parsed are dropped.
func ResolveAttachments(container *goquery.Selection, sel *SelectorTable, origin *url.URL, log *logrus.Entry) []models.Attachment {
	attachments := make([]models.Attachment, 0)

	container.FindMatcher(sel.AttachmentLink).Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok || !sel.isAttachmentHref(href) {
			return
		}

		resolved, err := resolveHref(href, origin)
		if err != nil {
			log.WithField("href", href).Warnf("Dropping attachment with unparseable URL: %v", err)
			return
		}

		attachments = append(attachments, models.Attachment{
			Name: attachmentName(link),
			URL:  resolved.String(),
		})
	})

	return attachments
}

func resolveHref(href string, origin *url.URL) (*url.URL, error) {
	// Browsers strip surrounding whitespace (including newlines) from href values
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return nil, err
	}
	if u.IsAbs() && u.Host != "" {
		return u, nil
	}
	if u.Host != "" {
		u.Host = ""
		u.User = nil
	}
	return origin.ResolveReference(u), nil
}

// attachmentName prefers the title attribute, then the link's first text node (untrimmed)
func attachmentName(link *goquery.Selection) string {
	if title, ok := link.Attr("title"); ok {
		return title
	}
	if text, ok := firstTextNode(link.Get(0)); ok {
		return text
	}
	return UnnamedAttachment
}

func firstTextNode(n *html.Node) (string, bool) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			return c.Data, true
		}
		if text, ok := firstTextNode(c); ok {
			return text, true
		}
	}
	return "", false
}
