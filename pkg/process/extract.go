package process

import (
	"fmt"
	"io"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"jw-notices/pkg/models"
	"jw-notices/pkg/utils"
)

// Extraction is everything pulled out of one detail page
type Extraction struct {
	Found       bool // False when the content container is missing
	Content     string
	Attachments []models.Attachment
	HTML        string // Outer HTML of the container with links made absolute
}

// DetailExtractor turns detail page HTML into an Extraction using a selector table
type DetailExtractor struct {
	selectors *SelectorTable
	origin    *url.URL
	log       *logrus.Entry
}

// NewDetailExtractor creates a DetailExtractor. origin is the base for relative attachment links.
func NewDetailExtractor(selectors *SelectorTable, origin *url.URL, log *logrus.Entry) *DetailExtractor {
	return &DetailExtractor{selectors: selectors, origin: origin, log: log}
}

// ExtractReader parses an HTML document from r and extracts it.
// Only a document that cannot be parsed at all is an error.
func (e *DetailExtractor) ExtractReader(r io.Reader) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: HTML parse: %v", utils.ErrParsing, err)
	}
	return e.Extract(doc), nil
}

// Extract locates the first content container in doc and runs the content extractor and
// attachment resolver on it. A missing container yields the ContentNotFound placeholder
// and no attachments.
func (e *DetailExtractor) Extract(doc *goquery.Document) *Extraction {
	container := doc.FindMatcher(e.selectors.Content).First()
	if container.Length() == 0 {
		return &Extraction{Content: ContentNotFound, Attachments: []models.Attachment{}}
	}

	out := &Extraction{
		Found:       true,
		Content:     ExtractContent(container, e.selectors),
		Attachments: ResolveAttachments(container, e.selectors, e.origin, e.log),
	}

	// Rendering works on a copy so extraction above always sees the page as served
	rendered := container.Clone()
	AbsolutizeLinks(rendered, e.origin)
	if h, err := goquery.OuterHtml(rendered); err == nil {
		out.HTML = h
	} else {
		e.log.Warnf("Could not serialise content container: %v", err)
	}
	return out
}
