package process

import (
	"io"
	"net/url"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jw-notices/pkg/models"
)

func discardEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func portalOrigin(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("https://jw.scut.edu.cn")
	require.NoError(t, err)
	return u
}

func TestResolveAttachments(t *testing.T) {
	sel := MustDefaultSelectors()

	tests := []struct {
		name     string
		html     string
		expected []models.Attachment
	}{
		{
			name:     "relative link with text",
			html:     `<div class="content"><p><a href="/upload/file/report.pdf">Report</a></p></div>`,
			expected: []models.Attachment{{Name: "Report", URL: "https://jw.scut.edu.cn/upload/file/report.pdf"}},
		},
		{
			name:     "title attribute wins over text",
			html:     `<div class="content"><a href="/upload/file/a.xlsx" title="成绩单.xlsx">点击下载</a></div>`,
			expected: []models.Attachment{{Name: "成绩单.xlsx", URL: "https://jw.scut.edu.cn/upload/file/a.xlsx"}},
		},
		{
			name:     "no title and no text",
			html:     `<div class="content"><a href="/upload/file/b.doc"><img src="/icon.png"></a></div>`,
			expected: []models.Attachment{{Name: UnnamedAttachment, URL: "https://jw.scut.edu.cn/upload/file/b.doc"}},
		},
		{
			name:     "first descendant text node kept raw",
			html:     `<div class="content"><a href="/upload/file/c.zip"><span> 附件1 </span>.zip</a></div>`,
			expected: []models.Attachment{{Name: " 附件1 ", URL: "https://jw.scut.edu.cn/upload/file/c.zip"}},
		},
		{
			name:     "absolute link used as is",
			html:     `<div class="content"><a href="http://files.scut.edu.cn/upload/file/d.pdf">d</a></div>`,
			expected: []models.Attachment{{Name: "d", URL: "http://files.scut.edu.cn/upload/file/d.pdf"}},
		},
		{
			name:     "surrounding newline trimmed",
			html:     "<div class=\"content\"><a href=\"\n/upload/file/a.pdf\n\">a</a></div>",
			expected: []models.Attachment{{Name: "a", URL: "https://jw.scut.edu.cn/upload/file/a.pdf"}},
		},
		{
			name:     "leading space trimmed",
			html:     `<div class="content"><a href=" /upload/file/b.pdf">b</a></div>`,
			expected: []models.Attachment{{Name: "b", URL: "https://jw.scut.edu.cn/upload/file/b.pdf"}},
		},
		{
			name:     "scheme-relative link stays on the portal host",
			html:     `<div class="content"><a href="//cdn.example.com/upload/file/c.pdf?v=2">c</a></div>`,
			expected: []models.Attachment{{Name: "c", URL: "https://jw.scut.edu.cn/upload/file/c.pdf?v=2"}},
		},
		{
			name:     "static path without leading slash",
			html:     `<div class="content"><a href="static/upload/file/e.rar">e</a></div>`,
			expected: []models.Attachment{{Name: "e", URL: "https://jw.scut.edu.cn/static/upload/file/e.rar"}},
		},
		{
			name: "non-attachment links ignored",
			html: `<div class="content">
				<a href="/zhinan/cms/toPosts.do">列表</a>
				<a href="https://www.scut.edu.cn/">学校主页</a>
				<a>no href</a>
			</div>`,
			expected: []models.Attachment{},
		},
		{
			name:     "unparseable href dropped",
			html:     `<div class="content"><a href="/upload/file/%zz.pdf">bad</a><a href="/upload/file/ok.pdf">ok</a></div>`,
			expected: []models.Attachment{{Name: "ok", URL: "https://jw.scut.edu.cn/upload/file/ok.pdf"}},
		},
		{
			name: "document order preserved",
			html: `<div class="content">
				<p><a href="/upload/file/2.pdf">二</a></p>
				<a href="/upload/file/1.pdf">一</a>
			</div>`,
			expected: []models.Attachment{
				{Name: "二", URL: "https://jw.scut.edu.cn/upload/file/2.pdf"},
				{Name: "一", URL: "https://jw.scut.edu.cn/upload/file/1.pdf"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveAttachments(containerFrom(t, tt.html), sel, portalOrigin(t), discardEntry())
			require.NotNil(t, got)
			assert.Equal(t, tt.expected, got)
			for _, a := range got {
				u, err := url.Parse(a.URL)
				require.NoError(t, err)
				assert.True(t, u.IsAbs(), "attachment URL must be absolute: %s", a.URL)
			}
		})
	}
}

func TestResolveAttachments_OutsideContainerIgnored(t *testing.T) {
	doc := `<html><body>
		<a href="/upload/file/nav.pdf">nav</a>
		<div class="content"><a href="/upload/file/in.pdf">in</a></div>
	</body></html>`

	got := ResolveAttachments(containerFrom(t, doc), MustDefaultSelectors(), portalOrigin(t), discardEntry())

	assert.Equal(t, []models.Attachment{{Name: "in", URL: "https://jw.scut.edu.cn/upload/file/in.pdf"}}, got)
}
