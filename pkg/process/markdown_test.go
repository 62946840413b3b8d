package process

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMarkdown(t *testing.T) {
	out, err := ToMarkdown(`<div class="content"><h3>选课通知</h3><p>请于<strong>3月15日</strong>前完成选课。</p></div>`)

	require.NoError(t, err)
	assert.Contains(t, out, "### 选课通知")
	assert.Contains(t, out, "**3月15日**")
}

func TestToMarkdown_Empty(t *testing.T) {
	out, err := ToMarkdown("   ")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestAbsolutizeLinks(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div>
		<a id="rel" href="/upload/file/a.pdf">a</a>
		<a id="abs" href="https://other.example/x">x</a>
		<a id="frag" href="#top">top</a>
		<img id="img" src="upload/img/p.png">
	</div>`))
	require.NoError(t, err)
	base, _ := url.Parse("https://jw.scut.edu.cn")

	AbsolutizeLinks(doc.Selection, base)

	href := func(id, attr string) string {
		v, _ := doc.Find("#" + id).Attr(attr)
		return v
	}
	assert.Equal(t, "https://jw.scut.edu.cn/upload/file/a.pdf", href("rel", "href"))
	assert.Equal(t, "https://other.example/x", href("abs", "href"))
	assert.Equal(t, "#top", href("frag", "href"))
	assert.Equal(t, "https://jw.scut.edu.cn/upload/img/p.png", href("img", "src"))
}
