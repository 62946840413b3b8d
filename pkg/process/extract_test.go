package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jw-notices/pkg/config"
	"jw-notices/pkg/utils"
)

func TestDetailExtractor_ContainerMissing(t *testing.T) {
	ex := NewDetailExtractor(MustDefaultSelectors(), portalOrigin(t), discardEntry())

	got, err := ex.ExtractReader(strings.NewReader(`<html><body><div class="other"><a href="/upload/file/x.pdf">x</a></div></body></html>`))

	require.NoError(t, err)
	assert.False(t, got.Found)
	assert.Equal(t, ContentNotFound, got.Content)
	assert.NotNil(t, got.Attachments)
	assert.Empty(t, got.Attachments)
	assert.Empty(t, got.HTML)
}

func TestDetailExtractor_FullPage(t *testing.T) {
	ex := NewDetailExtractor(MustDefaultSelectors(), portalOrigin(t), discardEntry())
	page := `<html><body>
		<div class="header"><h1>华南理工大学教务处</h1></div>
		<div class="content">
			<h3 class="content-title">关于期末考试的通知</h3>
			<h5 class="content-date">2024.06.01</h5>
			<p>各学院：</p>
			<p>附件：<a href="/upload/file/exam.xlsx">考试安排.xlsx</a></p>
			<p><img src="/upload/img/a.png"></p>
		</div>
	</body></html>`

	got, err := ex.ExtractReader(strings.NewReader(page))

	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, "关于期末考试的通知\n\n2024.06.01\n\n各学院：\n\n附件：考试安排.xlsx", got.Content)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "https://jw.scut.edu.cn/upload/file/exam.xlsx", got.Attachments[0].URL)

	assert.Contains(t, got.HTML, `href="https://jw.scut.edu.cn/upload/file/exam.xlsx"`)
	assert.Contains(t, got.HTML, `src="https://jw.scut.edu.cn/upload/img/a.png"`)
	assert.NotContains(t, got.HTML, "华南理工大学教务处")
}

func TestDetailExtractor_CustomSelectorTable(t *testing.T) {
	cfg := config.DefaultSelectors()
	cfg.Content = "article#notice"
	cfg.Title = "header .t"
	sel, err := CompileSelectors(cfg)
	require.NoError(t, err)

	ex := NewDetailExtractor(sel, portalOrigin(t), discardEntry())
	got, err := ex.ExtractReader(strings.NewReader(`<article id="notice"><header><span class="t">新标题</span></header><p>正文</p></article>`))

	require.NoError(t, err)
	assert.True(t, got.Found)
	assert.Equal(t, "新标题\n\n正文", got.Content)
}

func TestCompileSelectors_Invalid(t *testing.T) {
	cfg := config.DefaultSelectors()
	cfg.Heading = "h1,,"

	_, err := CompileSelectors(cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
	assert.Contains(t, err.Error(), "heading")
}
