package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func longPage(body string) string {
	return "<html><body>" + body + strings.Repeat("<p>filler text</p>", 500) + "</body></html>"
}

func TestHeuristic_Decide_Absent(t *testing.T) {
	t.Parallel()

	d := NewHeuristic(Config{}).Decide("")
	require.True(t, d.Render)
	require.Equal(t, RuleAbsent, d.Rule)
}

func TestHeuristic_Decide_ShortWithoutMedia(t *testing.T) {
	t.Parallel()

	d := NewHeuristic(Config{}).Decide("<html><body><p>hi</p></body></html>")
	require.True(t, d.Render)
	require.Equal(t, RuleShortWithoutMedia, d.Rule)
}

func TestHeuristic_Decide_ShortWithMediaStaysStatic(t *testing.T) {
	t.Parallel()

	d := NewHeuristic(Config{}).Decide(`<html><body><IMG src="/a.jpg"></body></html>`)
	require.False(t, d.Render)
	require.Equal(t, RuleNone, d.Rule)
}

func TestHeuristic_Decide_CSRFingerprint(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(Config{})
	cases := map[string]string{
		"root id":      longPage(`<div id="root"></div><img src="/a.jpg">`),
		"app class":    longPage(`<div class="app"></div><img src="/a.jpg">`),
		"next root":    longPage(`<div id="__next"></div><img src="/a.jpg">`),
		"next data":    longPage(`<script id="__NEXT_DATA__">{}</script><img src="/a.jpg">`),
		"angular":      longPage(`<app-root ng-version="17.0.0"></app-root><img src="/a.jpg">`),
		"vue app attr": longPage(`<div data-v-app></div><img src="/a.jpg">`),
	}
	for name, html := range cases {
		d := h.Decide(html)
		require.True(t, d.Render, name)
		require.Equal(t, RuleCSRFingerprint, d.Rule, name)
	}
}

func TestHeuristic_Decide_ClassMustMatchExactly(t *testing.T) {
	t.Parallel()

	d := NewHeuristic(Config{}).Decide(longPage(`<div class="app-shell"></div><img src="/a.jpg">`))
	require.False(t, d.Render)
}

func TestHeuristic_Decide_NoMedia(t *testing.T) {
	t.Parallel()

	d := NewHeuristic(Config{}).Decide(longPage(`<article>plain text</article>`))
	require.True(t, d.Render)
	require.Equal(t, RuleNoMedia, d.Rule)
}

func TestHeuristic_Decide_StaticPageWithMedia(t *testing.T) {
	t.Parallel()

	d := NewHeuristic(Config{}).Decide(longPage(`<video src="/clip.mp4"></video>`))
	require.False(t, d.Render)
	require.Equal(t, RuleNone, d.Rule)
}

func TestHeuristic_MinHTMLBytesConfigurable(t *testing.T) {
	t.Parallel()

	html := "<html><body><p>short but fine</p><img src=/x.png></body></html>"
	require.False(t, NewHeuristic(Config{MinHTMLBytes: 10}).Decide(html).Render)

	noMedia := "<html><body><p>short</p></body></html>"
	d := NewHeuristic(Config{MinHTMLBytes: 10}).Decide(noMedia)
	require.Equal(t, RuleNoMedia, d.Rule)
}

func TestHeuristic_CustomRulesAreOrdered(t *testing.T) {
	t.Parallel()

	never := NewRule("never", func(*Input) bool { return false })
	paywall := NewRule("paywall", func(in *Input) bool {
		return strings.Contains(in.HTML, "paywall")
	})
	h := New(never, paywall, NoMedia())

	d := h.Decide(`<div class="paywall"></div>`)
	require.Equal(t, "paywall", d.Rule)
	require.Len(t, h.Rules(), 3)

	extended := NewHeuristic(Config{}).With(paywall)
	require.Len(t, extended.Rules(), 5)
	require.Equal(t, "paywall", extended.Rules()[4].Name())
}

func TestInput_DocParsedOnce(t *testing.T) {
	t.Parallel()

	in := newInput(`<div id="app"></div>`)
	first := in.Doc()
	require.NotNil(t, first)
	require.Same(t, first, in.Doc())
}
