// Package extractor pulls image and video references out of HTML.
package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ltphuoc/media-scraper/internal/media"
)

var (
	imageAttrs  = []string{"src", "data-src", "data-lazy-src", "data-original"}
	srcsetAttrs = []string{"srcset", "data-srcset"}
	videoAttrs  = []string{"src", "href", "data-src", "data-lazy-src", "data-video-url"}
)

const videoSelector = "video, source, a[href], iframe[src], embed[src]"

// Result holds ordered, de-duplicated absolute media URLs.
type Result struct {
	Images []string
	Videos []string
}

// Extract parses html and resolves every media reference against pageURL,
// or against the document's <base href> when present. Videos observed by a
// renderer are appended after those found in markup.
func Extract(pageURL, html string, observedVideos []string) (Result, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("parse html: %w", err)
	}
	base = documentBase(doc, base)

	images := media.NewOrderedSet()
	videos := media.NewOrderedSet()

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		ref := firstAttr(s, imageAttrs)
		if ref == "" {
			ref = firstSrcsetCandidate(s)
		}
		if abs, ok := media.ResolveURL(base, ref); ok {
			images.Add(abs)
		}
	})

	doc.Find("video[poster]").Each(func(_ int, s *goquery.Selection) {
		poster, _ := s.Attr("poster")
		if abs, ok := media.ResolveURL(base, poster); ok {
			images.Add(abs)
		}
	})

	doc.Find(videoSelector).Each(func(_ int, s *goquery.Selection) {
		ref := firstAttr(s, videoAttrs)
		abs, ok := media.ResolveURL(base, ref)
		if !ok {
			return
		}
		if media.IsVideoURL(abs) || media.IsEmbedURL(abs) {
			videos.Add(abs)
		}
	})

	for _, raw := range observedVideos {
		if abs, ok := media.ResolveURL(nil, raw); ok {
			videos.Add(abs)
		}
	}

	return Result{Images: images.Items(), Videos: videos.Items()}, nil
}

func documentBase(doc *goquery.Document, page *url.URL) *url.URL {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return page
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return page
	}
	return page.ResolveReference(ref)
}

func firstAttr(s *goquery.Selection, attrs []string) string {
	for _, name := range attrs {
		if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// firstSrcsetCandidate returns the URL of the first "url descriptor" pair.
func firstSrcsetCandidate(s *goquery.Selection) string {
	raw := firstAttr(s, srcsetAttrs)
	if raw == "" {
		return ""
	}
	first := strings.TrimSpace(strings.Split(raw, ",")[0])
	if fields := strings.Fields(first); len(fields) > 0 {
		return fields[0]
	}
	return ""
}
