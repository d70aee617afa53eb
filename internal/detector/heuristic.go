// Package detector decides when a statically fetched page must be rendered
// in a headless browser before media extraction.
package detector

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ltphuoc/media-scraper/internal/media"
)

// Rule names reported in decisions.
const (
	RuleAbsent            = "absent"
	RuleShortWithoutMedia = "short-without-media"
	RuleCSRFingerprint    = "csr-fingerprint"
	RuleNoMedia           = "no-media"
	RuleNone              = "none"
)

// DefaultMinHTMLBytes is the length under which media-less HTML is suspect.
const DefaultMinHTMLBytes = 5000

var (
	defaultRootIDs = []string{"root", "app", "__next"}
	defaultMarkers = []string{
		"data-reactroot",
		"ng-version",
		"__NEXT_DATA__",
		"data-v-app",
		"data-server-rendered",
		`id="___gatsby"`,
		"__NUXT__",
	}
)

// Config tunes the default rule set.
type Config struct {
	MinHTMLBytes int
	RootIDs      []string
	Markers      []string
}

// Heuristic evaluates an ordered rule set; the first matching rule wins.
type Heuristic struct {
	rules []Rule
}

// NewHeuristic builds the default rule set from cfg.
func NewHeuristic(cfg Config) *Heuristic {
	if cfg.MinHTMLBytes == 0 {
		cfg.MinHTMLBytes = DefaultMinHTMLBytes
	}
	if len(cfg.RootIDs) == 0 {
		cfg.RootIDs = defaultRootIDs
	}
	if len(cfg.Markers) == 0 {
		cfg.Markers = defaultMarkers
	}
	return New(DefaultRules(cfg)...)
}

// New builds a Heuristic from an explicit rule list.
func New(rules ...Rule) *Heuristic {
	return &Heuristic{rules: append([]Rule(nil), rules...)}
}

// DefaultRules returns the standard rules in evaluation order.
func DefaultRules(cfg Config) []Rule {
	return []Rule{
		Absent(),
		ShortWithoutMedia(cfg.MinHTMLBytes),
		CSRFingerprint(cfg.RootIDs, cfg.Markers),
		NoMedia(),
	}
}

// Rules returns a copy of the configured rules.
func (h *Heuristic) Rules() []Rule {
	return append([]Rule(nil), h.rules...)
}

// With returns a new Heuristic with extra rules appended.
func (h *Heuristic) With(extra ...Rule) *Heuristic {
	return New(append(h.Rules(), extra...)...)
}

// Decide reports whether html needs a dynamic render. An empty string is
// treated as a failed static fetch.
func (h *Heuristic) Decide(html string) media.Decision {
	in := newInput(html)
	for _, rule := range h.rules {
		if rule.Match(in) {
			return media.Decision{Render: true, Rule: rule.Name()}
		}
	}
	return media.Decision{Render: false, Rule: RuleNone}
}

// Input is the page under evaluation. The goquery document is parsed at
// most once, and only when a rule asks for it.
type Input struct {
	HTML   string
	lower  string
	doc    *goquery.Document
	parsed bool
}

func newInput(html string) *Input {
	return &Input{HTML: html}
}

// Absent reports whether the static fetch produced nothing.
func (in *Input) Absent() bool {
	return in.HTML == ""
}

// HasMediaTag reports whether the markup mentions an <img or <video tag.
func (in *Input) HasMediaTag() bool {
	if in.lower == "" && in.HTML != "" {
		in.lower = strings.ToLower(in.HTML)
	}
	return strings.Contains(in.lower, "<img") || strings.Contains(in.lower, "<video")
}

// Doc returns the parsed document, or nil if the markup cannot be parsed.
func (in *Input) Doc() *goquery.Document {
	if in.parsed {
		return in.doc
	}
	in.parsed = true
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(in.HTML))
	if err == nil {
		in.doc = doc
	}
	return in.doc
}
