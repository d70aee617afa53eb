package detector

import (
	"fmt"
	"strings"
)

// Rule is one replaceable render trigger.
type Rule interface {
	Name() string
	Match(in *Input) bool
}

// RuleFunc adapts a function into a Rule.
type RuleFunc struct {
	name string
	fn   func(in *Input) bool
}

// NewRule wraps fn as a named Rule.
func NewRule(name string, fn func(in *Input) bool) RuleFunc {
	return RuleFunc{name: name, fn: fn}
}

// Name implements Rule.
func (r RuleFunc) Name() string { return r.name }

// Match implements Rule.
func (r RuleFunc) Match(in *Input) bool { return r.fn(in) }

// Absent fires when there is no HTML at all.
func Absent() Rule {
	return NewRule(RuleAbsent, func(in *Input) bool {
		return in.Absent()
	})
}

// ShortWithoutMedia fires for small documents without any media tag.
func ShortWithoutMedia(minBytes int) Rule {
	return NewRule(RuleShortWithoutMedia, func(in *Input) bool {
		return len(in.HTML) < minBytes && !in.HasMediaTag()
	})
}

// CSRFingerprint fires when an element's id or class equals one of rootIDs,
// or when any hydration marker appears in the markup.
func CSRFingerprint(rootIDs, markers []string) Rule {
	selector := rootSelector(rootIDs)
	return NewRule(RuleCSRFingerprint, func(in *Input) bool {
		if in.Absent() {
			return false
		}
		for _, marker := range markers {
			if marker != "" && strings.Contains(in.HTML, marker) {
				return true
			}
		}
		if selector == "" {
			return false
		}
		doc := in.Doc()
		if doc == nil {
			return false
		}
		return doc.Find(selector).Length() > 0
	})
}

// NoMedia fires when HTML exists but contains neither <img nor <video.
func NoMedia() Rule {
	return NewRule(RuleNoMedia, func(in *Input) bool {
		return !in.Absent() && !in.HasMediaTag()
	})
}

func rootSelector(ids []string) string {
	parts := make([]string, 0, len(ids)*2)
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		quoted := strings.ReplaceAll(id, `"`, `\"`)
		parts = append(parts, fmt.Sprintf(`[id="%s"]`, quoted), fmt.Sprintf(`[class="%s"]`, quoted))
	}
	return strings.Join(parts, ", ")
}
