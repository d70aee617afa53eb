package headless

import (
	"context"

	"github.com/ltphuoc/media-scraper/internal/media"
)

// Noop implements media.Renderer for deployments without a browser. Every
// render yields empty HTML, so callers fall back to the static markup.
type Noop struct{}

// NewNoop creates a new Noop renderer.
func NewNoop() *Noop {
	return &Noop{}
}

// Render returns an empty result.
func (Noop) Render(context.Context, string) media.RenderResult {
	return media.RenderResult{}
}
