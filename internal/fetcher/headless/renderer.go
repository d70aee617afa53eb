package headless

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/metrics"
)

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Config controls the behavior of the renderer.
type Config struct {
	MaxParallel    int
	Timeout        time.Duration
	BodyWait       time.Duration
	IdleWait       time.Duration
	Settle         time.Duration
	ScrollStep     int
	ScrollInterval time.Duration
	ScrollMax      int
	ViewportWidth  int64
	ViewportHeight int64
	UserAgent      string
}

func (c Config) withDefaults() Config {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 40 * time.Second
	}
	if c.BodyWait <= 0 {
		c.BodyWait = 10 * time.Second
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 15 * time.Second
	}
	if c.Settle < 0 {
		c.Settle = 0
	} else if c.Settle == 0 {
		c.Settle = 3 * time.Second
	}
	if c.ScrollStep <= 0 {
		c.ScrollStep = 300
	}
	if c.ScrollInterval <= 0 {
		c.ScrollInterval = 100 * time.Millisecond
	}
	if c.ScrollMax <= 0 {
		c.ScrollMax = 8000
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1920
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 1080
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	return c
}

// TabOpener hands out browser tabs; *Browser is the production implementation.
type TabOpener interface {
	NewTab(ctx context.Context) (context.Context, context.CancelFunc, error)
}

// DomainLimiter paces renders per host.
type DomainLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Renderer implements media.Renderer on top of a shared browser.
type Renderer struct {
	cfg     Config
	tabs    TabOpener
	limiter DomainLimiter
	slots   chan struct{}
	logger  *zap.Logger
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithDomainLimiter paces renders per host.
func WithDomainLimiter(l DomainLimiter) Option {
	return func(r *Renderer) { r.limiter = l }
}

// WithLogger sets the renderer logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRenderer builds a renderer that opens tabs from tabs.
func NewRenderer(cfg Config, tabs TabOpener, opts ...Option) *Renderer {
	cfg = cfg.withDefaults()
	r := &Renderer{
		cfg:    cfg,
		tabs:   tabs,
		slots:  make(chan struct{}, cfg.MaxParallel),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("renderer")
	return r
}

// Render loads url in a fresh tab and returns the final markup plus every
// video URL observed on the wire or in the DOM. It never fails outright:
// problems are logged and yield an empty HTML string.
func (r *Renderer) Render(ctx context.Context, url string) media.RenderResult {
	videos := newVideoSet()
	start := time.Now()

	html, err := r.render(ctx, url, videos)
	metrics.ObserveRender(err == nil && html != "", time.Since(start))
	if err != nil {
		r.logger.Warn("render failed",
			zap.String("url", url),
			zap.Int("videos_observed", videos.Len()),
			zap.Error(err),
		)
		return media.RenderResult{HTML: "", VideoURLs: videos.Items()}
	}
	return media.RenderResult{HTML: html, VideoURLs: videos.Items()}
}

func (r *Renderer) render(ctx context.Context, url string, videos *videoSet) (string, error) {
	if err := r.acquire(ctx); err != nil {
		return "", &media.RenderError{URL: url, Stage: "acquire", Err: err}
	}
	defer r.release()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, url); err != nil {
			return "", &media.RenderError{URL: url, Stage: "rate-limit", Err: err}
		}
	}

	tabCtx, releaseTab, err := r.tabs.NewTab(ctx)
	if err != nil {
		return "", &media.RenderError{URL: url, Stage: "tab", Err: err}
	}
	defer releaseTab()

	tabCtx, cancel := context.WithTimeout(tabCtx, r.cfg.Timeout)
	defer cancel()

	idle := newIdleTracker()
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go continueRequest(tabCtx, e.RequestID)
		case *network.EventRequestWillBeSent:
			idle.begin(string(e.RequestID))
		case *network.EventLoadingFinished:
			idle.end(string(e.RequestID))
		case *network.EventLoadingFailed:
			idle.end(string(e.RequestID))
		case *network.EventResponseReceived:
			if e.Response != nil && matchesVideoResponse(e.Response.URL, e.Response.MimeType) {
				videos.Add(e.Response.URL)
			}
		case *cdpruntime.EventBindingCalled:
			if e.Name == bindingName {
				videos.AddReported(e.Payload)
			}
		}
	})

	if err := chromedp.Run(tabCtx, r.setupAction()); err != nil {
		return "", &media.RenderError{URL: url, Stage: "setup", Err: err}
	}
	if err := chromedp.Run(tabCtx, chromedp.Navigate(url)); err != nil {
		return "", &media.RenderError{URL: url, Stage: "navigate", Err: err}
	}
	idle.wait(tabCtx, r.cfg.IdleWait)

	r.bestEffort(tabCtx, url, "wait-body", r.cfg.BodyWait, chromedp.WaitVisible("body", chromedp.ByQuery))

	var scrolled int
	r.bestEffort(tabCtx, url, "scroll", r.scrollBudget(),
		chromedp.Evaluate(scrollScript(r.cfg.ScrollStep, r.cfg.ScrollMax, int(r.cfg.ScrollInterval/time.Millisecond)),
			&scrolled, awaitPromise))

	var installed bool
	r.bestEffort(tabCtx, url, "observe", 5*time.Second, chromedp.Evaluate(observerScript, &installed))

	var clicked bool
	r.bestEffort(tabCtx, url, "click-play", 5*time.Second, chromedp.Evaluate(clickPlayScript, &clicked))

	if r.cfg.Settle > 0 {
		if err := chromedp.Run(tabCtx, chromedp.Sleep(r.cfg.Settle)); err != nil {
			return "", &media.RenderError{URL: url, Stage: "settle", Err: err}
		}
	}

	var found []string
	r.bestEffort(tabCtx, url, "scan", 5*time.Second, chromedp.Evaluate(scanScript, &found))
	for _, candidate := range found {
		if media.IsVideoURL(candidate) {
			videos.Add(candidate)
		}
	}

	html, err := r.captureHTML(tabCtx)
	if err != nil {
		return "", &media.RenderError{URL: url, Stage: "capture", Err: err}
	}
	r.logger.Debug("render complete",
		zap.String("url", url),
		zap.Int("html_bytes", len(html)),
		zap.Int("scrolled_px", scrolled),
		zap.Bool("clicked_play", clicked),
		zap.Int("videos_observed", videos.Len()),
	)
	return html, nil
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetDeviceMetricsOverride(r.cfg.ViewportWidth, r.cfg.ViewportHeight, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := fetch.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable fetch domain: %w", err)
		}
		if err := cdpruntime.AddBinding(bindingName).Do(ctx); err != nil {
			return fmt.Errorf("add binding: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(observerScript).Do(ctx); err != nil {
			return fmt.Errorf("install observer: %w", err)
		}
		return nil
	})
}

// bestEffort runs action under its own deadline and only logs failures.
func (r *Renderer) bestEffort(ctx context.Context, url, stage string, budget time.Duration, action chromedp.Action) {
	stepCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	if err := chromedp.Run(stepCtx, action); err != nil {
		r.logger.Debug("render step skipped",
			zap.String("url", url),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
}

// captureHTML reads the final markup, retrying once through script
// evaluation when the frame was detached mid-read.
func (r *Renderer) captureHTML(ctx context.Context) (string, error) {
	var html string
	err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err == nil && html != "" {
		return html, nil
	}
	r.logger.Debug("outer html failed, retrying via evaluate", zap.Error(err))

	retryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if retryErr := chromedp.Run(retryCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(outerHTMLScript, &html),
	); retryErr != nil {
		return "", fmt.Errorf("capture html: %w", retryErr)
	}
	return html, nil
}

func (r *Renderer) scrollBudget() time.Duration {
	steps := r.cfg.ScrollMax/r.cfg.ScrollStep + 1
	return time.Duration(steps)*r.cfg.ScrollInterval + 5*time.Second
}

func (r *Renderer) acquire(ctx context.Context) error {
	select {
	case r.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	select {
	case <-r.slots:
	default:
	}
}

func continueRequest(ctx context.Context, id fetch.RequestID) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	_ = fetch.ContinueRequest(id).Do(cdp.WithExecutor(ctx, c.Target))
}

func awaitPromise(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// matchesVideoResponse applies the video pattern set to a network response.
func matchesVideoResponse(url, mimeType string) bool {
	return media.IsVideoContentType(mimeType) || media.IsVideoURL(url)
}

// videoSet accumulates observed video URLs for a single render.
type videoSet struct {
	mu  sync.Mutex
	set *media.OrderedSet
}

func newVideoSet() *videoSet {
	return &videoSet{set: media.NewOrderedSet()}
}

func (v *videoSet) Add(raw string) {
	normalized, ok := media.ResolveURL(nil, raw)
	if !ok {
		return
	}
	v.mu.Lock()
	v.set.Add(normalized)
	v.mu.Unlock()
}

type reportedSource struct {
	Tag string `json:"tag"`
	Src string `json:"src"`
}

// AddReported records a source reported by the in-page observer. Audio
// sources only count when their URL looks like video.
func (v *videoSet) AddReported(payload string) {
	var src reportedSource
	if err := json.Unmarshal([]byte(payload), &src); err != nil {
		return
	}
	if src.Tag == "AUDIO" && !media.IsVideoURL(src.Src) {
		return
	}
	v.Add(src.Src)
}

func (v *videoSet) Items() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set.Items()
}

func (v *videoSet) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.set.Len()
}

// idleTracker approximates "network idle": at most two requests in flight
// for a quiet period.
type idleTracker struct {
	mu         sync.Mutex
	inflight   map[string]struct{}
	lastChange time.Time
}

const (
	idleMaxInflight = 2
	idleQuietPeriod = 500 * time.Millisecond
)

func newIdleTracker() *idleTracker {
	return &idleTracker{inflight: make(map[string]struct{}), lastChange: time.Now()}
}

func (t *idleTracker) begin(id string) {
	t.mu.Lock()
	t.inflight[id] = struct{}{}
	t.lastChange = time.Now()
	t.mu.Unlock()
}

func (t *idleTracker) end(id string) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.lastChange = time.Now()
	t.mu.Unlock()
}

func (t *idleTracker) idle(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) <= idleMaxInflight && now.Sub(t.lastChange) >= idleQuietPeriod
}

// wait blocks until the network is idle, budget elapses or ctx ends.
func (t *idleTracker) wait(ctx context.Context, budget time.Duration) bool {
	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if t.idle(time.Now()) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}
