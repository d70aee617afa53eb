// Package headless renders pages in a shared headless Chrome via chromedp
// and observes the media they load.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

var errBrowserClosed = errors.New("browser closed")

// BrowserConfig controls how Chrome is launched.
type BrowserConfig struct {
	ExecPath  string
	NoSandbox bool
}

// Browser is a process-wide Chrome instance, launched on first use.
type Browser struct {
	opts   []chromedp.ExecAllocatorOption
	logger *zap.Logger

	once          sync.Once
	initErr       error
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowser prepares a Browser without starting Chrome.
func NewBrowser(cfg BrowserConfig, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return &Browser{opts: opts, logger: logger.Named("browser")}
}

func (b *Browser) start() error {
	b.once.Do(func() {
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx,
			chromedp.WithErrorf(b.logger.Sugar().Debugf),
		)
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			b.initErr = fmt.Errorf("launch chrome: %w", err)
			b.logger.Error("failed to launch browser", zap.Error(err))
			return
		}
		b.allocCancel = allocCancel
		b.browserCtx = browserCtx
		b.browserCancel = browserCancel
		b.logger.Info("browser launched")
	})
	return b.initErr
}

// NewTab opens a tab in the shared browser. The tab closes when release is
// called or ctx is done, whichever comes first.
func (b *Browser) NewTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := b.start(); err != nil {
		return nil, nil, err
	}
	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	stop := context.AfterFunc(ctx, cancelTab)
	release := func() {
		stop()
		cancelTab()
	}
	return tabCtx, release, nil
}

// Close shuts Chrome down. A Browser that was never started stays unusable.
func (b *Browser) Close() {
	b.once.Do(func() {
		b.initErr = errBrowserClosed
	})
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
}
