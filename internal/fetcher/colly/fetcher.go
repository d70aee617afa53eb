// Package collyfetcher implements the static page fetch using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/ltphuoc/media-scraper/internal/media"
)

// DefaultUserAgent identifies static fetches.
const DefaultUserAgent = "Mozilla/5.0 (compatible; MediaScraper/1.0)"

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// Fetcher implements media.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	// Clones share the base collector's http.Client, so everything that
	// touches it is set once here and never per fetch.
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. Network failures, timeouts and non-2xx
// statuses are all returned as errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) (media.FetchResult, error) {
	var (
		result   media.FetchResult
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return media.FetchResult{}, err
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return media.FetchResult{}, &StatusError{StatusCode: result.StatusCode}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(start time.Time, result *media.FetchResult, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *media.FetchResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = media.FetchResult{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			HTML:       string(r.Body),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("%w: %w", &StatusError{StatusCode: r.StatusCode}, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("colly fetch canceled: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
