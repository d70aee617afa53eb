package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/ltphuoc/media-scraper/internal/media"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true, Timeout: time.Second})
	collector := f.buildCollector(time.Unix(0, 0), &media.FetchResult{}, new(error))
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.False(t, collector.IgnoreRobotsTxt)

	defaults := New(Config{})
	collector = defaults.buildCollector(time.Unix(0, 0), &media.FetchResult{}, new(error))
	require.Equal(t, DefaultUserAgent, collector.UserAgent)
	require.True(t, collector.IgnoreRobotsTxt)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}})
	var result media.FetchResult
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("<html></html>"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "<html></html>", result.HTML)

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	var statusErr *StatusError
	require.ErrorAs(t, fetchErr, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, DefaultUserAgent, r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><img src="/a.jpg"></body></html>`))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{})
	res, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, res.HTML, `<img src="/a.jpg">`)

	// the same URL can be fetched again, e.g. on a job retry
	_, err = f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
}

func TestFetch_ConcurrentCallsShareClient(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("<html><body>" + r.URL.Path + "</body></html>"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 2 * time.Second})
	const workers = 8
	results := make([]media.FetchResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.Fetch(context.Background(), fmt.Sprintf("%s/p%d", srv.URL, i))
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		require.Equal(t, http.StatusOK, results[i].StatusCode)
		require.Contains(t, results[i].HTML, fmt.Sprintf("/p%d", i))
	}
	require.EqualValues(t, workers, hits.Load())
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestFetch_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte("late"))
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{Timeout: 100 * time.Millisecond}).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
}

func TestFetch_ContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Fetch(ctx, "http://127.0.0.1:1")
	require.ErrorIs(t, err, context.Canceled)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
