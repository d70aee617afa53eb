package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/queue"
	memqueue "github.com/ltphuoc/media-scraper/internal/queue/memory"
	"github.com/ltphuoc/media-scraper/internal/storage"
	memstore "github.com/ltphuoc/media-scraper/internal/storage/memory"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixture struct {
	srv   *Server
	queue *memqueue.Queue
	store *memstore.Store
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	q := memqueue.NewQueue()
	t.Cleanup(func() { _ = q.Close() })
	st := memstore.NewStore(nil)
	srv := NewServer(cfg, Deps{Queue: q, Media: st, Database: st, Redis: q}, nil)
	return fixture{srv: srv, queue: q, store: st}
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSubmitScrapeQueuesDedupedJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := do(t, f.srv.Handler(), http.MethodPost, "/api/scrape", scrapeRequest{
		URLs: []string{"https://a.example", "https://b.example", "https://a.example"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[scrapeResponse](t, rec)
	require.Equal(t, "queued", resp.Status)
	require.NotEmpty(t, resp.JobID)

	job, err := f.queue.Get(context.Background(), resp.JobID)
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, job.Payload.URLs)
	require.Equal(t, media.JobStateWaiting, job.State)
}

func TestSubmitScrapeValidation(t *testing.T) {
	t.Parallel()

	many := make([]string, MaxURLs+1)
	for i := range many {
		many[i] = fmt.Sprintf("https://example.com/%d", i)
	}

	cases := []struct {
		name string
		body any
		path []any
	}{
		{"malformed", `{"urls":`, []any{}},
		{"missing", map[string]any{}, []any{"urls"}},
		{"empty", scrapeRequest{URLs: []string{}}, []any{"urls"}},
		{"too many", scrapeRequest{URLs: many}, []any{"urls"}},
		{"bad url", scrapeRequest{URLs: []string{"https://ok.example", "ftp://nope"}}, []any{"urls", float64(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, Config{})
			rec := do(t, f.srv.Handler(), http.MethodPost, "/api/scrape", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			resp := decode[struct {
				Message string  `json:"message"`
				Issues  []Issue `json:"issues"`
			}](t, rec)
			require.Equal(t, "Invalid body", resp.Message)
			require.NotEmpty(t, resp.Issues)
			require.Equal(t, tc.path, resp.Issues[0].Path)

			counts, err := f.queue.Counts(context.Background())
			require.NoError(t, err)
			require.Zero(t, counts.Waiting)
		})
	}
}

func TestSubmitScrapeEnqueueFailure(t *testing.T) {
	t.Parallel()

	q := &queue.MockBackend{}
	q.On("Enqueue", mock.Anything, media.ScrapeRequest{URLs: []string{"https://a.example"}}, queue.DefaultOptions()).
		Return("", errors.New("redis down"))
	srv := NewServer(Config{JobOptions: queue.DefaultOptions()}, Deps{Queue: q, Media: memstore.NewStore(nil)}, nil)

	rec := do(t, srv.Handler(), http.MethodPost, "/api/scrape", scrapeRequest{URLs: []string{"https://a.example"}})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	q.AssertExpectations(t)
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	id, err := f.queue.Enqueue(context.Background(), media.ScrapeRequest{URLs: []string{"https://a.example"}}, media.JobOptions{})
	require.NoError(t, err)

	rec := do(t, f.srv.Handler(), http.MethodGet, "/api/scrape/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]any](t, rec)
	require.Equal(t, id, resp["id"])
	require.Equal(t, "waiting", resp["state"])
	require.EqualValues(t, 0, resp["progress"])
	require.EqualValues(t, 0, resp["attemptsMade"])
	require.Contains(t, resp, "result")
	require.NotContains(t, resp, "failedReason")
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	for _, id := range []string{"not-a-uuid", "0190b6a4-8d7e-7c1a-9f00-000000000000"} {
		rec := do(t, f.srv.Handler(), http.MethodGet, "/api/scrape/"+id, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, id)
		require.Equal(t, "Job not found", decode[map[string]string](t, rec)["message"])
	}
}

func seedMedia(t *testing.T, st *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	page, err := st.UpsertPage(ctx, "https://shop.example/cats")
	require.NoError(t, err)
	var recs []media.Record
	for i := 0; i < 5; i++ {
		recs = append(recs, media.Record{PageID: page.ID, Type: media.TypeImage, URL: fmt.Sprintf("https://cdn.example/cat%d.png", i)})
	}
	recs = append(recs, media.Record{PageID: page.ID, Type: media.TypeVideo, URL: "https://cdn.example/cat.mp4"})
	_, err = st.InsertMedia(ctx, recs)
	require.NoError(t, err)
}

func TestListMedia(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	seedMedia(t, f.store)

	rec := do(t, f.srv.Handler(), http.MethodGet, "/api/media?type=image&page=2&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[mediaResponse](t, rec)
	require.Len(t, resp.Data, 2)
	require.Equal(t, listMetadata{Page: 2, Limit: 2, Total: 5, TotalPages: 3}, resp.Metadata)
	for _, item := range resp.Data {
		require.Equal(t, media.TypeImage, item.Type)
		require.NotNil(t, item.Page)
		require.Equal(t, "https://shop.example/cats", item.Page.URL)
	}

	rec = do(t, f.srv.Handler(), http.MethodGet, "/api/media?search=MP4", nil)
	resp = decode[mediaResponse](t, rec)
	require.Len(t, resp.Data, 1)
	require.Equal(t, listMetadata{Page: 1, Limit: DefaultPageLimit, Total: 1, TotalPages: 1}, resp.Metadata)
}

func TestListMediaEmpty(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := do(t, f.srv.Handler(), http.MethodGet, "/api/media", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"data":[],"metadata":{"page":1,"limit":20,"total":0,"totalPages":0}}`, rec.Body.String())
}

func TestListMediaInvalidQuery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	for _, q := range []string{"page=0", "limit=101", "limit=x", "type=audio", "search=" + strings.Repeat("a", 501)} {
		rec := do(t, f.srv.Handler(), http.MethodGet, "/api/media?"+q, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
		require.Equal(t, "Invalid query", decode[map[string]any](t, rec)["message"])
	}
}

func TestValidationErrorsMatchInvalidRequest(t *testing.T) {
	t.Parallel()

	err := validateURLs([]string{"https://ok.example", "ftp://nope.example"})
	require.ErrorIs(t, err, media.ErrInvalidRequest)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "Invalid body", verr.Message)
	require.Len(t, verr.Issues, 1)
	require.Equal(t, []any{"urls", 1}, verr.Issues[0].Path)
	require.Contains(t, err.Error(), "invalid url")

	require.NoError(t, validateURLs([]string{"https://ok.example"}))

	req := httptest.NewRequest(http.MethodGet, "/api/media?page=0&type=audio", nil)
	_, err = parseMediaQuery(req)
	require.ErrorIs(t, err, media.ErrInvalidRequest)
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Issues, 2)

	f := newFixture(t, Config{})
	rec := httptest.NewRecorder()
	f.srv.writeInvalid(rec, req, errors.New("unexpected"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListMediaStoreError(t *testing.T) {
	t.Parallel()

	st := &storage.MockProvider{}
	st.On("ListMedia", mock.Anything, media.Query{Page: 1, Limit: DefaultPageLimit}).Return([]media.Record(nil), 0, errors.New("db gone"))
	srv := NewServer(Config{}, Deps{Queue: memqueue.NewQueue(), Media: st}, nil)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/media", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	st.AssertExpectations(t)
}

func TestBasicAuth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{BasicUser: "admin", BasicPass: "s3cret"})
	h := f.srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/media", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, `Basic realm="MediaScraper"`, rec.Header().Get("WWW-Authenticate"))
	require.Equal(t, "Unauthorized", decode[map[string]string](t, rec)["message"])

	req := httptest.NewRequest(http.MethodGet, "/api/media", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/media", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// health stays open for load balancer checks
	rec = do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := do(t, f.srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[healthResponse](t, rec)
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, map[string]string{"database": "connected", "redis": "connected"}, resp.Services)
	require.WithinDuration(t, time.Now(), resp.Timestamp, time.Minute)
}

func TestHealthReportsFailingDependency(t *testing.T) {
	t.Parallel()

	srv := NewServer(Config{}, Deps{
		Queue:    memqueue.NewQueue(),
		Media:    memstore.NewStore(nil),
		Database: pingFunc(func(context.Context) error { return nil }),
		Redis:    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}, nil)
	rec := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[healthResponse](t, rec)
	require.Equal(t, "error", resp.Status)
	require.Contains(t, resp.Message, "redis")
}

func TestMonitorSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	_, err := f.queue.Enqueue(context.Background(), media.ScrapeRequest{URLs: []string{"https://a.example"}}, media.JobOptions{})
	require.NoError(t, err)

	h := f.srv.Handler()
	do(t, h, http.MethodGet, "/health", nil)
	rec := do(t, h, http.MethodGet, "/api/monitor", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string]any](t, rec)
	require.Equal(t, "ok", resp["status"])
	require.EqualValues(t, 2, resp["requests"])
	require.EqualValues(t, 1, resp["queue"].(map[string]any)["waiting"])
	require.Contains(t, resp, "memory")
	require.Contains(t, resp, "cpu")
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{CORSOrigins: []string{"https://app.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/scrape", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestNotFoundAndRecover(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Config{})
	rec := do(t, f.srv.Handler(), http.MethodGet, "/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	h := f.srv.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
