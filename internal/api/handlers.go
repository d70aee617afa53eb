package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/id/uuid"
	"github.com/ltphuoc/media-scraper/internal/media"
)

// Request limits.
const (
	MaxURLs          = 10
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	maxSearchLength  = 500
	maxBodyBytes     = 1 << 20
)

// Issue describes one validation failure.
type Issue struct {
	Path    []any  `json:"path"`
	Message string `json:"message"`
}

// ValidationError carries the issues found in a request. It matches
// media.ErrInvalidRequest under errors.Is.
type ValidationError struct {
	Message string
	Issues  []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s (%d issues)", e.Message, e.Issues[0].Message, len(e.Issues))
}

func (e *ValidationError) Unwrap() error { return media.ErrInvalidRequest }

type scrapeRequest struct {
	URLs []string `json:"urls"`
}

type scrapeResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type jobResponse struct {
	ID           string            `json:"id"`
	State        media.JobState    `json:"state"`
	Progress     int               `json:"progress"`
	Result       []media.URLResult `json:"result"`
	AttemptsMade int               `json:"attemptsMade"`
	FailedReason string            `json:"failedReason,omitempty"`
}

type mediaItem struct {
	ID        int64      `json:"id"`
	URL       string     `json:"url"`
	Type      media.Type `json:"type"`
	PageID    int64      `json:"pageId"`
	CreatedAt time.Time  `json:"createdAt"`
	Page      *pageRef   `json:"page"`
}

type pageRef struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

type listMetadata struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type mediaResponse struct {
	Data     []mediaItem  `json:"data"`
	Metadata listMetadata `json:"metadata"`
}

type healthResponse struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services,omitempty"`
	Message   string            `json:"message,omitempty"`
	Uptime    float64           `json:"uptime"`
	Timestamp time.Time         `json:"timestamp"`
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	err := dec.Decode(&req)
	if err != nil {
		err = &ValidationError{Message: "Invalid body", Issues: []Issue{{Path: []any{}, Message: "body must be a JSON object with a urls array"}}}
	} else {
		err = validateURLs(req.URLs)
	}
	if err != nil {
		s.writeInvalid(w, r, err)
		return
	}
	urls := media.DedupeURLs(req.URLs)
	id, err := s.deps.Queue.Enqueue(r.Context(), media.ScrapeRequest{URLs: urls}, s.cfg.JobOptions)
	if err != nil {
		s.logger.Error("enqueue failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}
	s.logger.Info("job queued", zap.String("job_id", id), zap.Int("urls", len(urls)))
	writeJSON(w, http.StatusOK, scrapeResponse{JobID: id, Status: "queued"})
}

func validateURLs(urls []string) error {
	invalid := func(issues ...Issue) error {
		return &ValidationError{Message: "Invalid body", Issues: issues}
	}
	switch {
	case urls == nil:
		return invalid(Issue{Path: []any{"urls"}, Message: "urls is required"})
	case len(urls) == 0:
		return invalid(Issue{Path: []any{"urls"}, Message: "at least 1 url is required"})
	case len(urls) > MaxURLs:
		return invalid(Issue{Path: []any{"urls"}, Message: fmt.Sprintf("at most %d urls are allowed", MaxURLs)})
	}
	var issues []Issue
	for i, u := range urls {
		if err := media.ValidateHTTPURL(u); err != nil {
			issues = append(issues, Issue{Path: []any{"urls", i}, Message: "invalid url: " + err.Error()})
		}
	}
	if len(issues) > 0 {
		return invalid(issues...)
	}
	return nil
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !uuid.Valid(id) {
		writeMessage(w, http.StatusNotFound, "Job not found")
		return
	}
	job, err := s.deps.Queue.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, media.ErrJobNotFound) {
			writeMessage(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", id), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{
		ID:           job.ID,
		State:        job.State,
		Progress:     job.Progress,
		Result:       job.Result,
		AttemptsMade: job.AttemptsMade,
		FailedReason: job.FailedReason,
	})
}

func (s *Server) listMedia(w http.ResponseWriter, r *http.Request) {
	query, err := parseMediaQuery(r)
	if err != nil {
		s.writeInvalid(w, r, err)
		return
	}
	items, total, err := s.deps.Media.ListMedia(r.Context(), query)
	if err != nil {
		s.logger.Error("list media failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to list media")
		return
	}
	data := make([]mediaItem, 0, len(items))
	for _, rec := range items {
		item := mediaItem{ID: rec.ID, URL: rec.URL, Type: rec.Type, PageID: rec.PageID, CreatedAt: rec.CreatedAt}
		if rec.Page != nil {
			item.Page = &pageRef{ID: rec.Page.ID, URL: rec.Page.URL}
		}
		data = append(data, item)
	}
	writeJSON(w, http.StatusOK, mediaResponse{
		Data: data,
		Metadata: listMetadata{
			Page:       query.Page,
			Limit:      query.Limit,
			Total:      total,
			TotalPages: (total + query.Limit - 1) / query.Limit,
		},
	})
}

func parseMediaQuery(r *http.Request) (media.Query, error) {
	q := r.URL.Query()
	query := media.Query{Page: 1, Limit: DefaultPageLimit}
	var issues []Issue

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			issues = append(issues, Issue{Path: []any{"page"}, Message: "page must be an integer >= 1"})
		} else {
			query.Page = n
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxPageLimit {
			issues = append(issues, Issue{Path: []any{"limit"}, Message: fmt.Sprintf("limit must be an integer between 1 and %d", MaxPageLimit)})
		} else {
			query.Limit = n
		}
	}
	if v := q.Get("type"); v != "" {
		t := media.Type(v)
		if !t.Valid() {
			issues = append(issues, Issue{Path: []any{"type"}, Message: "type must be image or video"})
		} else {
			query.Type = t
		}
	}
	if v := q.Get("search"); v != "" {
		if len(v) > maxSearchLength {
			issues = append(issues, Issue{Path: []any{"search"}, Message: fmt.Sprintf("search must be at most %d characters", maxSearchLength)})
		} else {
			query.Search = v
		}
	}
	if len(issues) > 0 {
		return media.Query{}, &ValidationError{Message: "Invalid query", Issues: issues}
	}
	return query, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	now := s.deps.Clock.Now().UTC()
	uptime := s.deps.Monitor.Uptime().Seconds()
	services := map[string]string{}
	checks := []struct {
		name string
		dep  Pinger
	}{
		{"database", s.deps.Database},
		{"redis", s.deps.Redis},
	}
	for _, c := range checks {
		if c.dep == nil {
			services[c.name] = "disabled"
			continue
		}
		if err := c.dep.Ping(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.String("service", c.name), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, healthResponse{
				Status:    "error",
				Message:   fmt.Sprintf("%s: %v", c.name, err),
				Uptime:    uptime,
				Timestamp: now,
			})
			return
		}
		services[c.name] = "connected"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Services:  services,
		Uptime:    uptime,
		Timestamp: now,
	})
}

func (s *Server) monitorSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Monitor.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("monitor snapshot failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

// writeInvalid answers 400 for errors wrapping media.ErrInvalidRequest and
// 500 for anything else.
func (s *Server) writeInvalid(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	if !errors.Is(err, media.ErrInvalidRequest) || !errors.As(err, &verr) {
		s.logger.Error("request validation failed", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.logger.Debug("rejected request", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusBadRequest, map[string]any{"message": verr.Message, "issues": verr.Issues})
}
