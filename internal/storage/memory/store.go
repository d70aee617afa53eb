// Package memory provides an in-memory page and media store for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ltphuoc/media-scraper/internal/clock/system"
	"github.com/ltphuoc/media-scraper/internal/media"
)

type mediaKey struct {
	pageID int64
	url    string
	typ    media.Type
}

// Store implements storage.Provider in memory.
type Store struct {
	mu          sync.RWMutex
	clock       media.Clock
	pages       map[int64]media.Page
	pageByURL   map[string]int64
	records     []media.Record
	seen        map[mediaKey]struct{}
	nextPageID  int64
	nextMediaID int64
}

// NewStore constructs an empty Store. A nil clock uses wall time.
func NewStore(clock media.Clock) *Store {
	if clock == nil {
		clock = system.New()
	}
	return &Store{
		clock:     clock,
		pages:     make(map[int64]media.Page),
		pageByURL: make(map[string]int64),
		seen:      make(map[mediaKey]struct{}),
	}
}

// UpsertPage returns the page for url, creating it on first sight.
func (s *Store) UpsertPage(_ context.Context, url string) (media.Page, error) {
	if url == "" {
		return media.Page{}, fmt.Errorf("upsert page: %w: empty url", media.ErrInvalidMediaRow)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.pageByURL[url]; ok {
		return s.pages[id], nil
	}
	s.nextPageID++
	page := media.Page{ID: s.nextPageID, URL: url, CreatedAt: s.clock.Now()}
	s.pages[page.ID] = page
	s.pageByURL[url] = page.ID
	return page, nil
}

// InsertMedia stores records, silently skipping (page, url, type)
// duplicates. The batch is rejected as a whole if any row is invalid.
func (s *Store) InsertMedia(_ context.Context, records []media.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if err := s.validate(rec); err != nil {
			return 0, err
		}
	}
	var inserted int64
	now := s.clock.Now()
	for _, rec := range records {
		key := mediaKey{pageID: rec.PageID, url: rec.URL, typ: rec.Type}
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}
		s.nextMediaID++
		s.records = append(s.records, media.Record{
			ID:        s.nextMediaID,
			Type:      rec.Type,
			URL:       rec.URL,
			PageID:    rec.PageID,
			CreatedAt: now,
		})
		inserted++
	}
	return inserted, nil
}

func (s *Store) validate(rec media.Record) error {
	if !rec.Type.Valid() {
		return fmt.Errorf("insert media: %w: type %q", media.ErrInvalidMediaRow, rec.Type)
	}
	if rec.URL == "" {
		return fmt.Errorf("insert media: %w: empty url", media.ErrInvalidMediaRow)
	}
	if _, ok := s.pages[rec.PageID]; !ok {
		return fmt.Errorf("insert media: %w: unknown page %d", media.ErrInvalidMediaRow, rec.PageID)
	}
	return nil
}

// ListMedia filters by type and a case-insensitive search over the media and
// page URLs, newest first.
func (s *Store) ListMedia(_ context.Context, query media.Query) ([]media.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query.Search)
	matched := make([]media.Record, 0, len(s.records))
	for _, rec := range s.records {
		if query.Type != "" && rec.Type != query.Type {
			continue
		}
		page := s.pages[rec.PageID]
		if needle != "" &&
			!strings.Contains(strings.ToLower(rec.URL), needle) &&
			!strings.Contains(strings.ToLower(page.URL), needle) {
			continue
		}
		rec.Page = &media.Page{ID: page.ID, URL: page.URL, CreatedAt: page.CreatedAt}
		matched = append(matched, rec)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	offset := query.Offset()
	if offset >= total {
		return []media.Record{}, total, nil
	}
	end := total
	if query.Limit > 0 && offset+query.Limit < end {
		end = offset + query.Limit
	}
	return matched[offset:end], total, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}
