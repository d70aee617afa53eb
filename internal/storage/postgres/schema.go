package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pages (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS media (
	id BIGSERIAL PRIMARY KEY,
	page_id BIGINT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	type TEXT NOT NULL CHECK (type IN ('image','video')),
	url TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (page_id, url, type)
)`,
	`CREATE INDEX IF NOT EXISTS media_created_at_idx ON media (created_at DESC, id DESC)`,
}

// Migrate creates the pages and media tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("migrate: %w", errNotConfigured)
	}
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
