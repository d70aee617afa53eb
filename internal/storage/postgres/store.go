// Package postgres provides the Postgres-backed page and media store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ltphuoc/media-scraper/internal/media"
	"github.com/ltphuoc/media-scraper/internal/policy/retry"
)

var errNotConfigured = fmt.Errorf("postgres store: %w", media.ErrStoreNotReady)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Connect bounds the startup ping attempts.
	Connect retry.Linear
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store persists pages and media rows in Postgres.
type Store struct {
	pool pool
}

// NewStore connects a pgx pool and waits for the database to answer a ping.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log := logger.Named("postgres")
	err = cfg.Connect.Do(ctx, p.Ping, func(attempt int, delay time.Duration, err error) {
		log.Warn("postgres not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errNotConfigured
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// upsertPageSQL inserts the page only when it is new and otherwise reads the
// existing row, so repeat scrapes of a URL do not rewrite it.
const upsertPageSQL = `
WITH ins AS (
	INSERT INTO pages (url) VALUES ($1)
	ON CONFLICT (url) DO NOTHING
	RETURNING id, url, created_at
)
SELECT id, url, created_at FROM ins
UNION ALL
SELECT id, url, created_at FROM pages WHERE url = $1
LIMIT 1`

// maxMediaRowsPerInsert keeps one statement well under the 65535 bind
// parameter limit (three per row).
const maxMediaRowsPerInsert = 1000

// UpsertPage returns the page row for url, inserting it when absent.
func (s *Store) UpsertPage(ctx context.Context, url string) (media.Page, error) {
	if s == nil || s.pool == nil {
		return media.Page{}, errNotConfigured
	}
	if url == "" {
		return media.Page{}, fmt.Errorf("upsert page: %w: empty url", media.ErrInvalidMediaRow)
	}
	var (
		page media.Page
		err  error
	)
	// A conflicting insert committed after our snapshot leaves both halves
	// empty; the second run sees it.
	for range 2 {
		err = s.pool.QueryRow(ctx, upsertPageSQL, url).Scan(&page.ID, &page.URL, &page.CreatedAt)
		if !errors.Is(err, pgx.ErrNoRows) {
			break
		}
	}
	if err != nil {
		return media.Page{}, fmt.Errorf("upsert page: %w", err)
	}
	return page, nil
}

// InsertMedia bulk-inserts records, skipping rows that already exist, and
// returns how many were new. Large sets are written in several statements;
// a failure part way leaves earlier chunks in place, which a retry skips.
func (s *Store) InsertMedia(ctx context.Context, records []media.Record) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, errNotConfigured
	}
	for i, rec := range records {
		if !rec.Type.Valid() || rec.URL == "" || rec.PageID <= 0 {
			return 0, fmt.Errorf("insert media: %w: row %d", media.ErrInvalidMediaRow, i)
		}
	}
	var inserted int64
	for start := 0; start < len(records); start += maxMediaRowsPerInsert {
		chunk := records[start:min(start+maxMediaRowsPerInsert, len(records))]
		sql, args := insertMediaStatement(chunk)
		tag, err := s.pool.Exec(ctx, sql, args...)
		if err != nil {
			return inserted, fmt.Errorf("insert media rows %d-%d: %w", start, start+len(chunk)-1, err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func insertMediaStatement(records []media.Record) (string, []any) {
	var (
		sb   strings.Builder
		args = make([]any, 0, len(records)*3)
	)
	sb.WriteString("INSERT INTO media (page_id, type, url) VALUES ")
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&sb, "($%d, $%d, $%d)", n+1, n+2, n+3)
		args = append(args, rec.PageID, string(rec.Type), rec.URL)
	}
	sb.WriteString(" ON CONFLICT (page_id, url, type) DO NOTHING")
	return sb.String(), args
}

// ListMedia returns one page of media joined with their pages, newest first,
// along with the total number of matching rows.
func (s *Store) ListMedia(ctx context.Context, query media.Query) ([]media.Record, int, error) {
	if s == nil || s.pool == nil {
		return nil, 0, errNotConfigured
	}
	where, args := filterClause(query)

	var total int
	countSQL := "SELECT count(*) FROM media m JOIN pages p ON p.id = m.page_id" + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count media: %w", err)
	}

	n := len(args)
	listSQL := fmt.Sprintf(`SELECT m.id, m.type, m.url, m.page_id, m.created_at, p.id, p.url, p.created_at
FROM media m JOIN pages p ON p.id = m.page_id%s
ORDER BY m.created_at DESC, m.id DESC
LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	args = append(args, query.Limit, query.Offset())

	rows, err := s.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	items := make([]media.Record, 0, query.Limit)
	for rows.Next() {
		var (
			rec  media.Record
			page media.Page
			typ  string
		)
		if err := rows.Scan(&rec.ID, &typ, &rec.URL, &rec.PageID, &rec.CreatedAt,
			&page.ID, &page.URL, &page.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan media: %w", err)
		}
		rec.Type = media.Type(typ)
		rec.Page = &page
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list media: %w", err)
	}
	return items, total, nil
}

func filterClause(query media.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if query.Type != "" {
		args = append(args, string(query.Type))
		conds = append(conds, fmt.Sprintf("m.type = $%d", len(args)))
	}
	if query.Search != "" {
		args = append(args, "%"+escapeLike(query.Search)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(m.url ILIKE $%d OR p.url ILIKE $%d)", n, n))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
