package redisqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	redisv8 "github.com/go-redis/redis/v8"

	"github.com/ltphuoc/media-scraper/internal/media"
)

const keyPrefix = "mediascraper:job:"

func progressKey(id string) string { return keyPrefix + id }

// reportScript keeps the stored progress monotonic across attempts and
// replaces the partial result. It returns the stored progress.
var reportScript = redisv8.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
local p = tonumber(ARGV[1])
if p > cur then
  redis.call('HSET', KEYS[1], 'progress', p)
  cur = p
end
redis.call('HSET', KEYS[1], 'result', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return cur
`)

type jobMeta struct {
	Progress  int
	Result    []media.URLResult
	CreatedAt time.Time
}

// progressStore keeps per-job progress and partial results next to the
// asynq task.
type progressStore interface {
	Init(ctx context.Context, id string, createdAt time.Time) error
	Report(ctx context.Context, id string, progress int, partial []media.URLResult) error
	Finish(ctx context.Context, id string, result []media.URLResult) error
	Load(ctx context.Context, id string) (jobMeta, error)
	Delete(ctx context.Context, id string) error
}

type hashStore struct {
	client *redisv8.Client
	ttl    time.Duration
}

func newHashStore(client *redisv8.Client, ttl time.Duration) *hashStore {
	return &hashStore{client: client, ttl: ttl}
}

func (h *hashStore) Init(ctx context.Context, id string, createdAt time.Time) error {
	key := progressKey(id)
	_, err := h.client.TxPipelined(ctx, func(p redisv8.Pipeliner) error {
		p.HSet(ctx, key, "progress", 0, "createdAt", createdAt.UTC().Format(time.RFC3339Nano))
		p.PExpire(ctx, key, h.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("init job hash: %w", err)
	}
	return nil
}

func (h *hashStore) Report(ctx context.Context, id string, progress int, partial []media.URLResult) error {
	b, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("encode partial result: %w", err)
	}
	err = reportScript.Run(ctx, h.client, []string{progressKey(id)}, progress, b, h.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("report progress: %w", err)
	}
	return nil
}

func (h *hashStore) Finish(ctx context.Context, id string, result []media.URLResult) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	key := progressKey(id)
	_, err = h.client.TxPipelined(ctx, func(p redisv8.Pipeliner) error {
		p.HSet(ctx, key, "progress", 100, "result", b)
		p.PExpire(ctx, key, h.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

func (h *hashStore) Load(ctx context.Context, id string) (jobMeta, error) {
	fields, err := h.client.HGetAll(ctx, progressKey(id)).Result()
	if err != nil {
		return jobMeta{}, fmt.Errorf("load job hash: %w", err)
	}
	return parseMeta(fields)
}

func (h *hashStore) Delete(ctx context.Context, id string) error {
	if err := h.client.Del(ctx, progressKey(id)).Err(); err != nil {
		return fmt.Errorf("delete job hash: %w", err)
	}
	return nil
}

func parseMeta(fields map[string]string) (jobMeta, error) {
	var meta jobMeta
	if v, ok := fields["progress"]; ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return jobMeta{}, fmt.Errorf("parse progress %q: %w", v, err)
		}
		meta.Progress = p
	}
	if v := fields["result"]; v != "" {
		if err := json.Unmarshal([]byte(v), &meta.Result); err != nil {
			return jobMeta{}, fmt.Errorf("parse result: %w", err)
		}
	}
	if v := fields["createdAt"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return jobMeta{}, fmt.Errorf("parse createdAt %q: %w", v, err)
		}
		meta.CreatedAt = t
	}
	return meta, nil
}

type reporter struct {
	store progressStore
	id    string
}

func (r reporter) ReportProgress(ctx context.Context, progress int, partial []media.URLResult) error {
	return r.store.Report(ctx, r.id, min(progress, 100), partial)
}
