package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Krimson/holter-monitory/device/internal/orchestrator"
)

// RedisStore реализует Store поверх Redis
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	recent int
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		recent: DefaultRecent,
	}
}

// ===== Ключи Redis =====

func sessionKey(sessionID string) string {
	return fmt.Sprintf("holter:session:%s", sessionID)
}

const (
	recentKey  = "holter:sessions:recent"
	pendingKey = "holter:sessions:pending"
)

func (r *RedisStore) Save(ctx context.Context, report *orchestrator.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	id := report.Session.ID
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(id), data, r.ttl)
	pipe.LRem(ctx, recentKey, 0, id)
	pipe.LPush(ctx, recentKey, id)
	pipe.LTrim(ctx, recentKey, 0, int64(r.recent-1))
	if report.Retryable() {
		pipe.SAdd(ctx, pendingKey, id)
	} else {
		pipe.SRem(ctx, pendingKey, id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, sessionID string) (*orchestrator.Report, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var report orchestrator.Report
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &report, nil
}

func (r *RedisStore) Recent(ctx context.Context, limit int) ([]*orchestrator.Report, error) {
	if limit <= 0 || limit > r.recent {
		limit = r.recent
	}
	ids, err := r.client.LRange(ctx, recentKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return r.load(ctx, ids)
}

func (r *RedisStore) Pending(ctx context.Context) ([]*orchestrator.Report, error) {
	ids, err := r.client.SMembers(ctx, pendingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending sessions: %w", err)
	}
	reports, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByStart(reports)
	return reports, nil
}

func (r *RedisStore) Resolve(ctx context.Context, sessionID string) error {
	removed, err := r.client.SRem(ctx, pendingKey, sessionID).Result()
	if err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

// load читает отчёты одним пайплайном; истекшие по TTL пропускаются
func (r *RedisStore) load(ctx context.Context, ids []string) ([]*orchestrator.Report, error) {
	if len(ids) == 0 {
		return []*orchestrator.Report{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}

	reports := make([]*orchestrator.Report, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var report orchestrator.Report
		if err := json.Unmarshal(data, &report); err != nil {
			continue // Пропускаем поврежденные записи
		}
		reports = append(reports, &report)
	}
	return reports, nil
}
