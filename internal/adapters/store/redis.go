package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"feedback-hub/internal/domain"
	"feedback-hub/internal/infra/metrics"
)

const (
	sessionKeyPrefix = "session:"
	submitKeyPrefix  = "session:submit:"

	// minBackendTTL — минимальный TTL записи в хранилище. Запись может
	// пережить логический expiresAt на несколько секунд; источником
	// истины по истечению остаётся менеджер сессий.
	minBackendTTL = 60 * time.Second
)

// RedisStore реализует domain.SessionStore поверх Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedis создаёт хранилище сессий.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var _ domain.SessionStore = (*RedisStore)(nil)

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func submitKey(sessionID string) string {
	return submitKeyPrefix + sessionID
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minBackendTTL {
		return minBackendTTL
	}
	return ttl
}

// SaveSession сериализует и сохраняет сессию с TTL.
func (s *RedisStore) SaveSession(ctx context.Context, session domain.FeedbackSession, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("сериализация сессии: %w", err)
	}
	start := time.Now()
	err = s.client.Set(ctx, sessionKey(session.SessionID), payload, clampTTL(ttl)).Err()
	metrics.ObserveNetworkRequest("redis", "set", "session", start, err)
	if err != nil {
		return fmt.Errorf("запись сессии: %w", err)
	}
	return nil
}

// LoadSession читает и десериализует сессию.
func (s *RedisStore) LoadSession(ctx context.Context, sessionID string) (domain.FeedbackSession, error) {
	start := time.Now()
	payload, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", "session", start, nil)
		return domain.FeedbackSession{}, domain.ErrSessionNotFound
	}
	metrics.ObserveNetworkRequest("redis", "get", "session", start, err)
	if err != nil {
		return domain.FeedbackSession{}, fmt.Errorf("чтение сессии: %w", err)
	}
	var session domain.FeedbackSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return domain.FeedbackSession{}, fmt.Errorf("десериализация сессии: %w", err)
	}
	return session, nil
}

// AcquireSubmitMark атомарно ставит отметку отправки через SETNX.
// Первый вызов для сессии возвращает true, все последующие — false.
func (s *RedisStore) AcquireSubmitMark(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := s.client.SetNX(ctx, submitKey(sessionID), "1", clampTTL(ttl)).Result()
	metrics.ObserveNetworkRequest("redis", "setnx", "session_submit", start, err)
	if err != nil {
		return false, fmt.Errorf("отметка отправки: %w", err)
	}
	return ok, nil
}

// ReleaseSubmitMark снимает отметку отправки.
func (s *RedisStore) ReleaseSubmitMark(ctx context.Context, sessionID string) error {
	start := time.Now()
	err := s.client.Del(ctx, submitKey(sessionID)).Err()
	metrics.ObserveNetworkRequest("redis", "del", "session_submit", start, err)
	if err != nil {
		return fmt.Errorf("снятие отметки отправки: %w", err)
	}
	return nil
}

// ListSessionIDs возвращает идентификаторы всех хранимых сессий.
// Используется только административным листингом, не горячим путём.
func (s *RedisStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64
	start := time.Now()
	for {
		keys, next, err := s.client.Scan(ctx, cursor, sessionKeyPrefix+"*", 100).Result()
		if err != nil {
			metrics.ObserveNetworkRequest("redis", "scan", "session", start, err)
			return nil, fmt.Errorf("листинг сессий: %w", err)
		}
		for _, key := range keys {
			if strings.HasPrefix(key, submitKeyPrefix) {
				continue
			}
			ids = append(ids, strings.TrimPrefix(key, sessionKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	metrics.ObserveNetworkRequest("redis", "scan", "session", start, nil)
	return ids, nil
}
