package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-platform/pkg/utils"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "notifications:"

// RedisStore keeps the newest MaxPerUser notifications of each user in a
// Redis list, expiring the whole list after TTL of inactivity.
type RedisStore struct {
	rdb        *redis.Client
	maxPerUser int
	ttl        time.Duration
}

func NewRedisStore(rdb *redis.Client, maxPerUser int, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, maxPerUser: maxPerUser, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, n Notification) error {
	if n.UserID == "" {
		return ErrInvalidNotification
	}
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	_, err = utils.PushCapped(ctx, s.rdb, keyPrefix+n.UserID, b, s.maxPerUser, s.ttl)
	return err
}

func (s *RedisStore) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > s.maxPerUser {
		limit = s.maxPerUser
	}
	raw, err := s.rdb.LRange(ctx, keyPrefix+userID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(raw))
	for _, r := range raw {
		var n Notification
		if err := json.Unmarshal([]byte(r), &n); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// MemoryStore is an in-memory Store for tests and local runs. Newest first.
type MemoryStore struct {
	mu         sync.Mutex
	byUser     map[string][]Notification
	maxPerUser int
}

func NewMemoryStore(maxPerUser int) *MemoryStore {
	if maxPerUser <= 0 {
		maxPerUser = 100
	}
	return &MemoryStore{byUser: make(map[string][]Notification), maxPerUser: maxPerUser}
}

func (s *MemoryStore) Save(ctx context.Context, n Notification) error {
	if n.UserID == "" {
		return ErrInvalidNotification
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([]Notification{n}, s.byUser[n.UserID]...)
	if len(list) > s.maxPerUser {
		list = list[:s.maxPerUser]
	}
	s.byUser[n.UserID] = list
	return nil
}

func (s *MemoryStore) List(ctx context.Context, userID string, limit int) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byUser[userID]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]Notification, len(list))
	copy(out, list)
	return out, nil
}
