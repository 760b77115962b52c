package authority

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore records spent payment nonces. Claim reports false when the
// nonce was already spent and has not yet expired. Release undoes a claim
// whose settlement could not be recorded.
type NonceStore interface {
	Claim(ctx context.Context, payer, nonce string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, payer, nonce string) error
}

const noncePrefix = "x402:nonce:"

func nonceKey(payer, nonce string) string {
	return noncePrefix + payer + ":" + nonce
}

// RedisNonces keeps nonces in Redis with SET NX and a TTL.
type RedisNonces struct{ client *redis.Client }

func NewRedisNonces(client *redis.Client) *RedisNonces {
	return &RedisNonces{client: client}
}

func (r *RedisNonces) Claim(ctx context.Context, payer, nonce string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, nonceKey(payer, nonce), time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

func (r *RedisNonces) Release(ctx context.Context, payer, nonce string) error {
	return r.client.Del(ctx, nonceKey(payer, nonce)).Err()
}

// MemoryNonces is an in-process NonceStore.
type MemoryNonces struct {
	mu    sync.Mutex
	items map[string]time.Time
	now   func() time.Time
}

func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{items: map[string]time.Time{}, now: time.Now}
}

func (m *MemoryNonces) Claim(ctx context.Context, payer, nonce string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, expiresAt := range m.items {
		if now.After(expiresAt) {
			delete(m.items, k)
		}
	}
	key := nonceKey(payer, nonce)
	if _, ok := m.items[key]; ok {
		return false, nil
	}
	m.items[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryNonces) Release(ctx context.Context, payer, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, nonceKey(payer, nonce))
	return nil
}

// NewNonceStore uses Redis when client is reachable and falls back to memory.
func NewNonceStore(ctx context.Context, client *redis.Client) NonceStore {
	if client != nil {
		if err := client.Ping(ctx).Err(); err == nil {
			return NewRedisNonces(client)
		}
	}
	return NewMemoryNonces()
}
