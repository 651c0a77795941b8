package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Manager grants exclusive, time-bounded ownership of a content item to one
// runner. Leases live in Redis with a TTL, so a crashed runner's lease simply
// expires and the item becomes eligible again. Acquire, renew, and release
// are single atomic compare-and-set operations, never check-then-write.
type Manager struct {
	client *redis.Client
	prefix string
}

// NewManager builds a lease manager on an existing Redis client.
func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client, prefix: "lease:item:"}
}

func (m *Manager) key(queueID int64) string {
	return fmt.Sprintf("%s%d", m.prefix, queueID)
}

// Acquire installs a lease for the owner only if no live lease exists.
func (m *Manager) Acquire(ctx context.Context, queueID int64, owner string, ttl time.Duration) (bool, error) {
	if owner == "" {
		return false, errors.New("lease owner must not be empty")
	}
	ok, err := m.client.SetNX(ctx, m.key(queueID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

// Renew extends the lease only while the owner still holds it. A false return
// means the lease expired or was claimed by someone else; the caller must
// stop mutating the item.
func (m *Manager) Renew(ctx context.Context, queueID int64, owner string, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, m.client, []string{m.key(queueID)}, owner, ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected type from renew script: %T", res)
	}
	return n == 1, nil
}

// Release removes the lease if owned. Releasing a lease you no longer hold is
// a no-op, which makes late releases after expiry safe.
func (m *Manager) Release(ctx context.Context, queueID int64, owner string) error {
	if err := releaseScript.Run(ctx, m.client, []string{m.key(queueID)}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Holder returns the current lease owner, or empty when no live lease exists.
func (m *Manager) Holder(ctx context.Context, queueID int64) (string, error) {
	owner, err := m.client.Get(ctx, m.key(queueID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lease holder: %w", err)
	}
	return owner, nil
}

var renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)
