package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// The token check keeps an expired holder from deleting the lease the
// next holder already took over.
const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Lease is a held redis lock. Release is safe on a nil lease, so callers
// can defer it unconditionally.
type Lease struct {
	client *redis.Client
	script *redis.Script
	key    string
	token  string
}

func (le *Lease) Release(ctx context.Context) error {
	if le == nil || le.client == nil {
		return nil
	}
	return le.script.Run(ctx, le.client, []string{le.key}, le.token).Err()
}

// Locker hands out single-holder leases backed by SetNX. The TTL bounds
// how long a crashed holder can block the next one.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(leaseReleaseScript),
	}
}

// Acquire takes the lease, or reports held=false when another holder has
// it. The random token binds the release to this acquisition.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, errors.New("lock client not configured")
	}
	if key == "" {
		return nil, false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return nil, false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return &Lease{client: l.client, script: l.script, key: key, token: token}, true, nil
}
