package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "lock:"

// releaseScript освобождает lock, только если он всё ещё наш.
// ARGV[2] > 0 — оставить lock ещё на ARGV[2] мс (MinHold), иначе удалить.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
local keep = tonumber(ARGV[2])
if keep > 0 then
	redis.call("PEXPIRE", KEYS[1], keep)
else
	redis.call("DEL", KEYS[1])
end
return 1
`)

// RedisLocker — lock на одном ключе Redis: SET key token NX PX maxHold.
type RedisLocker struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisLocker создаёт RedisLocker.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client, now: time.Now}
}

// TryAcquire захватывает lock на MaxHold.
func (r *RedisLocker) TryAcquire(ctx context.Context, p Policy) (*Lease, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	lease := newLease(p, r.now(), r)

	ok, err := r.client.SetNX(ctx, redisKeyPrefix+p.Name, lease.Token, p.MaxHold).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", p.Name, err)
	}
	if !ok {
		return nil, ErrLockBusy
	}

	return lease, nil
}

func (r *RedisLocker) release(ctx context.Context, l *Lease) error {
	// Округляем вверх: остаток < 1ms не должен превращаться в DEL
	keepMs := (l.keepFor(r.now()) + time.Millisecond - 1).Milliseconds()

	res, err := releaseScript.Run(ctx, r.client,
		[]string{redisKeyPrefix + l.Name},
		l.Token, keepMs,
	).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", l.Name, err)
	}
	if res == 0 {
		return ErrLeaseLost
	}
	return nil
}
