// Package lock provides cross-process employee locks backed by Redis.
//
// The database transaction already serializes writers inside one store;
// the Redis lock keeps several servers or workers from running the same
// employee's pass at the same time and burning retries on conflicts.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/warp/vacation-engine/generic"
	"github.com/warp/vacation-engine/vacation"
)

// DefaultTTL bounds how long a crashed holder can block an employee.
const DefaultTTL = 30 * time.Second

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements vacation.Locker with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ vacation.Locker = (*RedisLocker)(nil)

// NewRedisLocker returns a locker using keys "<prefix><employee id>".
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if prefix == "" {
		prefix = "vacation:reconcile:"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

// Connect creates a client and checks it answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("lock: ping redis: %w", err)
	}
	return client, nil
}

// Acquire takes the employee's lock. It fails with a
// *generic.LockHeldError when someone else holds it and with
// generic.ErrStoreUnavailable when Redis can't be reached, so the
// reconciler's retry loop handles both.
func (l *RedisLocker) Acquire(ctx context.Context, employeeID vacation.EmployeeID) (func(context.Context) error, error) {
	key := l.prefix + string(employeeID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, generic.Unavailable("acquire lock", err)
	}
	if !ok {
		return nil, fmt.Errorf("employee %s is being reconciled elsewhere: %w",
			employeeID, &generic.LockHeldError{Key: key})
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("lock: release %s: %w", key, err)
		}
		return nil
	}
	return release, nil
}
