// Package lock guarantees at most one pipeline pass runs at a time, inside
// one process or, with Redis, across replicas.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

var ErrNotAcquired = errors.New("lock is held by another pass")

// Locker hands out a release function on success
type Locker interface {
	Acquire(ctx context.Context, name string) (release func(), err error)
}

// Local is an in-process lock keyed by name
type Local struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocal() *Local {
	return &Local{held: make(map[string]bool)}
}

func (l *Local) Acquire(_ context.Context, name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, errors.Wrap(ErrNotAcquired, name)
	}
	l.held[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}

// only the owner token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Redis is a SET NX lock with an expiry so a crashed holder cannot block forever
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(addr, password string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}

	return &Redis{client: client, prefix: "market-oracle", ttl: ttl}, nil
}

func (r *Redis) Acquire(ctx context.Context, name string) (func(), error) {
	key := r.prefix + ":lock:" + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "could not acquire %s", key)
	}
	if !ok {
		return nil, errors.Wrap(ErrNotAcquired, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
				log.WithField("key", key).Warnf("could not release lock: %v", err)
			}
		})
	}, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
