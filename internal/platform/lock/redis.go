package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/objective-cascade/internal/platform/logger"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the key's TTL only while it still holds our token.
var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type RedisConfig struct {
	Prefix       string
	TTL          time.Duration
	Wait         time.Duration
	PollInterval time.Duration
}

type redisLocker struct {
	rdb *goredis.Client
	log *logger.Logger
	cfg RedisConfig
}

// NewRedis returns a locker backed by SET NX PX with token-checked release.
func NewRedis(rdb *goredis.Client, log *logger.Logger, cfg RedisConfig) (Locker, error) {
	if rdb == nil {
		return nil, fmt.Errorf("lock: redis client required")
	}
	if log == nil {
		return nil, fmt.Errorf("lock: logger required")
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "cascade:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &redisLocker{rdb: rdb, log: log.With("service", "RedisLocker"), cfg: cfg}, nil
}

func (l *redisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	fullKey := l.cfg.Prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.cfg.Wait)
	for {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: redis setnx: %w", err)
		}
		if ok {
			lease := &redisLease{
				rdb:   l.rdb,
				log:   l.log,
				key:   fullKey,
				token: token,
				stop:  make(chan struct{}),
				done:  make(chan struct{}),
			}
			go lease.keepAlive(l.cfg.TTL)
			return lease, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		timer := time.NewTimer(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type redisLease struct {
	once  sync.Once
	rdb   *goredis.Client
	log   *logger.Logger
	key   string
	token string
	stop  chan struct{}
	done  chan struct{}
}

// renewInterval leaves two renewal attempts inside one TTL.
func renewInterval(ttl time.Duration) time.Duration {
	return max(ttl/3, 10*time.Millisecond)
}

// keepAlive extends the lease every renewInterval until Release, or until
// the key no longer holds our token.
func (l *redisLease) keepAlive(ttl time.Duration) {
	defer close(l.done)
	t := time.NewTicker(renewInterval(ttl))
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), renewInterval(ttl))
		n, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
		cancel()
		switch {
		case err != nil:
			l.log.Warn("lock renew failed; retrying", "key", l.key, "error", err)
		case n == 0:
			l.log.Warn("lock lost before release", "key", l.key)
			return
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		if ctx == nil || ctx.Err() != nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if rerr := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); rerr != nil && rerr != goredis.Nil {
			l.log.Warn("lock release failed (lease will expire)", "key", l.key, "error", rerr)
			err = rerr
		}
	})
	return err
}
