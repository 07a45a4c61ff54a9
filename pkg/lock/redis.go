package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/zaptus/pkg/logger"
	"github.com/LeeDigitalWorks/zaptus/pkg/upload"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLockConfig configures the redis locker.
type RedisLockConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	KeyPrefix string `mapstructure:"key_prefix"`
	// TTL bounds how long a lock outlives a crashed holder. Held locks are
	// refreshed every TTL/3.
	TTL time.Duration `mapstructure:"ttl"`
}

func DefaultRedisLockConfig() RedisLockConfig {
	return RedisLockConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "zaptus:lock:",
		TTL:       30 * time.Second,
	}
}

// RedisLocker shares upload locks between server replicas. Keys expire on
// their own, so there are no stale artifacts to sweep.
type RedisLocker struct {
	client redis.UniversalClient
	ids    upload.IDFactory
	cfg    RedisLockConfig
}

// NewRedisLocker connects to redis and verifies the connection.
func NewRedisLocker(cfg RedisLockConfig, ids upload.IDFactory) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisLockerWithClient(client, ids, cfg), nil
}

func NewRedisLockerWithClient(client redis.UniversalClient, ids upload.IDFactory, cfg RedisLockConfig) *RedisLocker {
	def := DefaultRedisLockConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	return &RedisLocker{client: client, ids: ids, cfg: cfg}
}

func (l *RedisLocker) key(id upload.ID) string {
	return l.cfg.KeyPrefix + id.String()
}

func (l *RedisLocker) LockByURI(ctx context.Context, uri string) (Lock, error) {
	return lockByURI(ctx, l, l.ids, uri)
}

func (l *RedisLocker) Lock(ctx context.Context, id upload.ID) (Lock, error) {
	if id.IsZero() {
		return nil, upload.ErrBlankID
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(id), token, l.cfg.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", id, err)
	}
	if !ok {
		return nil, heldError(id)
	}

	rl := &redisLock{
		id:     id,
		key:    l.key(id),
		token:  token,
		client: l.client,
		ttl:    l.cfg.TTL,
		stopCh: make(chan struct{}),
	}
	rl.wg.Add(1)
	go rl.heartbeat()
	return rl, nil
}

func (l *RedisLocker) IsLocked(ctx context.Context, id upload.ID) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", id, err)
	}
	return n > 0, nil
}

func (l *RedisLocker) CleanupStaleLocks(ctx context.Context) (int, error) {
	return 0, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Only the holder may extend or delete its key.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)
)

type redisLock struct {
	id     upload.ID
	key    string
	token  string
	client redis.UniversalClient
	ttl    time.Duration

	once   sync.Once
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func (l *redisLock) ID() upload.ID {
	return l.id
}

func (l *redisLock) heartbeat() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			err := refreshScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Err()
			cancel()
			if err != nil {
				logger.Warn().Err(err).Str("upload_id", l.id.String()).Msg("failed to refresh upload lock")
			}
		case <-l.stopCh:
			return
		}
	}
}

func (l *redisLock) Release() error {
	var err error
	l.once.Do(func() {
		close(l.stopCh)
		l.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	})
	return err
}

var _ Locker = (*RedisLocker)(nil)
