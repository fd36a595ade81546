// Package redislock implements per-connection sync locks on Redis so several
// server instances never sync the same connection at once.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	defaultTTL     = 15 * time.Minute
	keyPrefix      = "finsync:sync-lock:"
	releaseTimeout = 5 * time.Second
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the key's expiry only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Config holds the Redis connection settings
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects to Redis, retrying the initial ping while the server
// comes up.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	_, err := backoff.Retry(ctx, func() (string, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Result()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// Locker implements openfinance.Locker with SET NX PX and a token checked
// release. While a run holds the lock its expiry is pushed forward every
// ttl/3, so runs longer than the TTL keep exclusive ownership.
type Locker struct {
	client          *redis.Client
	ttl             time.Duration
	refreshInterval time.Duration
}

// New creates a Redis locker. A zero ttl uses 15 minutes.
func New(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Locker{client: client, ttl: ttl, refreshInterval: ttl / 3}
}

func lockKey(connectionID string) string {
	return keyPrefix + connectionID
}

func (l *Locker) TryLock(ctx context.Context, connectionID string) (func(), bool, error) {
	key := lockKey(connectionID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	refreshed := make(chan struct{})
	go l.keepAlive(connectionID, key, token, stop, refreshed)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-refreshed

			// The run context may already be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()

			n, err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Int()
			if err != nil && !errors.Is(err, redis.Nil) {
				log.WithField("connection_id", connectionID).Warnf("Failed to release sync lock: %v", err)
				return
			}
			if n == 0 {
				log.WithField("connection_id", connectionID).Warn("Sync lock expired before release")
			}
		})
	}

	return release, true, nil
}

// keepAlive extends the lock until stop is closed or the lock is found to
// belong to someone else.
func (l *Locker) keepAlive(connectionID, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.refreshInterval)
	defer ticker.Stop()

	logger := log.WithField("connection_id", connectionID)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil && !errors.Is(err, redis.Nil) {
				// Transient; the next tick retries before the TTL runs out.
				logger.Warnf("Failed to extend sync lock: %v", err)
				continue
			}
			if n == 0 {
				logger.Error("Sync lock lost before the run finished")
				return
			}
		}
	}
}
