package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps the shared redis client. Its one honeypot duty is the
// per-session turn lease that keeps the API server and the worker from
// processing the same session concurrently.
type Store struct {
	c *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{c: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *Store) Close() error { return s.c.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.c.Ping(ctx).Err()
}

const (
	lockTTL       = 60 * time.Second
	lockRetryWait = 50 * time.Millisecond
)

// Acquire takes the session lease, polling until it is granted or ctx ends.
// The TTL bounds how long a crashed holder can block the session.
func (s *Store) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := "honeypot:session_lock:" + sessionID
	for {
		ok, err := s.c.SetNX(ctx, key, 1, lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			release := func() {
				rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = s.c.Del(rctx, key).Err()
			}
			return release, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryWait):
		}
	}
}
