package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

// ErrLockNotHeld is returned by Release when the lock expired or was taken over
var ErrLockNotHeld = errors.New("lock not held")

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	newToken      func() string
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewClientWithRedis(rdb), nil
}

// Option configures a Client
type Option func(*Client)

// WithTokenFunc sets the generator of lock owner tokens
func WithTokenFunc(fn func() string) Option {
	return func(c *Client) {
		c.newToken = fn
	}
}

// NewClientWithRedis wraps an existing connection
func NewClientWithRedis(rdb *redis.Client, opts ...Option) *Client {
	c := &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		newToken:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Lock is a held distributed lock
type Lock struct {
	client *Client
	key    string
	token  string
}

// TryLock acquires the named lock for ttl. It returns a nil Lock when
// another owner holds it.
func (c *Client) TryLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := lockKey(name)
	token := c.newToken()

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s failed: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{client: c, key: key, token: token}, nil
}

// Release deletes the lock if this owner still holds it
func (l *Lock) Release(ctx context.Context) error {
	result, err := l.client.releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}

	released, ok := result.(int64)
	if !ok {
		return fmt.Errorf("unexpected script result type")
	}
	if released == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func lockKey(name string) string {
	return "lock:" + name
}
