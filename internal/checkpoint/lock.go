package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"patternpress/internal/logging"
)

// Locker serialises writers on one run slug. The returned release func must
// be called on every exit path.
type Locker interface {
	Acquire(ctx context.Context, slug string) (release func() error, err error)
}

// =============================================================================
// FILE LOCK
// =============================================================================

// FileLocker holds <root>/<slug>/.lock, created with O_EXCL.
type FileLocker struct {
	root string
	// ttl > 0 lets a lock file older than ttl be taken over. It covers a
	// process killed while holding the lock.
	ttl time.Duration
}

// NewFileLocker creates a file-based locker under root.
func NewFileLocker(root string, ttl time.Duration) *FileLocker {
	return &FileLocker{root: root, ttl: ttl}
}

func (l *FileLocker) lockPath(slug string) string {
	return filepath.Join(l.root, slug, ".lock")
}

// Acquire creates the lock file or returns ErrLocked.
func (l *FileLocker) Acquire(ctx context.Context, slug string) (func() error, error) {
	if err := checkKey(slug, "lock"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := l.lockPath(slug)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) && l.takeOverStale(path) {
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	}
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + " " + time.Now().UTC().Format(time.RFC3339) + "\n")
	_ = f.Close()
	logging.CheckpointDebug("Acquired lock %s", path)

	return func() error {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("release lock: %w", err)
		}
		logging.CheckpointDebug("Released lock %s", path)
		return nil
	}, nil
}

func (l *FileLocker) takeOverStale(path string) bool {
	if l.ttl <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) < l.ttl {
		return false
	}
	logging.CheckpointWarn("Removing stale lock %s (age %s)", path, time.Since(info.ModTime()).Round(time.Second))
	return os.Remove(path) == nil
}

// =============================================================================
// REDIS LOCK
// =============================================================================

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker uses SET NX PX with a random token so several hosts writing to
// one shared output directory see the same lock.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker connects to addr and verifies the connection.
func NewRedisLocker(addr string, ttl time.Duration) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisLockerWithClient(client, ttl), nil
}

// NewRedisLockerWithClient wraps an existing client.
func NewRedisLockerWithClient(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{client: client, prefix: "press:lock:", ttl: ttl}
}

func (l *RedisLocker) key(slug string) string {
	return l.prefix + slug
}

// Acquire sets the lock key or returns ErrLocked.
func (l *RedisLocker) Acquire(ctx context.Context, slug string) (func() error, error) {
	if err := checkKey(slug, "lock"); err != nil {
		return nil, err
	}
	token := uuid.NewString()
	key := l.key(slug)

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire redis lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}
	logging.CheckpointDebug("Acquired redis lock %s", key)

	return func() error {
		// The run context may already be cancelled; release must still happen.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release redis lock: %w", err)
		}
		logging.CheckpointDebug("Released redis lock %s", key)
		return nil
	}, nil
}

// Close closes the redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// =============================================================================
// NO LOCK
// =============================================================================

// NopLocker never blocks. It is used when lock.backend is "none".
type NopLocker struct{}

func (NopLocker) Acquire(ctx context.Context, _ string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() error { return nil }, nil
}
