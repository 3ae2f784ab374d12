package toml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/gofrs/flock"
	"github.com/spf13/viper"
	"github.com/zeebo/blake3"
)

const (
	lockFileSuffix     = ".lock"
	lockRetryDelay     = 10 * time.Millisecond
	sessionLockDir     = "locks"
	sessionLockStripes = 64
)

// SessionGuard holds a session against other processes sharing the
// store, such as the CLI next to a running server. Sessions hash onto a
// fixed set of lock files so the lock directory never grows.
type SessionGuard struct {
	dir string
}

func NewSessionGuard(cfg *viper.Viper) (*SessionGuard, error) {
	dir, err := ResolveStoreDir(cfg)
	if err != nil {
		return nil, err
	}

	path, err := normalizePath(filepath.Join(dir, sessionLockDir))
	if err != nil {
		return nil, err
	}

	return &SessionGuard{dir: path}, nil
}

func (g *SessionGuard) Acquire(ctx context.Context, id domain.SessionID) (func(), error) {
	if err := os.MkdirAll(g.dir, storeDirMode); err != nil {
		return nil, fmt.Errorf("create session lock directory: %w", err)
	}

	return acquireFileLock(ctx, g.pathFor(id))
}

func (g *SessionGuard) pathFor(id domain.SessionID) string {
	sum := blake3.Sum256([]byte(id))
	stripe := int(sum[0]) % sessionLockStripes

	return filepath.Join(g.dir, fmt.Sprintf("session-%02d%s", stripe, lockFileSuffix))
}

// acquireFileLock takes an exclusive flock on path, polling until it is
// free or ctx ends.
func acquireFileLock(ctx context.Context, path string) (func(), error) {
	lock := flock.New(path)

	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", filepath.Base(path), err)
	}
	if !locked {
		return nil, fmt.Errorf("lock %s: not acquired", filepath.Base(path))
	}

	return func() { _ = lock.Unlock() }, nil
}
