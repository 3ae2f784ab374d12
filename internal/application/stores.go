package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const tokenBytes = 32

// Stores groups the repositories shared by the pairing, runtime and
// sweeper services.
type Stores struct {
	Sessions  ports.SessionRepository
	Devices   ports.DeviceRepository
	States    ports.LockStateRepository
	Memory    ports.MemoryLog
	Transfers ports.TransferRepository
	Archives  ports.ArchiveStore
	Events    ports.EventLog
}

// SessionLocks serializes all mutation of one session. Every service
// touching a session must share the same instance. With a guard the
// lock also excludes other processes working on the same store.
type SessionLocks struct {
	mu      sync.Mutex
	entries map[domain.SessionID]*sessionLock
	guard   ports.SessionGuard
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewSessionLocks() *SessionLocks {
	return &SessionLocks{entries: map[domain.SessionID]*sessionLock{}}
}

func NewGuardedSessionLocks(guard ports.SessionGuard) *SessionLocks {
	locks := NewSessionLocks()
	locks.guard = guard
	return locks
}

// Lock blocks until the session is exclusively held and returns the
// matching unlock function. It fails only when the guard cannot be
// acquired, in which case nothing is held.
func (l *SessionLocks) Lock(ctx context.Context, id domain.SessionID) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &sessionLock{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	release := func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}

	if l.guard == nil {
		return release, nil
	}

	unguard, err := l.guard.Acquire(ctx, id)
	if err != nil {
		release()
		return nil, fmt.Errorf("lock session %s: %w", id, err)
	}

	return func() {
		unguard()
		release()
	}, nil
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newMemoryID() string {
	return "mem_" + uuid.NewString()
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// emit records an event. The event log is an audit aid, so a failed
// append is logged and never fails the operation.
func emit(ctx context.Context, events ports.EventLog, logger *zap.Logger, event domain.Event) {
	if events == nil {
		return
	}
	if err := events.Append(ctx, event); err != nil {
		logger.Warn("append event",
			zap.String("type", string(event.Type)),
			zap.String("session", string(event.SessionID)),
			zap.Error(err))
	}
}
