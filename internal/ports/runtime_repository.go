package ports

import (
	"context"

	"github.com/bnema/lock-runtime/internal/domain"
)

type LockStateRepository interface {
	GetBySessionID(ctx context.Context, id domain.SessionID) (domain.LockState, error)
	List(ctx context.Context) ([]domain.LockState, error)
	Save(ctx context.Context, state domain.LockState) error
	Delete(ctx context.Context, id domain.SessionID) error
}

// MemoryLog stores memory entries in append order per session.
type MemoryLog interface {
	Append(ctx context.Context, entry domain.MemoryEntry) error
	ListBySession(ctx context.Context, id domain.SessionID) ([]domain.MemoryEntry, error)
	DeleteSession(ctx context.Context, id domain.SessionID) error
}

type TransferRepository interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (domain.TransferRecord, error)
	List(ctx context.Context) ([]domain.TransferRecord, error)
	Save(ctx context.Context, record domain.TransferRecord) error
	Delete(ctx context.Context, tokenHash string) error
}

// SessionGuard serializes work on one session across processes sharing
// a store. The returned release function must be called exactly once.
type SessionGuard interface {
	Acquire(ctx context.Context, id domain.SessionID) (func(), error)
}
