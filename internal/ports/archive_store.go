package ports

import (
	"context"

	"github.com/bnema/lock-runtime/internal/domain"
)

// ArchiveStore persists terminal session records. Save fails with
// domain.ErrArchiveExists when the session was already archived.
type ArchiveStore interface {
	Save(ctx context.Context, archive domain.ArchivedSession) error
	GetBySessionID(ctx context.Context, id domain.SessionID) (domain.ArchivedSession, error)
}

type EventLog interface {
	Append(ctx context.Context, event domain.Event) error
	Recent(ctx context.Context, limit int) ([]domain.Event, error)
}
