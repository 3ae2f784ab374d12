package ports

import (
	"context"

	"github.com/bnema/lock-runtime/internal/domain"
)

type SessionRepository interface {
	GetByID(ctx context.Context, id domain.SessionID) (domain.PairingSession, error)
	List(ctx context.Context) ([]domain.PairingSession, error)
	Save(ctx context.Context, session domain.PairingSession) error
	Delete(ctx context.Context, id domain.SessionID) error
}
