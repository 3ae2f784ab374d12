package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
	"go.uber.org/zap"
)

const (
	DefaultArchiveAttempts = 3
	DefaultArchiveBackoff  = 100 * time.Millisecond
)

// SessionArchiver writes terminal session records. Archival is the
// durability guarantee for billing and audit, so failures are retried
// and then surfaced.
type SessionArchiver struct {
	store    ports.ArchiveStore
	logger   *zap.Logger
	attempts int
	backoff  time.Duration
}

func NewSessionArchiver(store ports.ArchiveStore, logger *zap.Logger, attempts int, backoff time.Duration) *SessionArchiver {
	if attempts <= 0 {
		attempts = DefaultArchiveAttempts
	}
	if backoff < 0 {
		backoff = DefaultArchiveBackoff
	}

	return &SessionArchiver{
		store:    store,
		logger:   loggerOrNop(logger),
		attempts: attempts,
		backoff:  backoff,
	}
}

func (a *SessionArchiver) Archive(ctx context.Context, archive domain.ArchivedSession) error {
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		err := a.store.Save(ctx, archive)
		if err == nil {
			return nil
		}
		// A retry that finds the record already written means an earlier
		// attempt landed despite reporting an error.
		if errors.Is(err, domain.ErrArchiveExists) && attempt > 1 {
			return nil
		}
		if errors.Is(err, domain.ErrArchiveExists) {
			return err
		}

		lastErr = err
		a.logger.Warn("archive session",
			zap.String("session", string(archive.SessionID)),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == a.attempts {
			break
		}
		timer := time.NewTimer(a.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("archive session %s: %w", archive.SessionID, errors.Join(lastErr, ctx.Err()))
		case <-timer.C:
		}
	}

	return fmt.Errorf("archive session %s after %d attempts: %w", archive.SessionID, a.attempts, lastErr)
}
