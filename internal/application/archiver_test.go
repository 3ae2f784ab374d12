package application

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/lock-runtime/internal/adapters/repo/memory"
	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lostAckArchiveStore writes the archive but reports a failure on the
// first call, as a store whose commit landed after a timeout would.
type lostAckArchiveStore struct {
	calls int
	next  *memory.ArchiveStore
}

func (s *lostAckArchiveStore) Save(ctx context.Context, archive domain.ArchivedSession) error {
	s.calls++
	if err := s.next.Save(ctx, archive); err != nil {
		return err
	}
	if s.calls == 1 {
		return errors.New("timeout")
	}
	return nil
}

func (s *lostAckArchiveStore) GetBySessionID(ctx context.Context, id domain.SessionID) (domain.ArchivedSession, error) {
	return s.next.GetBySessionID(ctx, id)
}

func TestSessionArchiverRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	store := &flakyArchiveStore{failures: 2, err: errors.New("busy"), next: memory.NewArchiveStore()}
	archiver := NewSessionArchiver(store, nil, 3, 0)

	require.NoError(t, archiver.Archive(context.Background(), domain.ArchivedSession{SessionID: "s1"}))
	assert.Equal(t, 3, store.calls)

	_, err := store.GetBySessionID(context.Background(), "s1")
	require.NoError(t, err)
}

func TestSessionArchiverGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()

	store := &flakyArchiveStore{failures: 5, err: errors.New("busy"), next: memory.NewArchiveStore()}
	archiver := NewSessionArchiver(store, nil, 2, 0)

	err := archiver.Archive(context.Background(), domain.ArchivedSession{SessionID: "s1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, 2, store.calls)
}

func TestSessionArchiverTreatsExistingArchiveOnRetryAsSuccess(t *testing.T) {
	t.Parallel()

	store := &lostAckArchiveStore{next: memory.NewArchiveStore()}
	archiver := NewSessionArchiver(store, nil, 3, 0)

	require.NoError(t, archiver.Archive(context.Background(), domain.ArchivedSession{SessionID: "s1"}))
	assert.Equal(t, 2, store.calls)
}

func TestSessionArchiverRejectsDoubleArchive(t *testing.T) {
	t.Parallel()

	store := memory.NewArchiveStore()
	archiver := NewSessionArchiver(store, nil, 3, 0)
	require.NoError(t, archiver.Archive(context.Background(), domain.ArchivedSession{SessionID: "s1"}))

	err := archiver.Archive(context.Background(), domain.ArchivedSession{SessionID: "s1"})
	require.ErrorIs(t, err, domain.ErrArchiveExists)
}

func TestSessionArchiverStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	store := &flakyArchiveStore{failures: 5, err: errors.New("busy"), next: memory.NewArchiveStore()}
	archiver := NewSessionArchiver(store, nil, 3, DefaultArchiveBackoff)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := archiver.Archive(ctx, domain.ArchivedSession{SessionID: "s1"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.calls)
}
