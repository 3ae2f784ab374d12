// Package memory keeps runtime records in process memory. Every
// repository is safe for concurrent use and hands out copies, so callers
// never share mutable state with the store.
package memory

import (
	"context"
	"sync"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
)

const DefaultEventRetention = 10000

var (
	_ ports.SessionRepository   = (*SessionRepository)(nil)
	_ ports.DeviceRepository    = (*DeviceRepository)(nil)
	_ ports.LockStateRepository = (*LockStateRepository)(nil)
	_ ports.MemoryLog           = (*MemoryLog)(nil)
	_ ports.TransferRepository  = (*TransferRepository)(nil)
	_ ports.ArchiveStore        = (*ArchiveStore)(nil)
	_ ports.EventLog            = (*EventLog)(nil)
)

type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]domain.PairingSession
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: map[domain.SessionID]domain.PairingSession{}}
}

func (r *SessionRepository) GetByID(_ context.Context, id domain.SessionID) (domain.PairingSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return domain.PairingSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *SessionRepository) List(_ context.Context) ([]domain.PairingSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PairingSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		result = append(result, session)
	}
	return result, nil
}

func (r *SessionRepository) Save(_ context.Context, session domain.PairingSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session
	return nil
}

func (r *SessionRepository) Delete(_ context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
	return nil
}

type DeviceRepository struct {
	mu      sync.RWMutex
	devices map[domain.DeviceFingerprint]domain.DevicePair
}

func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{devices: map[domain.DeviceFingerprint]domain.DevicePair{}}
}

func (r *DeviceRepository) GetByFingerprint(_ context.Context, fingerprint domain.DeviceFingerprint) (domain.DevicePair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[fingerprint]
	if !ok {
		return domain.DevicePair{}, domain.ErrDeviceNotFound
	}
	return device, nil
}

func (r *DeviceRepository) List(_ context.Context) ([]domain.DevicePair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.DevicePair, 0, len(r.devices))
	for _, device := range r.devices {
		result = append(result, device)
	}
	return result, nil
}

func (r *DeviceRepository) Save(_ context.Context, device domain.DevicePair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices[device.Fingerprint] = device
	return nil
}

type LockStateRepository struct {
	mu     sync.RWMutex
	states map[domain.SessionID]domain.LockState
}

func NewLockStateRepository() *LockStateRepository {
	return &LockStateRepository{states: map[domain.SessionID]domain.LockState{}}
}

func (r *LockStateRepository) GetBySessionID(_ context.Context, id domain.SessionID) (domain.LockState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.states[id]
	if !ok {
		return domain.LockState{}, domain.ErrSessionNotFound
	}
	return state.Clone(), nil
}

func (r *LockStateRepository) List(_ context.Context) ([]domain.LockState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.LockState, 0, len(r.states))
	for _, state := range r.states {
		result = append(result, state.Clone())
	}
	return result, nil
}

func (r *LockStateRepository) Save(_ context.Context, state domain.LockState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.states[state.SessionID] = state.Clone()
	return nil
}

func (r *LockStateRepository) Delete(_ context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, id)
	return nil
}

type MemoryLog struct {
	mu      sync.RWMutex
	entries map[domain.SessionID][]domain.MemoryEntry
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{entries: map[domain.SessionID][]domain.MemoryEntry{}}
}

func (l *MemoryLog) Append(_ context.Context, entry domain.MemoryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[entry.SessionID] = append(l.entries[entry.SessionID], entry)
	return nil
}

func (l *MemoryLog) ListBySession(_ context.Context, id domain.SessionID) ([]domain.MemoryEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return append([]domain.MemoryEntry(nil), l.entries[id]...), nil
}

func (l *MemoryLog) DeleteSession(_ context.Context, id domain.SessionID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, id)
	return nil
}

type TransferRepository struct {
	mu        sync.RWMutex
	transfers map[string]domain.TransferRecord
}

func NewTransferRepository() *TransferRepository {
	return &TransferRepository{transfers: map[string]domain.TransferRecord{}}
}

func (r *TransferRepository) GetByTokenHash(_ context.Context, tokenHash string) (domain.TransferRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.transfers[tokenHash]
	if !ok {
		return domain.TransferRecord{}, domain.ErrTransferNotFound
	}
	return cloneTransfer(record), nil
}

func (r *TransferRepository) List(_ context.Context) ([]domain.TransferRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.TransferRecord, 0, len(r.transfers))
	for _, record := range r.transfers {
		result = append(result, cloneTransfer(record))
	}
	return result, nil
}

func (r *TransferRepository) Save(_ context.Context, record domain.TransferRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transfers[record.TokenHash] = cloneTransfer(record)
	return nil
}

func (r *TransferRepository) Delete(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.transfers, tokenHash)
	return nil
}

func cloneTransfer(record domain.TransferRecord) domain.TransferRecord {
	record.State = record.State.Clone()
	record.Memory = append([]domain.MemoryEntry(nil), record.Memory...)
	return record
}

type ArchiveStore struct {
	mu       sync.RWMutex
	archives map[domain.SessionID]domain.ArchivedSession
}

func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{archives: map[domain.SessionID]domain.ArchivedSession{}}
}

func (s *ArchiveStore) Save(_ context.Context, archive domain.ArchivedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.archives[archive.SessionID]; ok {
		return domain.ErrArchiveExists
	}
	archive.State = archive.State.Clone()
	archive.Memory = append([]domain.MemoryEntry(nil), archive.Memory...)
	s.archives[archive.SessionID] = archive
	return nil
}

func (s *ArchiveStore) GetBySessionID(_ context.Context, id domain.SessionID) (domain.ArchivedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	archive, ok := s.archives[id]
	if !ok {
		return domain.ArchivedSession{}, domain.ErrArchiveNotFound
	}
	archive.Memory = append([]domain.MemoryEntry(nil), archive.Memory...)
	return archive, nil
}

// EventLog keeps the newest events up to its retention.
type EventLog struct {
	mu        sync.RWMutex
	retention int
	events    []domain.Event
}

func NewEventLog(retention int) *EventLog {
	if retention <= 0 {
		retention = DefaultEventRetention
	}
	return &EventLog{retention: retention}
}

func (l *EventLog) Append(_ context.Context, event domain.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
	if over := len(l.events) - l.retention; over > 0 {
		l.events = append([]domain.Event(nil), l.events[over:]...)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *EventLog) Recent(_ context.Context, limit int) ([]domain.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.events) {
		limit = len(l.events)
	}
	result := make([]domain.Event, 0, limit)
	for i := len(l.events) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, l.events[i])
	}
	return result, nil
}
