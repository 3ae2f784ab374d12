package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"go.uber.org/zap"
)

// RedeemTransfer resumes a session on the device presenting a transfer
// token. A token works once; it is deleted whether redemption succeeds
// or finds it expired.
func (s *RuntimeService) RedeemTransfer(ctx context.Context, cmd RedeemTransferCommand) (RedeemResult, error) {
	token := strings.TrimSpace(cmd.Token)
	if token == "" {
		return RedeemResult{}, fmt.Errorf("%w: transfer token is empty", domain.ErrInvalidPayload)
	}
	hash := domain.HashToken(token)

	record, err := s.stores.Transfers.GetByTokenHash(ctx, hash)
	if err != nil {
		return RedeemResult{}, transferLookupError(err)
	}

	unlock, err := s.locks.Lock(ctx, record.SessionID)
	if err != nil {
		return RedeemResult{}, err
	}
	defer unlock()

	// Re-read under the session lock so two redemptions cannot both win.
	record, err = s.stores.Transfers.GetByTokenHash(ctx, hash)
	if err != nil {
		return RedeemResult{}, transferLookupError(err)
	}

	now := s.clock.Now()
	if record.IsExpired(now) {
		if err := s.stores.Transfers.Delete(ctx, hash); err != nil {
			return RedeemResult{}, fmt.Errorf("delete expired transfer: %w", err)
		}
		emit(ctx, s.stores.Events, s.logger, domain.Event{Timestamp: now, Type: domain.EventTransferExpired, SessionID: record.SessionID})
		return RedeemResult{}, fmt.Errorf("transfer for session %s: %w", record.SessionID, domain.ErrTransferExpired)
	}

	session, err := s.stores.Sessions.GetByID(ctx, record.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return RedeemResult{}, fmt.Errorf("session %s: %w", record.SessionID, domain.ErrSessionNotFound)
		}
		return RedeemResult{}, fmt.Errorf("get session by id: %w", err)
	}

	state, restored, err := s.stateForRedeem(ctx, record)
	if err != nil {
		return RedeemResult{}, err
	}

	fingerprint := domain.DeriveFingerprint(cmd.Device, fingerprintNonce(session))
	device, err := s.deviceFor(ctx, fingerprint)
	if err != nil {
		return RedeemResult{}, err
	}
	if device.VaultID == "" {
		device.VaultID = session.VaultID
	}
	device.RecordPairing(session.ID, cmd.Device, now)
	if err := s.stores.Devices.Save(ctx, device); err != nil {
		return RedeemResult{}, fmt.Errorf("save device: %w", err)
	}

	state.DeviceFingerprint = fingerprint
	state.Locked = true
	state.AgentActive = true
	state.PausedAt = time.Time{}
	state.LastActivity = now

	memory := record.Memory
	if restored {
		for _, entry := range record.Memory {
			if err := s.stores.Memory.Append(ctx, entry); err != nil {
				return RedeemResult{}, fmt.Errorf("restore memory entry: %w", err)
			}
		}
	} else {
		memory, err = s.stores.Memory.ListBySession(ctx, session.ID)
		if err != nil {
			return RedeemResult{}, fmt.Errorf("list memory entries: %w", err)
		}
	}

	if err := s.stores.States.Save(ctx, state); err != nil {
		return RedeemResult{}, fmt.Errorf("save lock state: %w", err)
	}
	session.Status = domain.SessionStatusPaired
	session.DeviceFingerprint = fingerprint
	if err := s.stores.Sessions.Save(ctx, session); err != nil {
		return RedeemResult{}, fmt.Errorf("save session: %w", err)
	}
	if err := s.stores.Transfers.Delete(ctx, hash); err != nil {
		return RedeemResult{}, fmt.Errorf("delete redeemed transfer: %w", err)
	}

	s.logger.Info("transfer redeemed",
		zap.String("session", string(session.ID)),
		zap.String("from", string(record.DeviceFingerprint)),
		zap.String("to", string(fingerprint)),
		zap.Bool("restored", restored))
	emit(ctx, s.stores.Events, s.logger, domain.Event{
		Timestamp: now,
		Type:      domain.EventTransferRedeemed,
		SessionID: session.ID,
		Data:      map[string]string{"from": string(record.DeviceFingerprint), "to": string(fingerprint)},
	})

	return RedeemResult{
		Session:           session,
		DeviceFingerprint: fingerprint,
		LockState:         state.Clone(),
		Memory:            transferable(memory),
	}, nil
}

// stateForRedeem prefers the live state and falls back to the frozen
// snapshot when the live one is gone.
func (s *RuntimeService) stateForRedeem(ctx context.Context, record domain.TransferRecord) (domain.LockState, bool, error) {
	state, err := s.stores.States.GetBySessionID(ctx, record.SessionID)
	if err == nil {
		return state, false, nil
	}
	if errors.Is(err, domain.ErrSessionNotFound) {
		return record.State.Clone(), true, nil
	}

	return domain.LockState{}, false, fmt.Errorf("get lock state: %w", err)
}

func transferLookupError(err error) error {
	if errors.Is(err, domain.ErrTransferNotFound) {
		return err
	}
	return fmt.Errorf("get transfer by token hash: %w", err)
}

// Sandbox builds the sandbox for a paired session and checks that every
// requested capability was granted.
func (s *RuntimeService) Sandbox(ctx context.Context, id domain.SessionID, requested ...domain.Capability) (domain.SandboxConfig, error) {
	session, state, err := s.loadActive(ctx, id)
	if err != nil {
		return domain.SandboxConfig{}, err
	}
	device, err := s.deviceFor(ctx, state.DeviceFingerprint)
	if err != nil {
		return domain.SandboxConfig{}, err
	}

	cfg := s.sandbox.BuildConfig(state, device, s.policy.Evaluate(session))
	if err := s.sandbox.Require(cfg, requested...); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (s *RuntimeService) Session(ctx context.Context, id domain.SessionID) (SessionView, error) {
	session, err := s.stores.Sessions.GetByID(ctx, id)
	if err != nil {
		return SessionView{}, fmt.Errorf("get session by id: %w", err)
	}

	return s.view(ctx, session)
}

// ListSessions returns every active session, oldest first.
func (s *RuntimeService) ListSessions(ctx context.Context) ([]SessionView, error) {
	sessions, err := s.stores.Sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		view, err := s.view(ctx, session)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}

	return views, nil
}

func (s *RuntimeService) view(ctx context.Context, session domain.PairingSession) (SessionView, error) {
	view := SessionView{
		Session: session,
		Policy:  s.policy.Evaluate(session),
	}

	state, err := s.stores.States.GetBySessionID(ctx, session.ID)
	switch {
	case err == nil:
		view.State = &state
	case errors.Is(err, domain.ErrSessionNotFound):
		return view, nil
	default:
		return SessionView{}, fmt.Errorf("get lock state: %w", err)
	}

	device, err := s.stores.Devices.GetByFingerprint(ctx, state.DeviceFingerprint)
	switch {
	case err == nil:
		view.Device = &device
	case errors.Is(err, domain.ErrDeviceNotFound):
	default:
		return SessionView{}, fmt.Errorf("get device by fingerprint: %w", err)
	}

	return view, nil
}

func (s *RuntimeService) Archive(ctx context.Context, id domain.SessionID) (domain.ArchivedSession, error) {
	archive, err := s.stores.Archives.GetBySessionID(ctx, id)
	if err != nil {
		return domain.ArchivedSession{}, fmt.Errorf("get archive: %w", err)
	}

	return archive, nil
}

// OpenMemory returns the plaintext of a memory entry, unsealing it when
// it was stored encrypted.
func (s *RuntimeService) OpenMemory(entry domain.MemoryEntry) (string, error) {
	if !entry.Encrypted {
		return entry.Content, nil
	}
	if s.sealer == nil {
		return "", errors.New("memory entry is encrypted but no sealer is configured")
	}

	plain, err := s.sealer.Open(entry.Content)
	if err != nil {
		return "", fmt.Errorf("open memory entry %s: %w", entry.ID, err)
	}

	return string(plain), nil
}

func (s *RuntimeService) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if s.stores.Events == nil {
		return nil, nil
	}

	events, err := s.stores.Events.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}

	return events, nil
}
