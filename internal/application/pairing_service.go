package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultCallbackBaseURL = "http://127.0.0.1:8787"

type PairingConfig struct {
	SessionTTL      time.Duration
	CallbackBaseURL string
}

type PairingService struct {
	stores  Stores
	encoder ports.PayloadEncoder
	locks   *SessionLocks
	clock   ports.Clock
	logger  *zap.Logger
	cfg     PairingConfig
}

func NewPairingService(stores Stores, encoder ports.PayloadEncoder, locks *SessionLocks, clock ports.Clock, logger *zap.Logger, cfg PairingConfig) *PairingService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if locks == nil {
		locks = NewSessionLocks()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = domain.DefaultSessionTTL
	}
	if strings.TrimSpace(cfg.CallbackBaseURL) == "" {
		cfg.CallbackBaseURL = defaultCallbackBaseURL
	}

	return &PairingService{
		stores:  stores,
		encoder: encoder,
		locks:   locks,
		clock:   clock,
		logger:  loggerOrNop(logger),
		cfg:     cfg,
	}
}

func (s *PairingService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (CreatedSession, error) {
	token, err := newToken()
	if err != nil {
		return CreatedSession{}, err
	}

	mode := cmd.Mode
	if mode == "" {
		mode = domain.ModeSoft
	}

	now := s.clock.Now()
	session := domain.PairingSession{
		ID:          domain.SessionID(uuid.NewString()),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.SessionTTL),
		TokenHash:   domain.HashToken(token),
		TokenPrefix: domain.TokenPrefix(token),
		VaultID:     strings.TrimSpace(cmd.VaultID),
		AgentID:     strings.TrimSpace(cmd.AgentID),
		Mode:        mode,
		Status:      domain.SessionStatusAwaitingScan,
		Metadata: domain.SessionMetadata{
			Purpose:             strings.TrimSpace(cmd.Purpose),
			AllowCloud:          cmd.AllowCloud,
			RequireConfirmation: cmd.RequireConfirmation,
			MaxDuration:         cmd.MaxDuration,
		},
	}
	if err := session.Validate(); err != nil {
		return CreatedSession{}, fmt.Errorf("create session: %w", err)
	}

	payload := domain.QRPayload{
		Version:     domain.QRPayloadVersion,
		Type:        domain.QRPayloadType,
		SessionID:   session.ID,
		TokenPrefix: session.TokenPrefix,
		ExpiresAt:   session.ExpiresAt,
		CallbackURL: s.callbackURL(session.ID),
	}
	encoded, err := s.encoder.Encode(payload)
	if err != nil {
		return CreatedSession{}, fmt.Errorf("encode qr payload: %w", err)
	}

	if err := s.stores.Sessions.Save(ctx, session); err != nil {
		return CreatedSession{}, fmt.Errorf("save session: %w", err)
	}

	s.logger.Info("pairing session created",
		zap.String("session", string(session.ID)),
		zap.String("mode", string(session.Mode)),
		zap.Bool("allow_cloud", session.Metadata.AllowCloud),
		zap.Time("expires_at", session.ExpiresAt))
	emit(ctx, s.stores.Events, s.logger, domain.Event{
		Timestamp: now,
		Type:      domain.EventSessionCreated,
		SessionID: session.ID,
		Data:      map[string]string{"purpose": session.Metadata.Purpose, "mode": string(session.Mode)},
	})

	return CreatedSession{
		Session: session,
		Token:   token,
		QR:      payload,
		QRCode:  encoded,
	}, nil
}

// ValidatePairing binds a device to a waiting session. Expected failures
// come back as an invalid PairingResult; the error is reserved for
// storage problems.
func (s *PairingService) ValidatePairing(ctx context.Context, cmd ValidatePairingCommand) (PairingResult, error) {
	unlock, err := s.locks.Lock(ctx, cmd.SessionID)
	if err != nil {
		return PairingResult{}, err
	}
	defer unlock()

	now := s.clock.Now()
	session, err := s.stores.Sessions.GetByID(ctx, cmd.SessionID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return s.reject(ctx, cmd.SessionID, domain.ErrSessionNotFound, now), nil
		}
		return PairingResult{}, fmt.Errorf("get session by id: %w", err)
	}

	switch {
	case !session.AwaitingScan():
		return s.reject(ctx, cmd.SessionID, domain.ErrAlreadyPaired, now), nil
	case session.IsExpired(now):
		return s.reject(ctx, cmd.SessionID, domain.ErrSessionExpired, now), nil
	case !domain.TokenMatches(session.TokenHash, cmd.Token):
		return s.reject(ctx, cmd.SessionID, domain.ErrTokenMismatch, now), nil
	}

	fingerprint := domain.DeriveFingerprint(cmd.Device, fingerprintNonce(session))
	device, err := s.loadDevice(ctx, fingerprint, session.VaultID)
	if err != nil {
		return PairingResult{}, err
	}
	device.RecordPairing(session.ID, cmd.Device, now)
	if err := s.stores.Devices.Save(ctx, device); err != nil {
		return PairingResult{}, fmt.Errorf("save device: %w", err)
	}

	state := domain.NewLockState(session.ID, fingerprint, agentDescriptor(session), now)
	if err := s.stores.States.Save(ctx, state); err != nil {
		return PairingResult{}, fmt.Errorf("save lock state: %w", err)
	}

	session.Status = domain.SessionStatusPaired
	session.PairedAt = now
	session.DeviceFingerprint = fingerprint
	if err := s.stores.Sessions.Save(ctx, session); err != nil {
		if rollbackErr := s.stores.States.Delete(ctx, session.ID); rollbackErr != nil {
			return PairingResult{}, fmt.Errorf("save paired session and rollback lock state: %w", errors.Join(err, rollbackErr))
		}
		return PairingResult{}, fmt.Errorf("save paired session: %w", err)
	}

	s.logger.Info("session paired",
		zap.String("session", string(session.ID)),
		zap.String("device", string(fingerprint)),
		zap.String("trust", string(device.Trust)))
	emit(ctx, s.stores.Events, s.logger, domain.Event{
		Timestamp: now,
		Type:      domain.EventSessionPaired,
		SessionID: session.ID,
		Data:      map[string]string{"device": string(fingerprint), "trust": string(device.Trust)},
	})

	return PairingResult{
		Valid:             true,
		Session:           &session,
		DeviceFingerprint: fingerprint,
		Device:            &device,
		LockState:         &state,
		Greeting:          greeting(device),
	}, nil
}

func (s *PairingService) reject(ctx context.Context, id domain.SessionID, cause error, now time.Time) PairingResult {
	reason := domain.ReasonFor(cause)
	s.logger.Debug("pairing rejected", zap.String("session", string(id)), zap.String("reason", string(reason)))
	emit(ctx, s.stores.Events, s.logger, domain.Event{
		Timestamp: now,
		Type:      domain.EventPairingFailed,
		SessionID: id,
		Data:      map[string]string{"reason": string(reason)},
	})

	return PairingResult{Reason: reason}
}

func (s *PairingService) loadDevice(ctx context.Context, fingerprint domain.DeviceFingerprint, vaultID string) (domain.DevicePair, error) {
	device, err := s.stores.Devices.GetByFingerprint(ctx, fingerprint)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, domain.ErrDeviceNotFound) {
		return domain.DevicePair{}, fmt.Errorf("get device by fingerprint: %w", err)
	}

	return domain.DevicePair{
		Fingerprint: fingerprint,
		VaultID:     vaultID,
		Trust:       domain.TrustNew,
	}, nil
}

func (s *PairingService) callbackURL(id domain.SessionID) string {
	return strings.TrimRight(s.cfg.CallbackBaseURL, "/") + "/v1/sessions/" + string(id) + "/pair"
}

// fingerprintNonce scopes fingerprints to a vault so a device is
// recognised across that vault's sessions.
func fingerprintNonce(session domain.PairingSession) string {
	if session.VaultID != "" {
		return "vault:" + session.VaultID
	}
	return "session:" + string(session.ID)
}

func agentDescriptor(session domain.PairingSession) *domain.AgentDescriptor {
	if session.AgentID == "" {
		return nil
	}

	return &domain.AgentDescriptor{
		ID:           session.AgentID,
		MemoryPolicy: memoryPolicy(session.Mode),
	}
}

func memoryPolicy(mode domain.Mode) string {
	if mode.PrivacyOriented() {
		return "local_only"
	}
	return "local_first"
}

func greeting(device domain.DevicePair) string {
	platform := strings.TrimSpace(device.Platform)
	if platform == "" {
		platform = "unknown"
	}

	return fmt.Sprintf("Paired with %s device (trust: %s). Work runs locally unless the session allows the cloud.", platform, device.Trust)
}
