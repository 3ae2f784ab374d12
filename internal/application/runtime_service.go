package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
	"go.uber.org/zap"
)

const (
	DefaultMaxAPIBodyBytes = 64 << 10
	defaultResumeBaseURL   = "http://127.0.0.1:8787/resume"
	defaultMemoryType      = "note"

	suggestContinueLocally = "Continue locally: this session keeps work on the paired device."
	suggestRetryLater      = "Continue locally for now; cloud escalation is available again after the cooldown."
)

type RuntimeConfig struct {
	TransferTTL     time.Duration
	ResumeBaseURL   string
	MaxAPIBodyBytes int
}

type RuntimeDeps struct {
	Stores    Stores
	Policy    PolicyEngine
	Cost      CostAccountant
	Sandbox   SandboxConfigurator
	Responder ports.LocalResponder
	// Sealer is optional; without it encrypted memory writes are stored
	// in plaintext and flagged as such.
	Sealer   ports.Sealer
	Archiver *SessionArchiver
	Locks    *SessionLocks
	Clock    ports.Clock
	Logger   *zap.Logger
}

// RuntimeService routes runtime messages for paired sessions. Every
// message for a session is handled under that session's lock.
type RuntimeService struct {
	stores    Stores
	policy    PolicyEngine
	cost      CostAccountant
	sandbox   SandboxConfigurator
	responder ports.LocalResponder
	sealer    ports.Sealer
	archiver  *SessionArchiver
	locks     *SessionLocks
	clock     ports.Clock
	logger    *zap.Logger
	cfg       RuntimeConfig
}

func NewRuntimeService(deps RuntimeDeps, cfg RuntimeConfig) *RuntimeService {
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Locks == nil {
		deps.Locks = NewSessionLocks()
	}
	logger := loggerOrNop(deps.Logger)
	if deps.Archiver == nil {
		deps.Archiver = NewSessionArchiver(deps.Stores.Archives, logger, DefaultArchiveAttempts, DefaultArchiveBackoff)
	}
	if cfg.TransferTTL <= 0 {
		cfg.TransferTTL = domain.DefaultTransferTTL
	}
	if strings.TrimSpace(cfg.ResumeBaseURL) == "" {
		cfg.ResumeBaseURL = defaultResumeBaseURL
	}
	if cfg.MaxAPIBodyBytes <= 0 {
		cfg.MaxAPIBodyBytes = DefaultMaxAPIBodyBytes
	}

	return &RuntimeService{
		stores:    deps.Stores,
		policy:    deps.Policy,
		cost:      deps.Cost,
		sandbox:   deps.Sandbox,
		responder: deps.Responder,
		sealer:    deps.Sealer,
		archiver:  deps.Archiver,
		locks:     deps.Locks,
		clock:     deps.Clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Handle dispatches one runtime message. Unknown message types are
// rejected before any state is read or written.
func (s *RuntimeService) Handle(ctx context.Context, id domain.SessionID, msg domain.RuntimeMessage) (domain.RuntimeResult, error) {
	if !msg.Type.Valid() {
		return domain.RuntimeResult{}, fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, msg.Type)
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return domain.RuntimeResult{}, err
	}
	defer unlock()

	session, state, err := s.loadActive(ctx, id)
	if err != nil {
		if msg.Type == domain.MessageEnd && errors.Is(err, domain.ErrSessionNotFound) {
			return s.finishEnd(ctx, id, err)
		}
		return domain.RuntimeResult{}, err
	}

	now := s.clock.Now()
	state.LastActivity = now

	if msg.Type == domain.MessageEnd {
		return s.endSession(ctx, session, state, domain.EndReasonEnded, now)
	}

	var result domain.RuntimeResult
	switch msg.Type {
	case domain.MessagePrompt:
		result, err = s.handlePrompt(ctx, &session, &state, msg.Payload, now)
	case domain.MessageMemoryWrite:
		result, err = s.handleMemoryWrite(ctx, session, &state, msg.Payload, now)
	case domain.MessageAPIRequest:
		result, err = s.handleAPIRequest(ctx, session, &state, msg.Payload, now)
	case domain.MessagePause:
		result, err = s.handlePause(ctx, &session, &state, now)
	case domain.MessageResume:
		result, err = s.handleResume(ctx, &session, &state, now)
	case domain.MessageTransfer:
		result, err = s.handleTransfer(ctx, session, &state, now)
	}

	if err != nil {
		if !errors.Is(err, domain.ErrInvalidPayload) {
			return domain.RuntimeResult{}, err
		}
		state.Metrics.Errors++
	}

	if saveErr := s.stores.States.Save(ctx, state); saveErr != nil {
		return domain.RuntimeResult{}, fmt.Errorf("save lock state: %w", saveErr)
	}
	if err != nil {
		return domain.RuntimeResult{}, err
	}

	result.Type = msg.Type
	result.State = state.Clone()
	return result, nil
}

func (s *RuntimeService) loadActive(ctx context.Context, id domain.SessionID) (domain.PairingSession, domain.LockState, error) {
	state, err := s.stores.States.GetBySessionID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.PairingSession{}, domain.LockState{}, fmt.Errorf("lock state %s: %w", id, domain.ErrSessionNotFound)
		}
		return domain.PairingSession{}, domain.LockState{}, fmt.Errorf("get lock state: %w", err)
	}

	session, err := s.stores.Sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return domain.PairingSession{}, domain.LockState{}, fmt.Errorf("session %s: %w", id, domain.ErrSessionNotFound)
		}
		return domain.PairingSession{}, domain.LockState{}, fmt.Errorf("get session by id: %w", err)
	}

	return session, state, nil
}

func (s *RuntimeService) handlePrompt(ctx context.Context, session *domain.PairingSession, state *domain.LockState, payload domain.MessagePayload, now time.Time) (domain.RuntimeResult, error) {
	prompt := strings.TrimSpace(payload.Prompt)
	if prompt == "" {
		return domain.RuntimeResult{}, fmt.Errorf("%w: prompt is empty", domain.ErrInvalidPayload)
	}

	state.Metrics.Prompts++
	state.Metrics.BytesIn += int64(len(payload.Prompt))

	if state.Paused() {
		if err := s.resume(ctx, session, state, now); err != nil {
			return domain.RuntimeResult{}, err
		}
	}

	policy := s.policy.Evaluate(*session)
	if !policy.CloudAllowed || payload.PreferLocal {
		reason := domain.ReasonCloudNotAllowed
		if policy.CloudAllowed {
			reason = domain.ReasonPreferLocal
		}
		response, err := s.reflect(ctx, prompt, state)
		if err != nil {
			return domain.RuntimeResult{}, err
		}

		return domain.RuntimeResult{
			Outcome:  domain.OutcomeLocalReflection,
			Response: response,
			Reason:   reason,
		}, nil
	}

	decision := s.cost.CheckCloudCall(*state, policy, now)
	if !decision.Allowed {
		state.Metrics.RateLimited++
		response, err := s.reflect(ctx, prompt, state)
		if err != nil {
			return domain.RuntimeResult{}, err
		}
		s.logger.Debug("cloud call deferred",
			zap.String("session", string(session.ID)),
			zap.String("reason", string(decision.Reason)),
			zap.Duration("retry_after", decision.RetryAfter))
		emit(ctx, s.stores.Events, s.logger, domain.Event{
			Timestamp: now,
			Type:      domain.EventCloudDeferred,
			SessionID: session.ID,
			Data:      map[string]string{"reason": string(decision.Reason)},
		})

		return domain.RuntimeResult{
			Outcome:    domain.OutcomeRateLimited,
			Response:   response,
			Reason:     decision.Reason,
			RetryAfter: decision.RetryAfter,
			Suggestion: suggestRetryLater,
		}, nil
	}

	estimate := s.cost.Estimate(prompt)
	s.cost.RecordCloudCall(state, estimate, now)
	emit(ctx, s.stores.Events, s.logger, domain.Event{
		Timestamp: now,
		Type:      domain.EventCloudApproved,
		SessionID: session.ID,
		Data:      map[string]string{"kind": "prompt", "units": fmt.Sprintf("%d", estimate.TotalUnits)},
	})

	return domain.RuntimeResult{
		Outcome:              domain.OutcomeCloudAllowed,
		Estimate:             &estimate,
		RequiresConfirmation: policy.RequireConfirmation,
	}, nil
}

// reflect runs the local responder and counts the local inference.
func (s *RuntimeService) reflect(ctx context.Context, prompt string, state *domain.LockState) (string, error) {
	response, err := s.responder.Reflect(ctx, prompt, *state)
	if err != nil {
		return "", fmt.Errorf("local reflection: %w", err)
	}
	state.Metrics.LocalInferences++

	return response, nil
}

func (s *RuntimeService) handleMemoryWrite(ctx context.Context, session domain.PairingSession, state *domain.LockState, payload domain.MessagePayload, now time.Time) (domain.RuntimeResult, error) {
	if payload.Content == "" {
		return domain.RuntimeResult{}, fmt.Errorf("%w: memory content is empty", domain.ErrInvalidPayload)
	}

	memoryType := strings.TrimSpace(payload.MemoryType)
	if memoryType == "" {
		memoryType = defaultMemoryType
	}

	policy := s.policy.Evaluate(session)
	entry := domain.MemoryEntry{
		ID:        newMemoryID(),
		Timestamp: now,
		SessionID: session.ID,
		Type:      memoryType,
		Content:   payload.Content,
		LocalOnly: payload.LocalOnly || policy.Privacy == domain.PrivacyMaximum,
	}

	var suggestion string
	if payload.Encrypt {
		if s.sealer == nil {
			suggestion = "Encryption is not configured; the entry was stored locally in plaintext."
		} else {
			sealed, err := s.sealer.Seal([]byte(payload.Content))
			if err != nil {
				return domain.RuntimeResult{}, fmt.Errorf("seal memory entry: %w", err)
			}
			entry.Content = sealed
			entry.Encrypted = true
		}
	}

	if err := s.stores.Memory.Append(ctx, entry); err != nil {
		return domain.RuntimeResult{}, fmt.Errorf("append memory entry: %w", err)
	}
	state.Metrics.BytesIn += int64(len(payload.Content))

	return domain.RuntimeResult{
		Outcome:    domain.OutcomeMemoryStored,
		MemoryID:   entry.ID,
		Suggestion: suggestion,
	}, nil
}

func (s *RuntimeService) handleAPIRequest(ctx context.Context, session domain.PairingSession, state *domain.LockState, payload domain.MessagePayload, now time.Time) (domain.RuntimeResult, error) {
	policy := s.policy.Evaluate(session)
	if !policy.CloudAllowed {
		return domain.RuntimeResult{
			Outcome:    domain.OutcomeAPIRefused,
			Reason:     domain.ReasonCloudNotAllowed,
			Suggestion: suggestContinueLocally,
		}, nil
	}

	request := payload.Request
	if request == nil {
		return domain.RuntimeResult{}, fmt.Errorf("%w: api request is missing", domain.ErrInvalidPayload)
	}
	method := strings.ToUpper(strings.TrimSpace(request.Method))
	if method != "GET" && method != "POST" {
		return domain.RuntimeResult{}, fmt.Errorf("%w: unsupported method %q", domain.ErrInvalidPayload, request.Method)
	}
	if len(request.Body) > s.cfg.MaxAPIBodyBytes {
		return domain.RuntimeResult{}, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrInvalidPayload, s.cfg.MaxAPIBodyBytes)
	}

	device, err := s.deviceFor(ctx, state.DeviceFingerprint)
	if err != nil {
		return domain.RuntimeResult{}, err
	}
	sandbox := s.sandbox.BuildConfig(*state, device, policy)
	if !sandbox.Permissions.Network {
		return domain.RuntimeResult{
			Outcome:    domain.OutcomeAPIRefused,
			Reason:     domain.ReasonInsufficientCapability,
			Suggestion: suggestContinueLocally,
		}, nil
	}
	if !s.sandbox.AllowsURL(sandbox, request.URL) {
		return domain.RuntimeResult{
			Outcome:    domain.OutcomeAPIRefused,
			Reason:     domain.ReasonInvalidRequest,
			Suggestion: "Only the platform's trusted inference endpoints may be called.",
		}, nil
	}

	decision := s.cost.CheckCloudCall(*state, policy, now)
	if !decision.Allowed {
		state.Metrics.RateLimited++
		return domain.RuntimeResult{
			Outcome:    domain.OutcomeRateLimited,
			Reason:     decision.Reason,
			RetryAfter: decision.RetryAfter,
			Suggestion: suggestRetryLater,
		}, nil
	}

	estimate := s.cost.Estimate(request.Body)
	s.cost.RecordCloudCall(state, estimate, now)
	emit(ctx, s.stores.Events, s.logger, domain.Event{
		Timestamp: now,
		Type:      domain.EventCloudApproved,
		SessionID: session.ID,
		Data:      map[string]string{"kind": "api_request", "url": request.URL},
	})

	return domain.RuntimeResult{
		Outcome:              domain.OutcomeAPIApproved,
		Estimate:             &estimate,
		RequiresConfirmation: policy.RequireConfirmation,
	}, nil
}

func (s *RuntimeService) handlePause(ctx context.Context, session *domain.PairingSession, state *domain.LockState, now time.Time) (domain.RuntimeResult, error) {
	state.AgentActive = false
	state.PausedAt = now

	if session.Status != domain.SessionStatusPaused {
		session.Status = domain.SessionStatusPaused
		if err := s.stores.Sessions.Save(ctx, *session); err != nil {
			return domain.RuntimeResult{}, fmt.Errorf("save paused session: %w", err)
		}
	}

	emit(ctx, s.stores.Events, s.logger, domain.Event{Timestamp: now, Type: domain.EventSessionPaused, SessionID: session.ID})

	return domain.RuntimeResult{
		Outcome: domain.OutcomePaused,
		Summary: "Session paused. Send a prompt or resume to continue.",
	}, nil
}

func (s *RuntimeService) handleResume(ctx context.Context, session *domain.PairingSession, state *domain.LockState, now time.Time) (domain.RuntimeResult, error) {
	if err := s.resume(ctx, session, state, now); err != nil {
		return domain.RuntimeResult{}, err
	}

	return domain.RuntimeResult{
		Outcome: domain.OutcomeResumed,
		Summary: "Session resumed.",
	}, nil
}

func (s *RuntimeService) resume(ctx context.Context, session *domain.PairingSession, state *domain.LockState, now time.Time) error {
	state.AgentActive = true
	state.PausedAt = time.Time{}

	if session.Status != domain.SessionStatusPaired {
		session.Status = domain.SessionStatusPaired
		if err := s.stores.Sessions.Save(ctx, *session); err != nil {
			return fmt.Errorf("save resumed session: %w", err)
		}
	}

	emit(ctx, s.stores.Events, s.logger, domain.Event{Timestamp: now, Type: domain.EventSessionResumed, SessionID: session.ID})
	return nil
}

func (s *RuntimeService) handleTransfer(ctx context.Context, session domain.PairingSession, state *domain.LockState, now time.Time) (domain.RuntimeResult, error) {
	token, err := newToken()
	if err != nil {
		return domain.RuntimeResult{}, err
	}

	memory, err := s.stores.Memory.ListBySession(ctx, session.ID)
	if err != nil {
		return domain.RuntimeResult{}, fmt.Errorf("list memory entries: %w", err)
	}

	record := domain.TransferRecord{
		TokenHash:         domain.HashToken(token),
		SessionID:         session.ID,
		DeviceFingerprint: state.DeviceFingerprint,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.cfg.TransferTTL),
		State:             state.Clone(),
		Memory:            transferable(memory),
	}
	if err := s.stores.Transfers.Save(ctx, record); err != nil {
		return domain.RuntimeResult{}, fmt.Errorf("save transfer record: %w", err)
	}

	fragment := "#transfer=" + token
	emit(ctx, s.stores.Events, s.logger, domain.Event{
		Timestamp: now,
		Type:      domain.EventTransferCreated,
		SessionID: session.ID,
		Data:      map[string]string{"expires_at": record.ExpiresAt.Format(time.RFC3339)},
	})

	return domain.RuntimeResult{
		Outcome: domain.OutcomeTransferCreated,
		Transfer: &domain.TransferTicket{
			Token:     token,
			Fragment:  fragment,
			URL:       strings.TrimRight(s.cfg.ResumeBaseURL, "/") + fragment,
			ExpiresAt: record.ExpiresAt,
		},
	}, nil
}

// transferable drops entries that must stay on the device that wrote them.
func transferable(entries []domain.MemoryEntry) []domain.MemoryEntry {
	kept := make([]domain.MemoryEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.LocalOnly {
			kept = append(kept, entry)
		}
	}
	return kept
}

// endSession archives the session and removes it from active storage.
// The caller must hold the session lock. State is left in place when
// archival fails so the end can be retried.
func (s *RuntimeService) endSession(ctx context.Context, session domain.PairingSession, state domain.LockState, reason domain.EndReason, now time.Time) (domain.RuntimeResult, error) {
	memory, err := s.stores.Memory.ListBySession(ctx, session.ID)
	if err != nil {
		return domain.RuntimeResult{}, fmt.Errorf("list memory entries: %w", err)
	}

	state.Locked = false
	state.AgentActive = false
	stats := s.cost.Stats(state, now)

	archive := domain.ArchivedSession{
		SessionID: session.ID,
		VaultID:   session.VaultID,
		AgentID:   session.AgentID,
		Mode:      session.Mode,
		Purpose:   session.Metadata.Purpose,
		Reason:    reason,
		EndedAt:   now,
		State:     state.Clone(),
		Stats:     stats,
		Memory:    memory,
	}
	if err := s.archiver.Archive(ctx, archive); err != nil {
		if !errors.Is(err, domain.ErrArchiveExists) {
			return domain.RuntimeResult{}, err
		}
		// An earlier end archived the session but did not finish removing it.
		s.logger.Warn("session already archived",
			zap.String("session", string(session.ID)))
	}

	if err := s.removeArchived(ctx, session.ID); err != nil {
		return domain.RuntimeResult{}, err
	}

	s.logger.Info("session ended",
		zap.String("session", string(session.ID)),
		zap.String("reason", string(reason)),
		zap.Duration("duration", stats.Duration),
		zap.Int64("local", stats.LocalInferences),
		zap.Int64("cloud", stats.CloudCalls))
	emit(ctx, s.stores.Events, s.logger, domain.Event{
		Timestamp: now,
		Type:      domain.EventSessionEnded,
		SessionID: session.ID,
		Data:      map[string]string{"reason": string(reason), "savings_usd": fmt.Sprintf("%.4f", stats.EstimatedSavingsUSD)},
	})

	return domain.RuntimeResult{
		Type:    domain.MessageEnd,
		Outcome: domain.OutcomeEnded,
		Summary: endSummary(stats),
		Stats:   &stats,
		State:   state,
	}, nil
}

// removeArchived drops an archived session from active storage. The
// lock state goes first and the session record last, so a failure part
// way leaves the session listed and the removal can be finished by a
// later end or by the sweeper.
func (s *RuntimeService) removeArchived(ctx context.Context, id domain.SessionID) error {
	if err := s.stores.States.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove archived session %s: delete lock state: %w", id, err)
	}
	if err := s.stores.Memory.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("remove archived session %s: delete memory entries: %w", id, err)
	}
	if err := s.stores.Sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove archived session %s: delete session: %w", id, err)
	}

	return nil
}

// finishArchived completes the removal of a session whose archive was
// written but which still has a session record or lock state left in
// active storage. It reports false when there is nothing to finish.
// The caller must hold the session lock.
func (s *RuntimeService) finishArchived(ctx context.Context, id domain.SessionID) (domain.ArchivedSession, bool, error) {
	_, sessionErr := s.stores.Sessions.GetByID(ctx, id)
	if sessionErr != nil && !errors.Is(sessionErr, domain.ErrSessionNotFound) {
		return domain.ArchivedSession{}, false, fmt.Errorf("get session by id: %w", sessionErr)
	}
	_, stateErr := s.stores.States.GetBySessionID(ctx, id)
	if stateErr != nil && !errors.Is(stateErr, domain.ErrSessionNotFound) {
		return domain.ArchivedSession{}, false, fmt.Errorf("get lock state: %w", stateErr)
	}
	if sessionErr != nil && stateErr != nil {
		return domain.ArchivedSession{}, false, nil
	}

	archive, err := s.stores.Archives.GetBySessionID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrArchiveNotFound) {
			return domain.ArchivedSession{}, false, nil
		}
		return domain.ArchivedSession{}, false, fmt.Errorf("get archive: %w", err)
	}

	if err := s.removeArchived(ctx, id); err != nil {
		return domain.ArchivedSession{}, false, err
	}
	s.logger.Info("archived session removed",
		zap.String("session", string(id)),
		zap.String("reason", string(archive.Reason)))

	return archive, true, nil
}

// finishEnd answers an end for a session that is no longer active. When
// an earlier end stopped after archiving, the removal is completed and
// the archived outcome returned; otherwise notFound is passed through.
func (s *RuntimeService) finishEnd(ctx context.Context, id domain.SessionID, notFound error) (domain.RuntimeResult, error) {
	archive, finished, err := s.finishArchived(ctx, id)
	if err != nil {
		return domain.RuntimeResult{}, err
	}
	if !finished {
		return domain.RuntimeResult{}, notFound
	}

	stats := archive.Stats
	return domain.RuntimeResult{
		Type:    domain.MessageEnd,
		Outcome: domain.OutcomeEnded,
		Summary: endSummary(stats),
		Stats:   &stats,
		State:   archive.State.Clone(),
	}, nil
}

func endSummary(stats domain.SessionStats) string {
	return fmt.Sprintf(
		"Session ended after %s: %d prompts, %d ran locally, %d escalated to the cloud. Estimated savings $%.4f.",
		stats.Duration.Round(time.Second),
		stats.Prompts,
		stats.LocalInferences,
		stats.CloudCalls,
		stats.EstimatedSavingsUSD,
	)
}

func (s *RuntimeService) deviceFor(ctx context.Context, fingerprint domain.DeviceFingerprint) (domain.DevicePair, error) {
	device, err := s.stores.Devices.GetByFingerprint(ctx, fingerprint)
	if err == nil {
		return device, nil
	}
	if errors.Is(err, domain.ErrDeviceNotFound) {
		// Unknown devices advertise nothing.
		return domain.DevicePair{Fingerprint: fingerprint, Trust: domain.TrustNew}, nil
	}

	return domain.DevicePair{}, fmt.Errorf("get device by fingerprint: %w", err)
}
