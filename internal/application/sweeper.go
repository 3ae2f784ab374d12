package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
	"go.uber.org/zap"
)

const DefaultSweepInterval = 60 * time.Second

type SweeperConfig struct {
	Interval time.Duration
	// EnforceMaxDuration ends paired sessions that outlive their declared
	// maximum duration.
	EnforceMaxDuration bool
}

// ExpirySweeper reclaims sessions nobody will finish: unpaired sessions
// past their TTL, expired transfer records, archived sessions whose
// removal was interrupted and, when enabled, paired sessions past their
// maximum duration.
type ExpirySweeper struct {
	runtime *RuntimeService
	cfg     SweeperConfig
}

func NewExpirySweeper(runtime *RuntimeService, cfg SweeperConfig) *ExpirySweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}

	return &ExpirySweeper{runtime: runtime, cfg: cfg}
}

// Run sweeps on every tick until ctx is cancelled. Sweep failures are
// logged and retried on the next tick.
func (w *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	logger := w.runtime.logger
	logger.Info("sweeper started", zap.Duration("interval", w.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			report, err := w.SweepOnce(ctx)
			if err != nil {
				logger.Error("sweep", zap.Error(err))
				continue
			}
			if len(report.Expired)+len(report.TimedOut)+len(report.Reaped)+report.TransfersExpired > 0 {
				logger.Info("sweep complete",
					zap.Int("expired", len(report.Expired)),
					zap.Int("timed_out", len(report.TimedOut)),
					zap.Int("reaped", len(report.Reaped)),
					zap.Int("transfers_expired", report.TransfersExpired))
			}
		}
	}
}

func (w *ExpirySweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	rt := w.runtime
	report := SweepReport{At: rt.clock.Now()}

	sessions, err := rt.stores.Sessions.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list sessions: %w", err)
	}

	var sweepErr error
	for _, session := range sessions {
		switch {
		case session.AwaitingScan() && session.IsExpired(report.At):
			expired, err := w.expire(ctx, session.ID)
			if err != nil {
				sweepErr = errors.Join(sweepErr, err)
				continue
			}
			if expired {
				report.Expired = append(report.Expired, session.ID)
			}
		case w.cfg.EnforceMaxDuration && session.ExceedsMaxDuration(report.At):
			ended, err := w.timeOut(ctx, session.ID)
			if err != nil {
				sweepErr = errors.Join(sweepErr, err)
				continue
			}
			if ended {
				report.TimedOut = append(report.TimedOut, session.ID)
			}
		}
	}

	reaped, err := w.reapArchived(ctx, sessions)
	report.Reaped = reaped
	if err != nil {
		sweepErr = errors.Join(sweepErr, err)
	}

	transfers, err := w.sweepTransfers(ctx, report.At)
	report.TransfersExpired = transfers
	if err != nil {
		sweepErr = errors.Join(sweepErr, err)
	}

	return report, sweepErr
}

// expire removes an unpaired session whose pairing window closed. The
// session is re-read under its lock because a pairing may have won the
// race since the listing.
func (w *ExpirySweeper) expire(ctx context.Context, id domain.SessionID) (bool, error) {
	rt := w.runtime
	unlock, err := rt.locks.Lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	now := rt.clock.Now()
	session, err := rt.stores.Sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get session by id: %w", err)
	}
	if !session.AwaitingScan() || !session.IsExpired(now) {
		return false, nil
	}

	if err := rt.stores.Sessions.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("delete expired session %s: %w", id, err)
	}

	rt.logger.Debug("session expired", zap.String("session", string(id)))
	emit(ctx, rt.stores.Events, rt.logger, domain.Event{
		Timestamp: now,
		Type:      domain.EventSessionExpired,
		SessionID: id,
		Data:      map[string]string{"expired_at": session.ExpiresAt.Format(time.RFC3339)},
	})

	return true, nil
}

func (w *ExpirySweeper) timeOut(ctx context.Context, id domain.SessionID) (bool, error) {
	rt := w.runtime
	unlock, err := rt.locks.Lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	now := rt.clock.Now()
	session, state, err := rt.loadActive(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	if !session.ExceedsMaxDuration(now) {
		return false, nil
	}

	if _, err := rt.endSession(ctx, session, state, domain.EndReasonMaxDuration, now); err != nil {
		return false, err
	}

	return true, nil
}

// reapArchived finishes removing sessions that were archived but left
// behind in active storage: paired sessions without a lock state and
// lock states without a session.
func (w *ExpirySweeper) reapArchived(ctx context.Context, sessions []domain.PairingSession) ([]domain.SessionID, error) {
	rt := w.runtime
	states, err := rt.stores.States.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list lock states: %w", err)
	}

	withState := make(map[domain.SessionID]bool, len(states))
	for _, state := range states {
		withState[state.SessionID] = true
	}
	listed := make(map[domain.SessionID]bool, len(sessions))
	var candidates []domain.SessionID
	for _, session := range sessions {
		listed[session.ID] = true
		if !session.AwaitingScan() && !withState[session.ID] {
			candidates = append(candidates, session.ID)
		}
	}
	for _, state := range states {
		if !listed[state.SessionID] {
			candidates = append(candidates, state.SessionID)
		}
	}

	var reaped []domain.SessionID
	var reapErr error
	for _, id := range candidates {
		ok, err := w.reap(ctx, id)
		if err != nil {
			reapErr = errors.Join(reapErr, err)
			continue
		}
		if ok {
			reaped = append(reaped, id)
		}
	}

	return reaped, reapErr
}

func (w *ExpirySweeper) reap(ctx context.Context, id domain.SessionID) (bool, error) {
	rt := w.runtime
	unlock, err := rt.locks.Lock(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	archive, finished, err := rt.finishArchived(ctx, id)
	if err != nil || !finished {
		return false, err
	}

	emit(ctx, rt.stores.Events, rt.logger, domain.Event{
		Timestamp: rt.clock.Now(),
		Type:      domain.EventSessionEnded,
		SessionID: id,
		Data:      map[string]string{"reason": string(archive.Reason), "reaped": "true"},
	})

	return true, nil
}

func (w *ExpirySweeper) sweepTransfers(ctx context.Context, now time.Time) (int, error) {
	rt := w.runtime
	records, err := rt.stores.Transfers.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list transfers: %w", err)
	}

	var removed int
	var sweepErr error
	for _, record := range records {
		if !record.IsExpired(now) {
			continue
		}
		if err := rt.stores.Transfers.Delete(ctx, record.TokenHash); err != nil && !errors.Is(err, domain.ErrTransferNotFound) {
			sweepErr = errors.Join(sweepErr, fmt.Errorf("delete expired transfer: %w", err))
			continue
		}
		removed++
		emit(ctx, rt.stores.Events, rt.logger, domain.Event{Timestamp: now, Type: domain.EventTransferExpired, SessionID: record.SessionID})
	}

	return removed, sweepErr
}
