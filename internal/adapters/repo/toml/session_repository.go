package toml

import (
	"context"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
	"github.com/spf13/viper"
)

type SessionRepository struct {
	file *fileStore[sessionsFileSchema, *sessionsFileSchema]
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

func NewSessionRepository(cfg *viper.Viper) (*SessionRepository, error) {
	file, err := newFileStore[sessionsFileSchema](cfg, sessionsFileName, "sessions")
	if err != nil {
		return nil, err
	}

	return &SessionRepository{file: file}, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id domain.SessionID) (domain.PairingSession, error) {
	var (
		session domain.PairingSession
		found   bool
	)
	err := r.file.view(ctx, func(file *sessionsFileSchema) error {
		for _, entry := range file.Sessions {
			if entry.ID == string(id) {
				session, found = fromSessionSchema(entry), true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return domain.PairingSession{}, err
	}
	if !found {
		return domain.PairingSession{}, domain.ErrSessionNotFound
	}

	return session, nil
}

func (r *SessionRepository) List(ctx context.Context) ([]domain.PairingSession, error) {
	var sessions []domain.PairingSession
	err := r.file.view(ctx, func(file *sessionsFileSchema) error {
		sessions = make([]domain.PairingSession, 0, len(file.Sessions))
		for _, entry := range file.Sessions {
			sessions = append(sessions, fromSessionSchema(entry))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return sessions, nil
}

func (r *SessionRepository) Save(ctx context.Context, session domain.PairingSession) error {
	return r.file.update(ctx, func(file *sessionsFileSchema) error {
		encoded := toSessionSchema(session)
		for i := range file.Sessions {
			if file.Sessions[i].ID == encoded.ID {
				file.Sessions[i] = encoded
				return nil
			}
		}
		file.Sessions = append(file.Sessions, encoded)
		return nil
	})
}

func (r *SessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	return r.file.update(ctx, func(file *sessionsFileSchema) error {
		kept := file.Sessions[:0]
		for _, entry := range file.Sessions {
			if entry.ID != string(id) {
				kept = append(kept, entry)
			}
		}
		file.Sessions = kept
		return nil
	})
}

func toSessionSchema(session domain.PairingSession) sessionSchema {
	return sessionSchema{
		ID:                string(session.ID),
		CreatedAt:         formatTime(session.CreatedAt),
		ExpiresAt:         formatTime(session.ExpiresAt),
		TokenHash:         session.TokenHash,
		TokenPrefix:       session.TokenPrefix,
		VaultID:           session.VaultID,
		AgentID:           session.AgentID,
		Mode:              string(session.Mode),
		Status:            string(session.Status),
		PairedAt:          formatTime(session.PairedAt),
		DeviceFingerprint: string(session.DeviceFingerprint),
		Metadata: metadataSchema{
			Purpose:             session.Metadata.Purpose,
			AllowCloud:          session.Metadata.AllowCloud,
			RequireConfirmation: session.Metadata.RequireConfirmation,
			MaxDuration:         formatDuration(session.Metadata.MaxDuration),
		},
	}
}

func fromSessionSchema(schema sessionSchema) domain.PairingSession {
	mode := domain.Mode(schema.Mode)
	if mode == "" {
		mode = domain.ModeSoft
	}

	return domain.PairingSession{
		ID:                domain.SessionID(schema.ID),
		CreatedAt:         parseTime(schema.CreatedAt),
		ExpiresAt:         parseTime(schema.ExpiresAt),
		TokenHash:         schema.TokenHash,
		TokenPrefix:       schema.TokenPrefix,
		VaultID:           schema.VaultID,
		AgentID:           schema.AgentID,
		Mode:              mode,
		Status:            domain.SessionStatus(schema.Status),
		PairedAt:          parseTime(schema.PairedAt),
		DeviceFingerprint: domain.DeviceFingerprint(schema.DeviceFingerprint),
		Metadata: domain.SessionMetadata{
			Purpose:             schema.Metadata.Purpose,
			AllowCloud:          schema.Metadata.AllowCloud,
			RequireConfirmation: schema.Metadata.RequireConfirmation,
			MaxDuration:         parseDuration(schema.Metadata.MaxDuration),
		},
	}
}
