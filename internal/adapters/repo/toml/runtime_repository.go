package toml

import (
	"context"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/bnema/lock-runtime/internal/ports"
	"github.com/spf13/viper"
)

// LockStateRepository and MemoryLog share runtime.toml; both open the
// file through the same path lock.
type LockStateRepository struct {
	file *fileStore[runtimeFileSchema, *runtimeFileSchema]
}

type MemoryLog struct {
	file *fileStore[runtimeFileSchema, *runtimeFileSchema]
}

var (
	_ ports.LockStateRepository = (*LockStateRepository)(nil)
	_ ports.MemoryLog           = (*MemoryLog)(nil)
)

func NewLockStateRepository(cfg *viper.Viper) (*LockStateRepository, error) {
	file, err := newFileStore[runtimeFileSchema](cfg, runtimeFileName, "runtime")
	if err != nil {
		return nil, err
	}

	return &LockStateRepository{file: file}, nil
}

func NewMemoryLog(cfg *viper.Viper) (*MemoryLog, error) {
	file, err := newFileStore[runtimeFileSchema](cfg, runtimeFileName, "runtime")
	if err != nil {
		return nil, err
	}

	return &MemoryLog{file: file}, nil
}

func (r *LockStateRepository) GetBySessionID(ctx context.Context, id domain.SessionID) (domain.LockState, error) {
	var (
		state domain.LockState
		found bool
	)
	err := r.file.view(ctx, func(file *runtimeFileSchema) error {
		for _, entry := range file.States {
			if entry.SessionID == string(id) {
				state, found = fromLockStateSchema(entry), true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return domain.LockState{}, err
	}
	if !found {
		return domain.LockState{}, domain.ErrSessionNotFound
	}

	return state, nil
}

func (r *LockStateRepository) List(ctx context.Context) ([]domain.LockState, error) {
	var states []domain.LockState
	err := r.file.view(ctx, func(file *runtimeFileSchema) error {
		states = make([]domain.LockState, 0, len(file.States))
		for _, entry := range file.States {
			states = append(states, fromLockStateSchema(entry))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return states, nil
}

func (r *LockStateRepository) Save(ctx context.Context, state domain.LockState) error {
	return r.file.update(ctx, func(file *runtimeFileSchema) error {
		encoded := toLockStateSchema(state)
		for i := range file.States {
			if file.States[i].SessionID == encoded.SessionID {
				file.States[i] = encoded
				return nil
			}
		}
		file.States = append(file.States, encoded)
		return nil
	})
}

func (r *LockStateRepository) Delete(ctx context.Context, id domain.SessionID) error {
	return r.file.update(ctx, func(file *runtimeFileSchema) error {
		kept := file.States[:0]
		for _, entry := range file.States {
			if entry.SessionID != string(id) {
				kept = append(kept, entry)
			}
		}
		file.States = kept
		return nil
	})
}

func (l *MemoryLog) Append(ctx context.Context, entry domain.MemoryEntry) error {
	return l.file.update(ctx, func(file *runtimeFileSchema) error {
		file.Memory = append(file.Memory, toMemoryEntrySchema(entry))
		return nil
	})
}

func (l *MemoryLog) ListBySession(ctx context.Context, id domain.SessionID) ([]domain.MemoryEntry, error) {
	var entries []domain.MemoryEntry
	err := l.file.view(ctx, func(file *runtimeFileSchema) error {
		for _, entry := range file.Memory {
			if entry.SessionID == string(id) {
				entries = append(entries, fromMemoryEntrySchema(entry))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (l *MemoryLog) DeleteSession(ctx context.Context, id domain.SessionID) error {
	return l.file.update(ctx, func(file *runtimeFileSchema) error {
		kept := file.Memory[:0]
		for _, entry := range file.Memory {
			if entry.SessionID != string(id) {
				kept = append(kept, entry)
			}
		}
		file.Memory = kept
		return nil
	})
}

func toLockStateSchema(state domain.LockState) lockStateSchema {
	encoded := lockStateSchema{
		SessionID:         string(state.SessionID),
		DeviceFingerprint: string(state.DeviceFingerprint),
		Locked:            state.Locked,
		AgentActive:       state.AgentActive,
		StartedAt:         formatTime(state.StartedAt),
		LastActivity:      formatTime(state.LastActivity),
		LastCloudCall:     formatTime(state.LastCloudCall),
		PausedAt:          formatTime(state.PausedAt),
		Metrics: metricsSchema{
			Prompts:           state.Metrics.Prompts,
			LocalInferences:   state.Metrics.LocalInferences,
			CloudCalls:        state.Metrics.CloudCalls,
			Errors:            state.Metrics.Errors,
			RateLimited:       state.Metrics.RateLimited,
			InputUnits:        state.Metrics.InputUnits,
			BytesIn:           state.Metrics.BytesIn,
			EstimatedCloudUSD: state.Metrics.EstimatedCloudUSD,
		},
	}
	if state.Agent != nil {
		encoded.Agent = &agentSchema{
			ID:           state.Agent.ID,
			Capabilities: append([]string(nil), state.Agent.Capabilities...),
			MemoryPolicy: state.Agent.MemoryPolicy,
		}
	}

	return encoded
}

func fromLockStateSchema(schema lockStateSchema) domain.LockState {
	state := domain.LockState{
		SessionID:         domain.SessionID(schema.SessionID),
		DeviceFingerprint: domain.DeviceFingerprint(schema.DeviceFingerprint),
		Locked:            schema.Locked,
		AgentActive:       schema.AgentActive,
		StartedAt:         parseTime(schema.StartedAt),
		LastActivity:      parseTime(schema.LastActivity),
		LastCloudCall:     parseTime(schema.LastCloudCall),
		PausedAt:          parseTime(schema.PausedAt),
		Metrics: domain.Metrics{
			Prompts:           schema.Metrics.Prompts,
			LocalInferences:   schema.Metrics.LocalInferences,
			CloudCalls:        schema.Metrics.CloudCalls,
			Errors:            schema.Metrics.Errors,
			RateLimited:       schema.Metrics.RateLimited,
			InputUnits:        schema.Metrics.InputUnits,
			BytesIn:           schema.Metrics.BytesIn,
			EstimatedCloudUSD: schema.Metrics.EstimatedCloudUSD,
		},
	}
	if schema.Agent != nil {
		state.Agent = &domain.AgentDescriptor{
			ID:           schema.Agent.ID,
			Capabilities: append([]string(nil), schema.Agent.Capabilities...),
			MemoryPolicy: schema.Agent.MemoryPolicy,
		}
	}

	return state
}

func toMemoryEntrySchema(entry domain.MemoryEntry) memoryEntrySchema {
	return memoryEntrySchema{
		ID:        entry.ID,
		Timestamp: formatTime(entry.Timestamp),
		SessionID: string(entry.SessionID),
		Type:      entry.Type,
		Content:   entry.Content,
		Encrypted: entry.Encrypted,
		LocalOnly: entry.LocalOnly,
	}
}

func fromMemoryEntrySchema(schema memoryEntrySchema) domain.MemoryEntry {
	return domain.MemoryEntry{
		ID:        schema.ID,
		Timestamp: parseTime(schema.Timestamp),
		SessionID: domain.SessionID(schema.SessionID),
		Type:      schema.Type,
		Content:   schema.Content,
		Encrypted: schema.Encrypted,
		LocalOnly: schema.LocalOnly,
	}
}
