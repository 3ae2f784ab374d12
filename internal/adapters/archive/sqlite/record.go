package sqlite

import (
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
)

// archiveRecord is the JSON shape stored inside the compressed payload.
// It is decoupled from domain types so renames there do not break old
// archives.
type archiveRecord struct {
	SessionID string         `json:"session_id"`
	VaultID   string         `json:"vault_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Mode      string         `json:"mode"`
	Purpose   string         `json:"purpose,omitempty"`
	Reason    string         `json:"reason"`
	EndedAt   time.Time      `json:"ended_at"`
	State     stateRecord    `json:"state"`
	Stats     statsRecord    `json:"stats"`
	Memory    []memoryRecord `json:"memory"`
}

type stateRecord struct {
	DeviceFingerprint string        `json:"device_fingerprint"`
	Locked            bool          `json:"locked"`
	AgentActive       bool          `json:"agent_active"`
	StartedAt         time.Time     `json:"started_at"`
	LastActivity      time.Time     `json:"last_activity"`
	LastCloudCall     time.Time     `json:"last_cloud_call"`
	PausedAt          time.Time     `json:"paused_at"`
	Metrics           metricsRecord `json:"metrics"`
	Agent             *agentRecord  `json:"agent,omitempty"`
}

type metricsRecord struct {
	Prompts           int64   `json:"prompts"`
	LocalInferences   int64   `json:"local_inferences"`
	CloudCalls        int64   `json:"cloud_calls"`
	Errors            int64   `json:"errors"`
	RateLimited       int64   `json:"rate_limited"`
	InputUnits        int64   `json:"input_units"`
	BytesIn           int64   `json:"bytes_in"`
	EstimatedCloudUSD float64 `json:"estimated_cloud_usd"`
}

type agentRecord struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities,omitempty"`
	MemoryPolicy string   `json:"memory_policy,omitempty"`
}

type statsRecord struct {
	DurationMS          int64   `json:"duration_ms"`
	Prompts             int64   `json:"prompts"`
	LocalInferences     int64   `json:"local_inferences"`
	CloudCalls          int64   `json:"cloud_calls"`
	Errors              int64   `json:"errors"`
	RateLimited         int64   `json:"rate_limited"`
	LocalRatio          float64 `json:"local_ratio"`
	EstimatedSavingsUSD float64 `json:"estimated_savings_usd"`
	EstimatedCloudUSD   float64 `json:"estimated_cloud_usd"`
}

type memoryRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Encrypted bool      `json:"encrypted,omitempty"`
	LocalOnly bool      `json:"local_only,omitempty"`
}

func toArchiveRecord(archive domain.ArchivedSession) archiveRecord {
	state := archive.State
	record := archiveRecord{
		SessionID: string(archive.SessionID),
		VaultID:   archive.VaultID,
		AgentID:   archive.AgentID,
		Mode:      string(archive.Mode),
		Purpose:   archive.Purpose,
		Reason:    string(archive.Reason),
		EndedAt:   archive.EndedAt.UTC(),
		State: stateRecord{
			DeviceFingerprint: string(state.DeviceFingerprint),
			Locked:            state.Locked,
			AgentActive:       state.AgentActive,
			StartedAt:         state.StartedAt.UTC(),
			LastActivity:      state.LastActivity.UTC(),
			LastCloudCall:     state.LastCloudCall.UTC(),
			PausedAt:          state.PausedAt.UTC(),
			Metrics:           metricsRecord(state.Metrics),
		},
		Stats: statsRecord{
			DurationMS:          archive.Stats.Duration.Milliseconds(),
			Prompts:             archive.Stats.Prompts,
			LocalInferences:     archive.Stats.LocalInferences,
			CloudCalls:          archive.Stats.CloudCalls,
			Errors:              archive.Stats.Errors,
			RateLimited:         archive.Stats.RateLimited,
			LocalRatio:          archive.Stats.LocalRatio,
			EstimatedSavingsUSD: archive.Stats.EstimatedSavingsUSD,
			EstimatedCloudUSD:   archive.Stats.EstimatedCloudUSD,
		},
		Memory: make([]memoryRecord, 0, len(archive.Memory)),
	}
	if state.Agent != nil {
		record.State.Agent = &agentRecord{
			ID:           state.Agent.ID,
			Capabilities: append([]string(nil), state.Agent.Capabilities...),
			MemoryPolicy: state.Agent.MemoryPolicy,
		}
	}
	for _, entry := range archive.Memory {
		record.Memory = append(record.Memory, memoryRecord{
			ID:        entry.ID,
			Timestamp: entry.Timestamp.UTC(),
			Type:      entry.Type,
			Content:   entry.Content,
			Encrypted: entry.Encrypted,
			LocalOnly: entry.LocalOnly,
		})
	}

	return record
}

func (r archiveRecord) toDomain() domain.ArchivedSession {
	sessionID := domain.SessionID(r.SessionID)
	archive := domain.ArchivedSession{
		SessionID: sessionID,
		VaultID:   r.VaultID,
		AgentID:   r.AgentID,
		Mode:      domain.Mode(r.Mode),
		Purpose:   r.Purpose,
		Reason:    domain.EndReason(r.Reason),
		EndedAt:   r.EndedAt,
		State: domain.LockState{
			SessionID:         sessionID,
			DeviceFingerprint: domain.DeviceFingerprint(r.State.DeviceFingerprint),
			Locked:            r.State.Locked,
			AgentActive:       r.State.AgentActive,
			StartedAt:         r.State.StartedAt,
			LastActivity:      r.State.LastActivity,
			LastCloudCall:     r.State.LastCloudCall,
			PausedAt:          r.State.PausedAt,
			Metrics:           domain.Metrics(r.State.Metrics),
		},
		Stats: domain.SessionStats{
			Duration:            time.Duration(r.Stats.DurationMS) * time.Millisecond,
			Prompts:             r.Stats.Prompts,
			LocalInferences:     r.Stats.LocalInferences,
			CloudCalls:          r.Stats.CloudCalls,
			Errors:              r.Stats.Errors,
			RateLimited:         r.Stats.RateLimited,
			LocalRatio:          r.Stats.LocalRatio,
			EstimatedSavingsUSD: r.Stats.EstimatedSavingsUSD,
			EstimatedCloudUSD:   r.Stats.EstimatedCloudUSD,
		},
		Memory: make([]domain.MemoryEntry, 0, len(r.Memory)),
	}
	if r.State.Agent != nil {
		archive.State.Agent = &domain.AgentDescriptor{
			ID:           r.State.Agent.ID,
			Capabilities: append([]string(nil), r.State.Agent.Capabilities...),
			MemoryPolicy: r.State.Agent.MemoryPolicy,
		}
	}
	for _, entry := range r.Memory {
		archive.Memory = append(archive.Memory, domain.MemoryEntry{
			ID:        entry.ID,
			Timestamp: entry.Timestamp,
			SessionID: sessionID,
			Type:      entry.Type,
			Content:   entry.Content,
			Encrypted: entry.Encrypted,
			LocalOnly: entry.LocalOnly,
		})
	}

	return archive
}
