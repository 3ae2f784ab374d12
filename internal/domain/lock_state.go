package domain

import "time"

type Metrics struct {
	Prompts           int64
	LocalInferences   int64
	CloudCalls        int64
	Errors            int64
	RateLimited       int64
	InputUnits        int64
	BytesIn           int64
	EstimatedCloudUSD float64
}

type AgentDescriptor struct {
	ID           string
	Capabilities []string
	MemoryPolicy string
}

// LockState is the live runtime state of a paired session.
type LockState struct {
	SessionID         SessionID
	DeviceFingerprint DeviceFingerprint
	Locked            bool
	AgentActive       bool
	StartedAt         time.Time
	LastActivity      time.Time
	LastCloudCall     time.Time
	PausedAt          time.Time
	Metrics           Metrics
	Agent             *AgentDescriptor
}

func NewLockState(sessionID SessionID, fingerprint DeviceFingerprint, agent *AgentDescriptor, now time.Time) LockState {
	return LockState{
		SessionID:         sessionID,
		DeviceFingerprint: fingerprint,
		Locked:            true,
		AgentActive:       true,
		StartedAt:         now,
		LastActivity:      now,
		Agent:             agent,
	}
}

func (s LockState) Paused() bool {
	return s.Locked && !s.AgentActive
}

// Clone returns a copy that shares no mutable memory with s.
func (s LockState) Clone() LockState {
	clone := s
	if s.Agent != nil {
		agent := *s.Agent
		agent.Capabilities = append([]string(nil), s.Agent.Capabilities...)
		clone.Agent = &agent
	}

	return clone
}
