package domain

import "time"

type EndReason string

const (
	EndReasonEnded       EndReason = "ended"
	EndReasonMaxDuration EndReason = "max_duration"
)

type SessionStats struct {
	Duration            time.Duration
	Prompts             int64
	LocalInferences     int64
	CloudCalls          int64
	Errors              int64
	RateLimited         int64
	LocalRatio          float64
	EstimatedSavingsUSD float64
	EstimatedCloudUSD   float64
}

// ArchivedSession is the terminal record of a session. It is written
// once and never mutated.
type ArchivedSession struct {
	SessionID SessionID
	VaultID   string
	AgentID   string
	Mode      Mode
	Purpose   string
	Reason    EndReason
	EndedAt   time.Time
	State     LockState
	Stats     SessionStats
	Memory    []MemoryEntry
}
