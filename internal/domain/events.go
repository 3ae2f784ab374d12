package domain

import "time"

type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventSessionPaired    EventType = "session_paired"
	EventPairingFailed    EventType = "pairing_failed"
	EventSessionPaused    EventType = "session_paused"
	EventSessionResumed   EventType = "session_resumed"
	EventCloudApproved    EventType = "cloud_approved"
	EventCloudDeferred    EventType = "cloud_deferred"
	EventTransferCreated  EventType = "transfer_created"
	EventTransferRedeemed EventType = "transfer_redeemed"
	EventTransferExpired  EventType = "transfer_expired"
	EventSessionEnded     EventType = "session_ended"
	EventSessionExpired   EventType = "session_expired"
)

type Event struct {
	Timestamp time.Time
	Type      EventType
	SessionID SessionID
	Data      map[string]string
}
