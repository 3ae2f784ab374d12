package domain

import "time"

type MessageType string

const (
	MessagePrompt      MessageType = "prompt"
	MessageMemoryWrite MessageType = "memory_write"
	MessageAPIRequest  MessageType = "api_request"
	MessagePause       MessageType = "pause"
	MessageResume      MessageType = "resume"
	MessageTransfer    MessageType = "transfer"
	MessageEnd         MessageType = "end"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessagePrompt, MessageMemoryWrite, MessageAPIRequest, MessagePause, MessageResume, MessageTransfer, MessageEnd:
		return true
	default:
		return false
	}
}

type APIRequest struct {
	Method string
	URL    string
	Body   string
}

// MessagePayload carries the fields of every message type; each handler
// reads only the ones it needs.
type MessagePayload struct {
	Prompt      string
	PreferLocal bool
	MemoryType  string
	Content     string
	Encrypt     bool
	LocalOnly   bool
	Request     *APIRequest
	Agent       *AgentDescriptor
}

type RuntimeMessage struct {
	Type    MessageType
	Payload MessagePayload
}

type Outcome string

const (
	OutcomeLocalReflection Outcome = "local_reflection"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeCloudAllowed    Outcome = "cloud_allowed"
	OutcomeMemoryStored    Outcome = "memory_stored"
	OutcomeAPIRefused      Outcome = "api_refused"
	OutcomeAPIApproved     Outcome = "api_approved"
	OutcomePaused          Outcome = "paused"
	OutcomeResumed         Outcome = "resumed"
	OutcomeTransferCreated Outcome = "transfer_created"
	OutcomeEnded           Outcome = "ended"
)

type TransferTicket struct {
	Token     string
	Fragment  string
	URL       string
	ExpiresAt time.Time
}

type RuntimeResult struct {
	Type                 MessageType
	Outcome              Outcome
	Response             string
	Reason               FailureReason
	Suggestion           string
	Estimate             *CostEstimate
	RequiresConfirmation bool
	RetryAfter           time.Duration
	MemoryID             string
	Transfer             *TransferTicket
	Summary              string
	Stats                *SessionStats
	State                LockState
}
