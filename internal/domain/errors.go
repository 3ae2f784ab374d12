package domain

import "errors"

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionExpired         = errors.New("session expired")
	ErrTokenMismatch          = errors.New("pairing token mismatch")
	ErrAlreadyPaired          = errors.New("session already paired")
	ErrUnknownMessageType     = errors.New("unknown message type")
	ErrRateLimited            = errors.New("cloud call rate limited")
	ErrCloudNotAllowed        = errors.New("cloud execution not allowed")
	ErrInsufficientCapability = errors.New("insufficient device capability")
	ErrDeviceNotFound         = errors.New("device not found")
	ErrTransferNotFound       = errors.New("transfer not found")
	ErrTransferExpired        = errors.New("transfer expired")
	ErrArchiveExists          = errors.New("session already archived")
	ErrArchiveNotFound        = errors.New("archive not found")
	ErrInvalidPayload         = errors.New("invalid message payload")
	ErrInvalidSession         = errors.New("invalid session")
)

// FailureReason is the user-facing code carried by structured pairing
// and runtime refusals.
type FailureReason string

const (
	ReasonSessionNotFound        FailureReason = "session_not_found"
	ReasonSessionExpired         FailureReason = "session_expired"
	ReasonTokenMismatch          FailureReason = "token_mismatch"
	ReasonAlreadyPaired          FailureReason = "already_paired"
	ReasonCloudNotAllowed        FailureReason = "cloud_not_allowed"
	ReasonRateLimited            FailureReason = "rate_limited"
	ReasonMaxCloudCalls          FailureReason = "max_cloud_calls"
	ReasonPreferLocal            FailureReason = "prefer_local"
	ReasonInvalidRequest         FailureReason = "invalid_request"
	ReasonInsufficientCapability FailureReason = "insufficient_capability"
)

// ReasonFor maps a sentinel error to its failure reason. Unknown errors
// map to the empty reason.
func ReasonFor(err error) FailureReason {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return ReasonSessionNotFound
	case errors.Is(err, ErrSessionExpired):
		return ReasonSessionExpired
	case errors.Is(err, ErrTokenMismatch):
		return ReasonTokenMismatch
	case errors.Is(err, ErrAlreadyPaired):
		return ReasonAlreadyPaired
	case errors.Is(err, ErrCloudNotAllowed):
		return ReasonCloudNotAllowed
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, ErrInsufficientCapability):
		return ReasonInsufficientCapability
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrInvalidSession):
		return ReasonInvalidRequest
	default:
		return ""
	}
}
