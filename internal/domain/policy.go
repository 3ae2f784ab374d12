package domain

import "time"

type FallbackBehavior string

const FallbackReflectLocally FallbackBehavior = "reflect_locally"

type PrivacyMode string

const (
	PrivacyMaximum  PrivacyMode = "maximum"
	PrivacyBalanced PrivacyMode = "balanced"
)

// ExecutionPolicy is derived from session metadata on every decision and
// never persisted.
type ExecutionPolicy struct {
	CloudAllowed        bool
	RequireConfirmation bool
	MaxCloudCalls       int
	MinCloudInterval    time.Duration
	Fallback            FallbackBehavior
	Privacy             PrivacyMode
}
