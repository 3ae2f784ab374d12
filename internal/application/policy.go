package application

import (
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
)

const (
	DefaultMaxCloudCalls    = 10
	DefaultMinCloudInterval = 5 * time.Second
)

// PolicyEngine derives the execution policy of a session. Evaluate is a
// pure function of the session snapshot.
type PolicyEngine struct {
	MaxCloudCalls    int
	MinCloudInterval time.Duration
}

func DefaultPolicyEngine() PolicyEngine {
	return PolicyEngine{
		MaxCloudCalls:    DefaultMaxCloudCalls,
		MinCloudInterval: DefaultMinCloudInterval,
	}
}

func (e PolicyEngine) Evaluate(session domain.PairingSession) domain.ExecutionPolicy {
	maxCalls := e.MaxCloudCalls
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCloudCalls
	}
	interval := e.MinCloudInterval
	if interval <= 0 {
		interval = DefaultMinCloudInterval
	}

	requireConfirmation := true
	if session.Metadata.RequireConfirmation != nil {
		requireConfirmation = *session.Metadata.RequireConfirmation
	}

	privacy := domain.PrivacyBalanced
	if session.Mode.PrivacyOriented() {
		privacy = domain.PrivacyMaximum
	}

	return domain.ExecutionPolicy{
		CloudAllowed:        session.Metadata.AllowCloud,
		RequireConfirmation: requireConfirmation,
		MaxCloudCalls:       maxCalls,
		MinCloudInterval:    interval,
		Fallback:            domain.FallbackReflectLocally,
		Privacy:             privacy,
	}
}
