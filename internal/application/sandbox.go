package application

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/lock-runtime/internal/domain"
)

const (
	DefaultSandboxMemoryMB  = 512
	DefaultSandboxStorageMB = 100
	DefaultSandboxTimeout   = 30 * time.Second
)

var DefaultTrustedEndpoints = []string{
	"https://api.anthropic.com",
	"https://api.openai.com",
}

type SandboxLimits struct {
	MemoryMB         int
	StorageMB        int
	Timeout          time.Duration
	TrustedEndpoints []string
}

func DefaultSandboxLimits() SandboxLimits {
	return SandboxLimits{
		MemoryMB:         DefaultSandboxMemoryMB,
		StorageMB:        DefaultSandboxStorageMB,
		Timeout:          DefaultSandboxTimeout,
		TrustedEndpoints: append([]string(nil), DefaultTrustedEndpoints...),
	}
}

// SandboxConfigurator derives the envelope agent code runs in on a paired
// device. Device capability is the hard ceiling and the execution policy
// the soft one: a permission is granted only when both allow it.
type SandboxConfigurator struct {
	limits SandboxLimits
}

func NewSandboxConfigurator(limits SandboxLimits) SandboxConfigurator {
	defaults := DefaultSandboxLimits()
	if limits.MemoryMB <= 0 {
		limits.MemoryMB = defaults.MemoryMB
	}
	if limits.StorageMB <= 0 {
		limits.StorageMB = defaults.StorageMB
	}
	if limits.Timeout <= 0 {
		limits.Timeout = defaults.Timeout
	}
	if len(limits.TrustedEndpoints) == 0 {
		limits.TrustedEndpoints = defaults.TrustedEndpoints
	}

	endpoints := make([]string, 0, len(limits.TrustedEndpoints))
	for _, endpoint := range limits.TrustedEndpoints {
		trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
		if trimmed != "" {
			endpoints = append(endpoints, trimmed)
		}
	}
	limits.TrustedEndpoints = endpoints

	return SandboxConfigurator{limits: limits}
}

func (c SandboxConfigurator) BuildConfig(state domain.LockState, device domain.DevicePair, policy domain.ExecutionPolicy) domain.SandboxConfig {
	caps := device.Capabilities
	permissions := domain.SandboxPermissions{
		BackgroundWorkers: caps.BackgroundWorkers,
		GPU:               caps.GPU,
		AudioIO:           caps.AudioIO && policy.Privacy != domain.PrivacyMaximum,
		PersistentStorage: caps.PersistentStorage,
		Network:           caps.Network && policy.CloudAllowed,
	}

	var endpoints []string
	if permissions.Network {
		endpoints = append(endpoints, c.limits.TrustedEndpoints...)
	}

	return domain.SandboxConfig{
		SessionID:         state.SessionID,
		DeviceFingerprint: device.Fingerprint,
		Isolation:         domain.IsolationStrict,
		Permissions:       permissions,
		Resources: domain.ResourceLimits{
			MemoryMB:    c.limits.MemoryMB,
			StorageMB:   c.limits.StorageMB,
			CPUThrottle: true,
			Timeout:     c.limits.Timeout,
		},
		AllowedEndpoints:      endpoints,
		ContentSecurityPolicy: contentSecurityPolicy(endpoints),
	}
}

// Require fails when any requested permission was not granted.
func (c SandboxConfigurator) Require(cfg domain.SandboxConfig, requested ...domain.Capability) error {
	missing := make([]string, 0, len(requested))
	for _, capability := range requested {
		if !cfg.Permissions.Allows(capability) {
			missing = append(missing, string(capability))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInsufficientCapability, strings.Join(missing, ", "))
	}

	return nil
}

// AllowsURL reports whether rawURL targets one of the sandbox's allowed
// endpoints over https.
func (c SandboxConfigurator) AllowsURL(cfg domain.SandboxConfig, rawURL string) bool {
	target, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || target.Scheme != "https" || target.Host == "" {
		return false
	}

	for _, endpoint := range cfg.AllowedEndpoints {
		allowed, err := url.Parse(endpoint)
		if err != nil {
			continue
		}
		if strings.EqualFold(allowed.Host, target.Host) {
			return true
		}
	}

	return false
}

func contentSecurityPolicy(endpoints []string) string {
	connect := append([]string{"'self'"}, endpoints...)

	return strings.Join([]string{
		"default-src 'none'",
		"script-src 'self'",
		"worker-src 'self'",
		"connect-src " + strings.Join(connect, " "),
	}, "; ")
}
