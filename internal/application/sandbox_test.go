package application

import (
	"testing"

	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSandboxConfiguratorNeverExceedsDeviceCapabilities(t *testing.T) {
	t.Parallel()

	configurator := NewSandboxConfigurator(DefaultSandboxLimits())
	all := []domain.Capability{
		domain.CapabilityBackgroundWorkers,
		domain.CapabilityGPU,
		domain.CapabilityAudio,
		domain.CapabilityStorage,
		domain.CapabilityNetwork,
	}

	for mask := 0; mask < 1<<len(all); mask++ {
		var advertised []domain.Capability
		for i, capability := range all {
			if mask&(1<<i) != 0 {
				advertised = append(advertised, capability)
			}
		}
		device := domain.DevicePair{Capabilities: domain.ParseCapabilities(advertised)}

		for _, cloud := range []bool{false, true} {
			for _, privacy := range []domain.PrivacyMode{domain.PrivacyBalanced, domain.PrivacyMaximum} {
				policy := domain.ExecutionPolicy{CloudAllowed: cloud, Privacy: privacy}
				cfg := configurator.BuildConfig(domain.LockState{}, device, policy)

				for _, capability := range all {
					if cfg.Permissions.Allows(capability) {
						assert.Contains(t, advertised, capability, "mask=%05b cloud=%v privacy=%s", mask, cloud, privacy)
					}
				}
				if !cfg.Permissions.Network {
					assert.Empty(t, cfg.AllowedEndpoints)
				}
				assert.Equal(t, domain.IsolationStrict, cfg.Isolation)
			}
		}
	}
}

func TestSandboxConfiguratorPolicyIsSoftCeiling(t *testing.T) {
	t.Parallel()

	configurator := NewSandboxConfigurator(DefaultSandboxLimits())
	device := domain.DevicePair{Fingerprint: "dev_1", Capabilities: domain.DeviceCapabilities{AudioIO: true, Network: true}}

	balanced := configurator.BuildConfig(domain.LockState{SessionID: "s1"}, device, domain.ExecutionPolicy{CloudAllowed: true, Privacy: domain.PrivacyBalanced})
	assert.True(t, balanced.Permissions.AudioIO)
	assert.True(t, balanced.Permissions.Network)
	assert.Equal(t, DefaultTrustedEndpoints, balanced.AllowedEndpoints)
	assert.Contains(t, balanced.ContentSecurityPolicy, "connect-src 'self' https://api.anthropic.com https://api.openai.com")
	assert.Equal(t, 512, balanced.Resources.MemoryMB)
	assert.Equal(t, 100, balanced.Resources.StorageMB)
	assert.True(t, balanced.Resources.CPUThrottle)

	private := configurator.BuildConfig(domain.LockState{SessionID: "s1"}, device, domain.ExecutionPolicy{Privacy: domain.PrivacyMaximum})
	assert.False(t, private.Permissions.AudioIO)
	assert.False(t, private.Permissions.Network)
	assert.Equal(t, "default-src 'none'; script-src 'self'; worker-src 'self'; connect-src 'self'", private.ContentSecurityPolicy)
}

func TestSandboxConfiguratorRequire(t *testing.T) {
	t.Parallel()

	configurator := NewSandboxConfigurator(SandboxLimits{})
	cfg := domain.SandboxConfig{Permissions: domain.SandboxPermissions{GPU: true}}

	require.NoError(t, configurator.Require(cfg, domain.CapabilityGPU))
	err := configurator.Require(cfg, domain.CapabilityGPU, domain.CapabilityAudio, domain.CapabilityNetwork)
	require.ErrorIs(t, err, domain.ErrInsufficientCapability)
	assert.Contains(t, err.Error(), "audio, network")
}

func TestSandboxConfiguratorAllowsURL(t *testing.T) {
	t.Parallel()

	configurator := NewSandboxConfigurator(SandboxLimits{TrustedEndpoints: []string{"https://inference.example/"}})
	cfg := configurator.BuildConfig(domain.LockState{}, domain.DevicePair{Capabilities: domain.DeviceCapabilities{Network: true}}, domain.ExecutionPolicy{CloudAllowed: true})

	assert.True(t, configurator.AllowsURL(cfg, "https://inference.example/v1/run"))
	assert.True(t, configurator.AllowsURL(cfg, "https://INFERENCE.example/v1/run"))
	assert.False(t, configurator.AllowsURL(cfg, "http://inference.example/v1/run"))
	assert.False(t, configurator.AllowsURL(cfg, "https://inference.example.evil/v1"))
	assert.False(t, configurator.AllowsURL(cfg, "::not a url"))
}
