package toml

import "fmt"

const (
	currentSessionsSchemaVersion  = 1
	currentDevicesSchemaVersion   = 1
	currentRuntimeSchemaVersion   = 1
	currentTransfersSchemaVersion = 1
)

func checkVersion(kind string, version, current int) error {
	if version > current {
		return fmt.Errorf("unsupported %s schema version %d (current %d)", kind, version, current)
	}

	return nil
}

type sessionsFileSchema struct {
	Version  int             `toml:"version"`
	Sessions []sessionSchema `toml:"sessions"`
}

func (s *sessionsFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSessionsSchemaVersion
	}
}

func (s *sessionsFileSchema) validateVersion() error {
	return checkVersion("sessions", s.Version, currentSessionsSchemaVersion)
}

type sessionSchema struct {
	ID                string         `toml:"id"`
	CreatedAt         string         `toml:"created_at"`
	ExpiresAt         string         `toml:"expires_at"`
	TokenHash         string         `toml:"token_hash"`
	TokenPrefix       string         `toml:"token_prefix"`
	VaultID           string         `toml:"vault_id,omitempty"`
	AgentID           string         `toml:"agent_id,omitempty"`
	Mode              string         `toml:"mode"`
	Status            string         `toml:"status"`
	PairedAt          string         `toml:"paired_at,omitempty"`
	DeviceFingerprint string         `toml:"device_fingerprint,omitempty"`
	Metadata          metadataSchema `toml:"metadata"`
}

type metadataSchema struct {
	Purpose             string `toml:"purpose"`
	AllowCloud          bool   `toml:"allow_cloud"`
	RequireConfirmation *bool  `toml:"require_confirmation,omitempty"`
	MaxDuration         string `toml:"max_duration,omitempty"`
}

type devicesFileSchema struct {
	Version int            `toml:"version"`
	Devices []deviceSchema `toml:"devices"`
}

func (s *devicesFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentDevicesSchemaVersion
	}
}

func (s *devicesFileSchema) validateVersion() error {
	return checkVersion("devices", s.Version, currentDevicesSchemaVersion)
}

type deviceSchema struct {
	Fingerprint   string   `toml:"fingerprint"`
	VaultID       string   `toml:"vault_id,omitempty"`
	SessionID     string   `toml:"session_id"`
	LastSessionID string   `toml:"last_session_id,omitempty"`
	FirstPairedAt string   `toml:"first_paired_at"`
	LastSeenAt    string   `toml:"last_seen_at"`
	Trust         string   `toml:"trust"`
	PairCount     int      `toml:"pair_count"`
	Platform      string   `toml:"platform,omitempty"`
	Capabilities  []string `toml:"capabilities"`
}

// runtimeFileSchema holds the live state of paired sessions and their
// memory logs.
type runtimeFileSchema struct {
	Version int                 `toml:"version"`
	States  []lockStateSchema   `toml:"states"`
	Memory  []memoryEntrySchema `toml:"memory"`
}

func (s *runtimeFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentRuntimeSchemaVersion
	}
}

func (s *runtimeFileSchema) validateVersion() error {
	return checkVersion("runtime", s.Version, currentRuntimeSchemaVersion)
}

type lockStateSchema struct {
	SessionID         string        `toml:"session_id"`
	DeviceFingerprint string        `toml:"device_fingerprint"`
	Locked            bool          `toml:"locked"`
	AgentActive       bool          `toml:"agent_active"`
	StartedAt         string        `toml:"started_at"`
	LastActivity      string        `toml:"last_activity"`
	LastCloudCall     string        `toml:"last_cloud_call,omitempty"`
	PausedAt          string        `toml:"paused_at,omitempty"`
	Metrics           metricsSchema `toml:"metrics"`
	Agent             *agentSchema  `toml:"agent,omitempty"`
}

type metricsSchema struct {
	Prompts           int64   `toml:"prompts"`
	LocalInferences   int64   `toml:"local_inferences"`
	CloudCalls        int64   `toml:"cloud_calls"`
	Errors            int64   `toml:"errors"`
	RateLimited       int64   `toml:"rate_limited"`
	InputUnits        int64   `toml:"input_units"`
	BytesIn           int64   `toml:"bytes_in"`
	EstimatedCloudUSD float64 `toml:"estimated_cloud_usd"`
}

type agentSchema struct {
	ID           string   `toml:"id"`
	Capabilities []string `toml:"capabilities"`
	MemoryPolicy string   `toml:"memory_policy"`
}

type memoryEntrySchema struct {
	ID        string `toml:"id"`
	Timestamp string `toml:"timestamp"`
	SessionID string `toml:"session_id"`
	Type      string `toml:"type"`
	Content   string `toml:"content"`
	Encrypted bool   `toml:"encrypted"`
	LocalOnly bool   `toml:"local_only"`
}

type transfersFileSchema struct {
	Version   int              `toml:"version"`
	Transfers []transferSchema `toml:"transfers"`
}

func (s *transfersFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentTransfersSchemaVersion
	}
}

func (s *transfersFileSchema) validateVersion() error {
	return checkVersion("transfers", s.Version, currentTransfersSchemaVersion)
}

type transferSchema struct {
	TokenHash         string              `toml:"token_hash"`
	SessionID         string              `toml:"session_id"`
	DeviceFingerprint string              `toml:"device_fingerprint"`
	CreatedAt         string              `toml:"created_at"`
	ExpiresAt         string              `toml:"expires_at"`
	State             lockStateSchema     `toml:"state"`
	Memory            []memoryEntrySchema `toml:"memory"`
}
