// Package config loads lockrt settings from ~/.lockrt/config.toml and
// LOCKRT_* environment variables, with a default for every key.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tomlrepo "github.com/bnema/lock-runtime/internal/adapters/repo/toml"
	"github.com/bnema/lock-runtime/internal/application"
	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "LOCKRT"
	ConfigFileName = "config.toml"
)

const (
	KeyStoreDir    = tomlrepo.StoreDirKey
	KeyArchivePath = "store.archive_path"

	KeyPairingSessionTTL  = "pairing.session_ttl"
	KeyPairingCallbackURL = "pairing.callback_base_url"
	KeyTransferTTL        = "pairing.transfer_ttl"
	KeyResumeBaseURL      = "pairing.resume_base_url"

	KeyPolicyMaxCloudCalls    = "policy.max_cloud_calls"
	KeyPolicyMinCloudInterval = "policy.min_cloud_interval"

	KeyCostCharsPerUnit   = "cost.chars_per_unit"
	KeyCostUSDPerUnit     = "cost.usd_per_unit"
	KeyCostAssumedUnits   = "cost.assumed_units_per_prompt"
	KeyCostResponseUnits  = "cost.response_units"
	KeyArchiveAttempts    = "archive.attempts"
	KeyArchiveBackoff     = "archive.backoff"
	KeyEventRetention     = "events.retention"
	KeySweeperInterval    = "sweeper.interval"
	KeySweeperMaxDuration = "sweeper.enforce_max_duration"

	KeySandboxMemoryMB  = "sandbox.memory_mb"
	KeySandboxStorageMB = "sandbox.storage_mb"
	KeySandboxTimeout   = "sandbox.timeout"
	KeySandboxEndpoints = "sandbox.trusted_endpoints"

	KeyHTTPListen       = "http.listen"
	KeyHTTPMaxBodyBytes = "http.max_body_bytes"
	KeyHTTPWSRate       = "http.ws_messages_per_second"
	KeyHTTPWSBurst      = "http.ws_burst"
	KeyHTTPShutdown     = "http.shutdown_timeout"
	KeyHTTPOrigins      = "http.allowed_origins"

	KeySealerEnabled  = "sealer.enabled"
	KeySecretsBackend = "secrets.backend"
	KeySecretsDir     = "secrets.dir"
)

const (
	DefaultHTTPListen      = "127.0.0.1:8787"
	DefaultWSRate          = 5.0
	DefaultWSBurst         = 10
	DefaultShutdownTimeout = 10 * time.Second
	DefaultEventRetention  = 10000
)

// Load builds the viper instance used by every component. An explicit
// path must exist; the default path is optional.
func Load(path string) (*viper.Viper, error) {
	cfg := viper.New()
	SetDefaults(cfg)

	cfg.SetEnvPrefix(EnvPrefix)
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		dir, err := tomlrepo.ResolveStoreDir(cfg)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, ConfigFileName)
	}

	cfg.SetConfigFile(path)
	cfg.SetConfigType("toml")
	if err := cfg.ReadInConfig(); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		var notFound viper.ConfigFileNotFoundError
		if !explicit && errors.As(err, &notFound) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return cfg, nil
}

func SetDefaults(cfg *viper.Viper) {
	costs := application.DefaultCostRates()
	sandbox := application.DefaultSandboxLimits()

	cfg.SetDefault(KeyArchivePath, "")

	cfg.SetDefault(KeyPairingSessionTTL, domain.DefaultSessionTTL)
	cfg.SetDefault(KeyPairingCallbackURL, "http://"+DefaultHTTPListen)
	cfg.SetDefault(KeyTransferTTL, domain.DefaultTransferTTL)
	cfg.SetDefault(KeyResumeBaseURL, "http://"+DefaultHTTPListen+"/resume")

	cfg.SetDefault(KeyPolicyMaxCloudCalls, application.DefaultMaxCloudCalls)
	cfg.SetDefault(KeyPolicyMinCloudInterval, application.DefaultMinCloudInterval)

	cfg.SetDefault(KeyCostCharsPerUnit, costs.CharsPerUnit)
	cfg.SetDefault(KeyCostUSDPerUnit, costs.USDPerUnit)
	cfg.SetDefault(KeyCostAssumedUnits, costs.AssumedUnitsPerPrompt)
	cfg.SetDefault(KeyCostResponseUnits, costs.ResponseUnits)

	cfg.SetDefault(KeyArchiveAttempts, application.DefaultArchiveAttempts)
	cfg.SetDefault(KeyArchiveBackoff, application.DefaultArchiveBackoff)
	cfg.SetDefault(KeyEventRetention, DefaultEventRetention)
	cfg.SetDefault(KeySweeperInterval, application.DefaultSweepInterval)
	cfg.SetDefault(KeySweeperMaxDuration, true)

	cfg.SetDefault(KeySandboxMemoryMB, sandbox.MemoryMB)
	cfg.SetDefault(KeySandboxStorageMB, sandbox.StorageMB)
	cfg.SetDefault(KeySandboxTimeout, sandbox.Timeout)
	cfg.SetDefault(KeySandboxEndpoints, sandbox.TrustedEndpoints)

	cfg.SetDefault(KeyHTTPListen, DefaultHTTPListen)
	cfg.SetDefault(KeyHTTPMaxBodyBytes, application.DefaultMaxAPIBodyBytes)
	cfg.SetDefault(KeyHTTPWSRate, DefaultWSRate)
	cfg.SetDefault(KeyHTTPWSBurst, DefaultWSBurst)
	cfg.SetDefault(KeyHTTPShutdown, DefaultShutdownTimeout)
	cfg.SetDefault(KeyHTTPOrigins, []string{"http://" + DefaultHTTPListen})

	cfg.SetDefault(KeySealerEnabled, true)
	cfg.SetDefault(KeySecretsBackend, "file")
	cfg.SetDefault(KeySecretsDir, "")
}

// Settings is the typed view of the loaded configuration.
type Settings struct {
	StoreDir    string
	ArchivePath string
	SecretsDir  string

	Pairing  application.PairingConfig
	Runtime  application.RuntimeConfig
	Policy   application.PolicyEngine
	Costs    application.CostRates
	Sandbox  application.SandboxLimits
	Sweeper  application.SweeperConfig
	Archive  ArchiveSettings
	HTTP     HTTPSettings
	Sealer   bool
	Backend  string
	Events   int
}

type ArchiveSettings struct {
	Attempts int
	Backoff  time.Duration
}

type HTTPSettings struct {
	Listen          string
	MaxBodyBytes    int64
	WSRate          float64
	WSBurst         int
	ShutdownTimeout time.Duration
	// AllowedOrigins lists browser origins accepted on websocket upgrades;
	// "*" accepts any.
	AllowedOrigins  []string
}

func Resolve(cfg *viper.Viper) (Settings, error) {
	storeDir, err := tomlrepo.ResolveStoreDir(cfg)
	if err != nil {
		return Settings{}, err
	}

	archivePath := strings.TrimSpace(cfg.GetString(KeyArchivePath))
	if archivePath == "" {
		archivePath = filepath.Join(storeDir, "archive.db")
	}
	secretsDir := strings.TrimSpace(cfg.GetString(KeySecretsDir))
	if secretsDir == "" {
		secretsDir = filepath.Join(storeDir, "secrets")
	}

	settings := Settings{
		StoreDir:    storeDir,
		ArchivePath: archivePath,
		SecretsDir:  secretsDir,
		Pairing: application.PairingConfig{
			SessionTTL:      cfg.GetDuration(KeyPairingSessionTTL),
			CallbackBaseURL: cfg.GetString(KeyPairingCallbackURL),
		},
		Runtime: application.RuntimeConfig{
			TransferTTL:     cfg.GetDuration(KeyTransferTTL),
			ResumeBaseURL:   cfg.GetString(KeyResumeBaseURL),
			MaxAPIBodyBytes: cfg.GetInt(KeyHTTPMaxBodyBytes),
		},
		Policy: application.PolicyEngine{
			MaxCloudCalls:    cfg.GetInt(KeyPolicyMaxCloudCalls),
			MinCloudInterval: cfg.GetDuration(KeyPolicyMinCloudInterval),
		},
		Costs: application.CostRates{
			CharsPerUnit:          cfg.GetInt(KeyCostCharsPerUnit),
			USDPerUnit:            cfg.GetFloat64(KeyCostUSDPerUnit),
			AssumedUnitsPerPrompt: cfg.GetInt64(KeyCostAssumedUnits),
			ResponseUnits:         cfg.GetInt64(KeyCostResponseUnits),
		},
		Sandbox: application.SandboxLimits{
			MemoryMB:         cfg.GetInt(KeySandboxMemoryMB),
			StorageMB:        cfg.GetInt(KeySandboxStorageMB),
			Timeout:          cfg.GetDuration(KeySandboxTimeout),
			TrustedEndpoints: cfg.GetStringSlice(KeySandboxEndpoints),
		},
		Sweeper: application.SweeperConfig{
			Interval:           cfg.GetDuration(KeySweeperInterval),
			EnforceMaxDuration: cfg.GetBool(KeySweeperMaxDuration),
		},
		Archive: ArchiveSettings{
			Attempts: cfg.GetInt(KeyArchiveAttempts),
			Backoff:  cfg.GetDuration(KeyArchiveBackoff),
		},
		HTTP: HTTPSettings{
			Listen:          cfg.GetString(KeyHTTPListen),
			MaxBodyBytes:    cfg.GetInt64(KeyHTTPMaxBodyBytes),
			WSRate:          cfg.GetFloat64(KeyHTTPWSRate),
			WSBurst:         cfg.GetInt(KeyHTTPWSBurst),
			ShutdownTimeout: cfg.GetDuration(KeyHTTPShutdown),
			AllowedOrigins:  cfg.GetStringSlice(KeyHTTPOrigins),
		},
		Sealer:  cfg.GetBool(KeySealerEnabled),
		Backend: cfg.GetString(KeySecretsBackend),
		Events:  cfg.GetInt(KeyEventRetention),
	}

	if settings.Policy.MinCloudInterval < 0 {
		return Settings{}, fmt.Errorf("%s must not be negative", KeyPolicyMinCloudInterval)
	}
	if settings.HTTP.WSRate <= 0 {
		return Settings{}, fmt.Errorf("%s must be positive", KeyHTTPWSRate)
	}

	return settings, nil
}
