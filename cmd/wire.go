package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/bnema/lock-runtime/internal/adapters/archive/sqlite"
	"github.com/bnema/lock-runtime/internal/adapters/qrpayload"
	statusadapter "github.com/bnema/lock-runtime/internal/adapters/render/status"
	tomlrepo "github.com/bnema/lock-runtime/internal/adapters/repo/toml"
	"github.com/bnema/lock-runtime/internal/adapters/responder"
	sealeradapter "github.com/bnema/lock-runtime/internal/adapters/sealer"
	chainstore "github.com/bnema/lock-runtime/internal/adapters/secrets/chain"
	"github.com/bnema/lock-runtime/internal/adapters/transport/httpapi"
	"github.com/bnema/lock-runtime/internal/application"
	"github.com/bnema/lock-runtime/internal/config"
	"github.com/bnema/lock-runtime/internal/ports"
	"go.uber.org/zap"
)

type app struct {
	settings       config.Settings
	pairing        *application.PairingService
	runtime        *application.RuntimeService
	sweeper        *application.ExpirySweeper
	server         *httpapi.Server
	archive        *sqlite.Store
	statusRenderer func([]application.SessionView, statusadapter.RenderOptions) (string, error)
	now            func() time.Time
}

func wireApp(ctx context.Context, configPath string, logger *zap.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}

	sessions, err := tomlrepo.NewSessionRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire session repository: %w", err)
	}
	devices, err := tomlrepo.NewDeviceRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire device repository: %w", err)
	}
	states, err := tomlrepo.NewLockStateRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire lock state repository: %w", err)
	}
	memoryLog, err := tomlrepo.NewMemoryLog(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire memory log: %w", err)
	}
	transfers, err := tomlrepo.NewTransferRepository(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire transfer repository: %w", err)
	}
	guard, err := tomlrepo.NewSessionGuard(cfg)
	if err != nil {
		return nil, fmt.Errorf("wire session guard: %w", err)
	}

	archive, err := sqlite.Open(ctx, settings.ArchivePath, sqlite.Options{EventRetention: settings.Events})
	if err != nil {
		return nil, fmt.Errorf("wire archive store: %w", err)
	}

	var sealer ports.Sealer
	if settings.Sealer {
		secretStore, err := chainstore.ForBackend(settings.Backend, settings.SecretsDir)
		if err != nil {
			_ = archive.Close()
			return nil, fmt.Errorf("wire secret store: %w", err)
		}
		s, err := sealeradapter.LoadOrCreate(ctx, secretStore)
		if err != nil {
			_ = archive.Close()
			return nil, fmt.Errorf("wire sealer: %w", err)
		}
		sealer = s
	}

	stores := application.Stores{
		Sessions:  sessions,
		Devices:   devices,
		States:    states,
		Memory:    memoryLog,
		Transfers: transfers,
		Archives:  archive,
		Events:    archive,
	}
	locks := application.NewGuardedSessionLocks(guard)
	clock := ports.SystemClock{}

	pairing := application.NewPairingService(stores, qrpayload.Codec{}, locks, clock, logger, settings.Pairing)
	runtime := application.NewRuntimeService(application.RuntimeDeps{
		Stores:    stores,
		Policy:    settings.Policy,
		Cost:      application.NewCostAccountant(settings.Costs),
		Sandbox:   application.NewSandboxConfigurator(settings.Sandbox),
		Responder: responder.Pattern{},
		Sealer:    sealer,
		Archiver:  application.NewSessionArchiver(archive, logger, settings.Archive.Attempts, settings.Archive.Backoff),
		Locks:     locks,
		Clock:     clock,
		Logger:    logger,
	}, settings.Runtime)

	return &app{
		settings: settings,
		pairing:  pairing,
		runtime:  runtime,
		sweeper:  application.NewExpirySweeper(runtime, settings.Sweeper),
		server: httpapi.NewServer(pairing, runtime, logger, httpapi.Options{
			MaxBodyBytes:    settings.HTTP.MaxBodyBytes,
			WSRate:          settings.HTTP.WSRate,
			WSBurst:         settings.HTTP.WSBurst,
			AllowedOrigins:  settings.HTTP.AllowedOrigins,
			ShutdownTimeout: settings.HTTP.ShutdownTimeout,
		}),
		archive:        archive,
		statusRenderer: statusadapter.Render,
		now:            clock.Now,
	}, nil
}

func (a *app) Close() error {
	return a.archive.Close()
}
