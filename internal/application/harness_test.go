package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bnema/lock-runtime/internal/adapters/repo/memory"
	"github.com/bnema/lock-runtime/internal/domain"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(now time.Time) *manualClock {
	return &manualClock{now: now}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubEncoder struct{}

func (stubEncoder) Encode(payload domain.QRPayload) (string, error) {
	return "qr:" + string(payload.SessionID) + ":" + payload.TokenPrefix, nil
}

func (stubEncoder) Decode(encoded string) (domain.QRPayload, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 || parts[0] != "qr" {
		return domain.QRPayload{}, domain.ErrInvalidPayload
	}
	return domain.QRPayload{SessionID: domain.SessionID(parts[1]), TokenPrefix: parts[2]}, nil
}

type echoResponder struct{}

func (echoResponder) Reflect(_ context.Context, prompt string, _ domain.LockState) (string, error) {
	return "local: " + prompt, nil
}

type prefixSealer struct{}

func (prefixSealer) Seal(plaintext []byte) (string, error) {
	return "sealed:" + string(plaintext), nil
}

func (prefixSealer) Open(sealed string) ([]byte, error) {
	if !strings.HasPrefix(sealed, "sealed:") {
		return nil, errors.New("not sealed")
	}
	return []byte(strings.TrimPrefix(sealed, "sealed:")), nil
}

// flakyArchiveStore fails the first failures saves, then delegates.
type flakyArchiveStore struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	next     *memory.ArchiveStore
}

func (s *flakyArchiveStore) Save(ctx context.Context, archive domain.ArchivedSession) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return s.err
	}
	return s.next.Save(ctx, archive)
}

func (s *flakyArchiveStore) GetBySessionID(ctx context.Context, id domain.SessionID) (domain.ArchivedSession, error) {
	return s.next.GetBySessionID(ctx, id)
}

// failingDeletes makes the next n deletes fail with err.
type failingDeletes struct {
	mu  sync.Mutex
	n   int
	err error
}

func (f *failingDeletes) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		return nil
	}
	f.n--
	return f.err
}

type flakyLockStates struct {
	*memory.LockStateRepository
	failingDeletes
}

func (r *flakyLockStates) Delete(ctx context.Context, id domain.SessionID) error {
	if err := r.next(); err != nil {
		return err
	}
	return r.LockStateRepository.Delete(ctx, id)
}

type flakySessions struct {
	*memory.SessionRepository
	failingDeletes
}

func (r *flakySessions) Delete(ctx context.Context, id domain.SessionID) error {
	if err := r.next(); err != nil {
		return err
	}
	return r.SessionRepository.Delete(ctx, id)
}

type harness struct {
	clock   *manualClock
	stores  Stores
	pairing *PairingService
	runtime *RuntimeService
	sweeper *ExpirySweeper
}

func newHarness(t *testing.T, customize ...func(*Stores)) *harness {
	t.Helper()

	clock := newManualClock(testEpoch)
	stores := Stores{
		Sessions:  memory.NewSessionRepository(),
		Devices:   memory.NewDeviceRepository(),
		States:    memory.NewLockStateRepository(),
		Memory:    memory.NewMemoryLog(),
		Transfers: memory.NewTransferRepository(),
		Archives:  memory.NewArchiveStore(),
		Events:    memory.NewEventLog(0),
	}
	for _, fn := range customize {
		fn(&stores)
	}

	locks := NewSessionLocks()
	runtime := NewRuntimeService(RuntimeDeps{
		Stores:    stores,
		Policy:    DefaultPolicyEngine(),
		Cost:      NewCostAccountant(DefaultCostRates()),
		Sandbox:   NewSandboxConfigurator(DefaultSandboxLimits()),
		Responder: echoResponder{},
		Sealer:    prefixSealer{},
		Archiver:  NewSessionArchiver(stores.Archives, nil, DefaultArchiveAttempts, 0),
		Locks:     locks,
		Clock:     clock,
	}, RuntimeConfig{ResumeBaseURL: "https://lock.example/resume"})

	return &harness{
		clock:   clock,
		stores:  stores,
		pairing: NewPairingService(stores, stubEncoder{}, locks, clock, nil, PairingConfig{CallbackBaseURL: "https://lock.example"}),
		runtime: runtime,
		sweeper: NewExpirySweeper(runtime, SweeperConfig{EnforceMaxDuration: true}),
	}
}

func phone() domain.DeviceInfo {
	return domain.DeviceInfo{
		UserAgent:    "Mozilla/5.0 (iPhone; CPU iPhone OS 18_0 like Mac OS X)",
		Platform:     "ios",
		ScreenSize:   "390x844",
		Capabilities: []domain.Capability{domain.CapabilityBackgroundWorkers, domain.CapabilityStorage, domain.CapabilityNetwork},
	}
}

func laptop() domain.DeviceInfo {
	return domain.DeviceInfo{
		UserAgent:    "Mozilla/5.0 (X11; Linux x86_64)",
		Platform:     "linux",
		ScreenSize:   "2560x1440",
		Capabilities: []domain.Capability{domain.CapabilityGPU, domain.CapabilityAudio, domain.CapabilityNetwork},
	}
}

func (h *harness) create(t *testing.T, cmd CreateSessionCommand) CreatedSession {
	t.Helper()

	created, err := h.pairing.CreateSession(context.Background(), cmd)
	require.NoError(t, err)
	return created
}

func (h *harness) pair(t *testing.T, cmd CreateSessionCommand) (CreatedSession, PairingResult) {
	t.Helper()

	created := h.create(t, cmd)
	result, err := h.pairing.ValidatePairing(context.Background(), ValidatePairingCommand{
		SessionID: created.Session.ID,
		Device:    phone(),
		Token:     created.Token,
	})
	require.NoError(t, err)
	require.True(t, result.Valid, "pairing rejected: %s", result.Reason)
	return created, result
}

func (h *harness) send(t *testing.T, id domain.SessionID, msg domain.RuntimeMessage) domain.RuntimeResult {
	t.Helper()

	result, err := h.runtime.Handle(context.Background(), id, msg)
	require.NoError(t, err)
	return result
}

func prompt(text string) domain.RuntimeMessage {
	return domain.RuntimeMessage{Type: domain.MessagePrompt, Payload: domain.MessagePayload{Prompt: text}}
}

func boolPtr(v bool) *bool {
	return &v
}
