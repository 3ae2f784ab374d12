package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	StoreDirKey = "store.dir"

	storeFileMode   = 0o600
	storeDirMode    = 0o700
	storeConfigDir  = ".lockrt"
	tempFilePattern = ".lockrt-*.toml.tmp"

	sessionsFileName  = "sessions.toml"
	devicesFileName   = "devices.toml"
	runtimeFileName   = "runtime.toml"
	transfersFileName = "transfers.toml"
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

// document is implemented by the pointer of every top-level file schema.
type document[T any] interface {
	*T
	applyDefaults()
	validateVersion() error
}

// fileStore guards one toml file. Every instance pointing at the same
// path shares a lock, updates also hold a flock on a sibling lock file
// so other processes cannot interleave, and writes go through a temp
// file and a rename so a crash never leaves a half-written file behind.
type fileStore[T any, P document[T]] struct {
	path string
	name string
	mu   *sync.RWMutex
}

func newFileStore[T any, P document[T]](cfg *viper.Viper, fileName, name string) (*fileStore[T, P], error) {
	dir, err := ResolveStoreDir(cfg)
	if err != nil {
		return nil, err
	}

	path, err := normalizePath(filepath.Join(dir, fileName))
	if err != nil {
		return nil, err
	}

	return &fileStore[T, P]{path: path, name: name, mu: lockForPath(path)}, nil
}

// ResolveStoreDir returns the configured store directory, defaulting to
// ~/.lockrt.
func ResolveStoreDir(cfg *viper.Viper) (string, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	dir := cfg.GetString(StoreDirKey)
	if dir != "" {
		return dir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(homeDir, storeConfigDir), nil
}

func (s *fileStore[T, P]) view(ctx context.Context, fn func(*T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	file, _, err := s.readSchema()
	if err != nil {
		return err
	}

	return fn(&file)
}

func (s *fileStore[T, P]) update(ctx context.Context, fn func(*T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), storeDirMode); err != nil {
		return fmt.Errorf("create %s directory: %w", s.name, err)
	}
	unlock, err := acquireFileLock(ctx, s.path+lockFileSuffix)
	if err != nil {
		return fmt.Errorf("update %s file: %w", s.name, err)
	}
	defer unlock()

	file, corrupt, err := s.readSchema()
	if err != nil {
		return err
	}
	if corrupt {
		if err := s.quarantine(); err != nil {
			return err
		}
	}

	if err := fn(&file); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return s.writeSchema(file)
}

// readSchema loads the file. A missing file is empty; an undecodable one
// is reported as corrupt and also read as empty. A file written by a
// newer schema version is an error so it is never overwritten.
func (s *fileStore[T, P]) readSchema() (T, bool, error) {
	var file T

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			P(&file).applyDefaults()
			return file, false, nil
		}
		return file, false, fmt.Errorf("read %s file: %w", s.name, err)
	}

	if err := toml.Unmarshal(data, &file); err != nil {
		var empty T
		P(&empty).applyDefaults()
		return empty, true, nil
	}
	if err := P(&file).validateVersion(); err != nil {
		return file, false, err
	}
	P(&file).applyDefaults()

	return file, false, nil
}

func (s *fileStore[T, P]) quarantine() error {
	target := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixNano())
	if err := os.Rename(s.path, target); err != nil {
		return fmt.Errorf("move aside corrupt %s file: %w", s.name, err)
	}

	return nil
}

func (s *fileStore[T, P]) writeSchema(file T) error {
	P(&file).applyDefaults()

	if err := os.MkdirAll(filepath.Dir(s.path), storeDirMode); err != nil {
		return fmt.Errorf("create %s directory: %w", s.name, err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode %s file: %w", s.name, err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp %s file: %w", s.name, err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp %s file: %w", s.name, err)
	}

	if err := tempFile.Chmod(storeFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp %s file: %w", s.name, err)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("sync temp %s file: %w", s.name, err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp %s file: %w", s.name, err)
	}

	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("replace %s file: %w", s.name, err)
	}

	cleanup = false

	if err := os.Chmod(s.path, storeFileMode); err != nil {
		return fmt.Errorf("chmod %s file: %w", s.name, err)
	}

	return nil
}

func normalizePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve store path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}

func parseDuration(raw string) time.Duration {
	if raw == "" {
		return 0
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}

	return parsed
}

func formatDuration(value time.Duration) string {
	if value == 0 {
		return ""
	}

	return value.String()
}
