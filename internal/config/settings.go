package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// DisableCacheSetting bypasses the distributed cache when set to "true"
	// (case-insensitive).
	DisableCacheSetting = "DISABLE_REDIS"

	// CacheTimeoutSetting is the default expiry, in whole seconds, applied to
	// cache writes that do not supply their own.
	CacheTimeoutSetting = "REDIS_CACHE_TIMEOUT_SECONDS"
)

// Settings answers runtime questions that may change while the process is
// running. Nothing is memoized: every call consults the underlying lookup so
// a reloaded settings file takes effect on the next cache operation.
type Settings struct {
	lookup envconfig.Lookuper
}

// NewSettings creates Settings over the supplied lookup. A nil lookup reads
// the OS environment.
func NewSettings(lookup envconfig.Lookuper) *Settings {
	if lookup == nil {
		lookup = envconfig.OsLookuper()
	}
	return &Settings{lookup: lookup}
}

// CacheDisabled reports whether the distributed cache has been switched off.
func (s *Settings) CacheDisabled() bool {
	v, ok := s.lookup.Lookup(DisableCacheSetting)
	return ok && strings.EqualFold(v, "true")
}

// DefaultCacheTTL returns the configured default expiry. The second result
// is false when the setting is absent, is not a non-negative integer, or
// exceeds the range of time.Duration.
func (s *Settings) DefaultCacheTTL() (time.Duration, bool) {
	v, ok := s.lookup.Lookup(CacheTimeoutSetting)
	if !ok {
		return 0, false
	}

	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 || int64(secs) > maxTTLSeconds {
		return 0, false
	}

	return time.Duration(secs) * time.Second, true
}

// maxTTLSeconds is the largest expiry representable as a time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

// FileLookuper serves settings from a flat YAML document of key/value pairs.
// Reload re-reads the file; lookups in flight see either the old or the new
// values, never a mix.
type FileLookuper struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

var _ envconfig.Lookuper = (*FileLookuper)(nil)

// NewFileLookuper reads the settings file at path.
func NewFileLookuper(path string) (*FileLookuper, error) {
	f := &FileLookuper{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload replaces the current values with the file's contents. On failure
// the previous values are retained.
func (f *FileLookuper) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("reading settings file: %w", err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing settings file %s: %w", f.path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[k] = fmt.Sprint(v)
	}

	f.mu.Lock()
	f.values = values
	f.mu.Unlock()

	return nil
}

func (f *FileLookuper) Lookup(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	v, ok := f.values[key]
	return v, ok
}

// RuntimeLookuper layers the OS environment over an optional settings file.
// The file is consulted only for keys that are absent from the environment.
func RuntimeLookuper(file *FileLookuper) envconfig.Lookuper {
	if file == nil {
		return envconfig.OsLookuper()
	}
	return envconfig.MultiLookuper(envconfig.OsLookuper(), file)
}
