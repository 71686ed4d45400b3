// Package config loads the store's configuration: backend choice,
// lifecycle thresholds, inline/compression settings, and sync defaults.
// config.toml under $STORE_ROOT is the on-disk source of truth; viper
// layers IRS_-prefixed environment variables over it, and Watch uses
// fsnotify directly to pick up edits made while the store is running
// (every setting except the backend choice, which keeps the value it
// had when Watch started).
//
// Adapted from the teacher's config package: it reads a directory-local
// YAML file directly for callers that need it ahead of (or bypassing)
// viper's singleton. We read config.toml the same direct way for the
// same reason (doctor, init) and layer viper on top for everything else.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Backend selects the row-storage backend a store was initialized with
// (§4.2's Choice policy). Recorded in config.toml (see Save) and
// overridable by IRS_BACKEND; it is not written to store_meta.
type Backend string

const (
	BackendMultiWriter  Backend = "multi-writer"  // C2 shard writer
	BackendSingleWriter Backend = "single-writer" // C3 embedded table writer
)

// Config is the full set of tunables the core consults.
type Config struct {
	Backend Backend `toml:"backend"`

	InlineThresholdBytes int64  `toml:"inline_threshold_bytes"`
	CompressionCodec     string `toml:"compression_codec"` // none|gzip|zstd
	CompressionMinBytes  int64  `toml:"compression_min_bytes"`

	CompactionShardThreshold int `toml:"compaction_shard_threshold"`

	HotDays        int `toml:"hot_days"`
	GracePeriodDays int `toml:"grace_period_days"`

	MaxAgeHours int `toml:"max_age_hours"`

	LockTimeout time.Duration `toml:"-"` // not persisted and not set by Load; sqliteconn reads IRS_LOCK_TIMEOUT itself
}

// Default returns the built-in defaults named throughout spec.md.
func Default() Config {
	return Config{
		Backend:                  BackendMultiWriter,
		InlineThresholdBytes:     4096,
		CompressionCodec:         "none",
		CompressionMinBytes:      256 * 1024,
		CompactionShardThreshold: 50,
		HotDays:                  14,
		GracePeriodDays:          7,
		MaxAgeHours:              24,
	}
}

// Load reads storeRoot/config.toml (if present), applies IRS_-prefixed
// environment overrides via viper, and returns the effective Config.
// A missing file is not an error: Default() is returned, exactly as the
// teacher's LoadLocalConfig returns an empty struct rather than failing.
func Load(storeRoot string) (Config, error) {
	cfg := Default()

	path := filepath.Join(storeRoot, "config.toml")
	if data, err := os.ReadFile(path); err == nil {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	v := viper.New()
	v.SetEnvPrefix("IRS")
	v.AutomaticEnv()
	applyEnvOverrides(v, &cfg)

	return cfg, nil
}

func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if v.IsSet("BACKEND") {
		cfg.Backend = Backend(v.GetString("BACKEND"))
	}
	if v.IsSet("INLINE_THRESHOLD_BYTES") {
		cfg.InlineThresholdBytes = v.GetInt64("INLINE_THRESHOLD_BYTES")
	}
	if v.IsSet("COMPRESSION_CODEC") {
		cfg.CompressionCodec = v.GetString("COMPRESSION_CODEC")
	}
	if v.IsSet("HOT_DAYS") {
		cfg.HotDays = v.GetInt("HOT_DAYS")
	}
	if v.IsSet("GRACE_PERIOD_DAYS") {
		cfg.GracePeriodDays = v.GetInt("GRACE_PERIOD_DAYS")
	}
	if v.IsSet("MAX_AGE_HOURS") {
		cfg.MaxAgeHours = v.GetInt("MAX_AGE_HOURS")
	}
}

// Watch reloads lifecycle thresholds from storeRoot/config.toml whenever
// the file changes, invoking onChange with the freshly loaded Config.
// The backend choice is never applied from a reload: it is fixed at
// store init and any change to it in a running process is ignored.
func Watch(storeRoot string, onChange func(Config)) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	path := filepath.Join(storeRoot, "config.toml")
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}

	pinned := Default().Backend
	if cur, err := Load(storeRoot); err == nil {
		pinned = cur.Backend
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if cfg, err := Load(storeRoot); err == nil {
					cfg.Backend = pinned
					onChange(cfg)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

// Save writes cfg to storeRoot/config.toml, used by `irs init`.
func Save(storeRoot string, cfg Config) error {
	path := filepath.Join(storeRoot, "config.toml")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
