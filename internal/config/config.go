// Package config resolves the bird data root and loads config.toml, using
// spf13/viper layered over BurntSushi/toml the way cmd/bd/config.go loads
// beads' per-repo YAML: a fresh *viper.Viper pointed at one file, read
// leniently (a missing file just means "use defaults").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/teaguesterling/bird/internal/errs"
)

// StorageMode picks the dual-mode writer (spec.md §4.3 vs §4.4).
type StorageMode string

const (
	StorageParquet StorageMode = "parquet"
	StorageDuckDB  StorageMode = "duckdb"
)

// ParseStorageMode validates s against the two known modes.
func ParseStorageMode(s string) (StorageMode, error) {
	switch s {
	case "", "parquet":
		return StorageParquet, nil
	case "duckdb":
		return StorageDuckDB, nil
	default:
		return "", errs.Configf("storage_mode", fmt.Errorf("invalid storage mode %q: expected 'parquet' or 'duckdb'", s))
	}
}

// RemoteType is the peer transport kind (spec.md §6).
type RemoteType string

const (
	RemoteS3         RemoteType = "s3"
	RemoteMotherDuck RemoteType = "motherduck"
	RemotePostgres   RemoteType = "postgres"
	RemoteFile       RemoteType = "file"
)

// RemoteMode is a peer's access mode (spec.md §6).
type RemoteMode string

const (
	ModeReadWrite RemoteMode = "read_write"
	ModeReadOnly  RemoteMode = "read_only"
)

// Remote describes one attachable peer (spec.md §6 `remotes` list).
type Remote struct {
	Name               string     `toml:"name" mapstructure:"name"`
	Type               RemoteType `toml:"type" mapstructure:"type"`
	URI                string     `toml:"uri" mapstructure:"uri"`
	Mode               RemoteMode `toml:"mode" mapstructure:"mode"`
	CredentialProvider string     `toml:"credential_provider,omitempty" mapstructure:"credential_provider"`
	AutoAttach         bool       `toml:"auto_attach" mapstructure:"auto_attach"`
}

// SchemaName is the DuckDB schema this remote attaches as (spec.md §4.5).
func (r Remote) SchemaName() string { return "remote_" + r.Name }

// AttachSQL builds the ATTACH statement for this remote, grounded on
// original_source/bird/src/config.rs's RemoteConfig::attach_sql.
func (r Remote) AttachSQL() string {
	clause := ""
	if r.Type == RemotePostgres {
		clause += " (TYPE postgres"
		if r.Mode == ModeReadOnly {
			clause += ", READ_ONLY"
		}
		clause += ")"
	} else if r.Mode == ModeReadOnly {
		clause += " (READ_ONLY)"
	}
	return fmt.Sprintf("ATTACH '%s' AS %q%s", r.URI, r.SchemaName(), clause)
}

// Sync holds replication defaults (spec.md §6 `sync` block).
type Sync struct {
	DefaultRemote     string `toml:"default_remote,omitempty" mapstructure:"default_remote"`
	PushOnCompact     bool   `toml:"push_on_compact" mapstructure:"push_on_compact"`
	PushOnArchive     bool   `toml:"push_on_archive" mapstructure:"push_on_archive"`
	SyncInvocations   bool   `toml:"sync_invocations" mapstructure:"sync_invocations"`
	SyncOutputs       bool   `toml:"sync_outputs" mapstructure:"sync_outputs"`
	SyncEvents        bool   `toml:"sync_events" mapstructure:"sync_events"`
	SyncBlobs         bool   `toml:"sync_blobs" mapstructure:"sync_blobs"`
	BlobSyncMinBytes  int64  `toml:"blob_sync_min_bytes" mapstructure:"blob_sync_min_bytes"`
}

// Config is the fully-resolved bird configuration (spec.md §6).
type Config struct {
	BirdRoot        string      `toml:"bird_root,omitempty" mapstructure:"bird_root"`
	ClientID        string      `toml:"client_id" mapstructure:"client_id"`
	HotDays         uint32      `toml:"hot_days" mapstructure:"hot_days"`
	InlineThreshold int         `toml:"inline_threshold" mapstructure:"inline_threshold"`
	AutoExtract     bool        `toml:"auto_extract" mapstructure:"auto_extract"`
	StorageMode     StorageMode `toml:"storage_mode" mapstructure:"storage_mode"`
	Remotes         []Remote    `toml:"remotes,omitempty" mapstructure:"remotes"`
	Sync            Sync        `toml:"sync" mapstructure:"sync"`
}

const (
	defaultHotDays         = 14
	defaultInlineThreshold = 4096
)

// defaultClientID mirrors config.rs's default_client_id: "USER@HOSTNAME".
func defaultClientID() string {
	user := os.Getenv("USER")
	if user == "" {
		user = os.Getenv("USERNAME")
	}
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return user + "@" + host
}

// Default returns a Config with spec.md §6's documented defaults.
func Default() Config {
	return Config{
		ClientID:        defaultClientID(),
		HotDays:         defaultHotDays,
		InlineThreshold: defaultInlineThreshold,
		AutoExtract:     true,
		StorageMode:     StorageParquet,
		Sync: Sync{
			SyncInvocations: true,
			SyncOutputs:     true,
			SyncEvents:      true,
		},
	}
}

// ResolveRoot implements spec.md §6's root resolution order: explicit path →
// BIRD_ROOT env var → platform XDG data dir → $HOME/.local/share/bird.
func ResolveRoot(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv("BIRD_ROOT"); env != "" {
		return env, nil
	}
	if dir := xdgDataDir(); dir != "" {
		return filepath.Join(dir, "bird"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errs.IOf("$HOME", err)
	}
	return filepath.Join(home, ".local", "share", "bird"), nil
}

// xdgDataDir resolves the platform data directory. On Linux this is
// $XDG_DATA_HOME (or ~/.local/share); on macOS/Windows we fall back to the
// same ~/.local/share convention bird uses everywhere, since the upstream
// store (spec.md §6) defines its default in terms of that path regardless
// of OS, matching original_source/bird/src/config.rs's use of
// directories::ProjectDirs on non-Linux platforms collapsing to the same
// final segment.
func xdgDataDir() string {
	if runtime.GOOS == "linux" {
		if d := os.Getenv("XDG_DATA_HOME"); d != "" {
			return d
		}
	}
	return ""
}

// configFilePath is db/../config.toml relative to root (spec.md §6 layout:
// config.toml lives directly under root, not under db/).
func configFilePath(root string) string {
	return filepath.Join(root, "config.toml")
}

// Load reads config.toml from root, merging onto Default(). A missing file
// is not an error — it just means every field keeps its default value,
// mirroring viper's lenient ReadInConfig handling in cmd/bd/config.go.
func Load(root string) (Config, error) {
	cfg := Default()
	cfg.BirdRoot = root

	path := configFilePath(root)
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errs.Configf(path, err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errs.Configf(path, err)
	}
	cfg.BirdRoot = root
	return cfg, nil
}

// Save writes cfg to root's config.toml using BurntSushi/toml, which
// round-trips struct tags cleanly (viper's own writer normalizes keys in
// ways that would rewrite a hand-edited file unpredictably).
func Save(root string, cfg Config) error {
	path := configFilePath(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return errs.IOf(root, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return errs.IOf(path, err)
	}
	defer f.Close()
	enc := toml.NewEncoder(f)
	if err := enc.Encode(cfg); err != nil {
		return errs.Configf(path, err)
	}
	return nil
}

// --- Data directory layout (spec.md §6) ---

func (c Config) DBPath() string          { return filepath.Join(c.BirdRoot, "db", "bird.duckdb") }
func (c Config) DataDir() string         { return filepath.Join(c.BirdRoot, "db", "data") }
func (c Config) RecentDir() string       { return filepath.Join(c.DataDir(), "recent") }
func (c Config) ArchiveDir() string      { return filepath.Join(c.DataDir(), "archive") }
func (c Config) SQLDir() string          { return filepath.Join(c.BirdRoot, "db", "sql") }
func (c Config) ExtensionsDir() string   { return filepath.Join(c.BirdRoot, "db", "extensions") }
func (c Config) RecentBlobsDir() string  { return filepath.Join(c.RecentDir(), "blobs", "content") }
func (c Config) ArchiveBlobsDir() string { return filepath.Join(c.ArchiveDir(), "blobs", "content") }
func (c Config) FormatHintsPath() string { return filepath.Join(c.BirdRoot, "format-hints.toml") }
func (c Config) EventFormatsPath() string {
	return filepath.Join(c.BirdRoot, "event-formats.toml")
}

// TablePartitionDir returns the recent-data partition directory for table
// on date (YYYY-MM-DD).
func (c Config) TablePartitionDir(table, date string) string {
	return filepath.Join(c.RecentDir(), table, "date="+date)
}

// SeedDate is the fixed partition used for schema-only seed files (spec.md
// §4.3), chosen so it sorts before any real invocation date.
const SeedDate = "1970-01-01"

// GetRemote looks up a configured remote by name.
func (c Config) GetRemote(name string) (Remote, bool) {
	for _, r := range c.Remotes {
		if r.Name == name {
			return r, true
		}
	}
	return Remote{}, false
}

// IsInitialized reports whether root already has a bird store.
func IsInitialized(root string) bool {
	_, err := os.Stat(filepath.Join(root, "db"))
	return err == nil
}
