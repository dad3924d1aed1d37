// Package config reads and writes the connector's TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the connector configuration.
type Config struct {
	Provider    string `toml:"provider"` // "onedrive" or "googledrive"
	Tenant      string `toml:"tenant,omitempty"`
	ClientID    string `toml:"client_id"`
	BackendURL  string `toml:"backend_url"`
	RedirectURI string `toml:"redirect_uri"`
	Demo        bool   `toml:"demo"`

	Store      StoreConfig      `toml:"store"`
	Encryption EncryptionConfig `toml:"encryption"`
	Lock       LockConfig       `toml:"lock"`
	Graph      GraphConfig      `toml:"graph"`
	Sync       SyncConfig       `toml:"sync"`
}

// StoreConfig selects where the client state lives.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type  string `toml:"type"`            // "sqlite", "memory" or "dynamodb"
	Path  string `toml:"path,omitempty"`  // sqlite only
	Table string `toml:"table,omitempty"` // dynamodb only
}

// EncryptionConfig selects at-rest encryption of the client state.
type EncryptionConfig struct {
	Type         string `toml:"type"` // "none", "age" or "kms"
	IdentityPath string `toml:"identity_path,omitempty"`
	KMSKeyID     string `toml:"kms_key_id,omitempty"`
}

// LockConfig selects the lease lock guarding token refresh across processes.
type LockConfig struct {
	Type  string `toml:"type"` // "none", "memory" or "dynamodb"
	Table string `toml:"table,omitempty"`
}

// GraphConfig tunes the Microsoft Graph client.
type GraphConfig struct {
	BaseURL       string  `toml:"base_url,omitempty"`
	RatePerSecond float64 `toml:"rate_per_second"` // 0 disables pacing
	Burst         int     `toml:"burst"`
}

// SyncConfig tunes sync runs.
type SyncConfig struct {
	BatchCap    int    `toml:"batch_cap"` // 0 processes every eligible file
	Retries     uint64 `toml:"retries"`
	RetryBaseMS int    `toml:"retry_base_ms"`
	Sink        string `toml:"sink"` // "discard", "dir" or "s3"
	Dir         string `toml:"dir,omitempty"`
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
}

// Default returns the configuration used when no file exists. baseDir holds local data.
func Default(baseDir string) *Config {
	return &Config{
		Provider:    "onedrive",
		Tenant:      "common",
		BackendURL:  "http://localhost:8080",
		RedirectURI: "http://127.0.0.1:53682/callback",
		Store: StoreConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "state.db"),
		},
		Encryption: EncryptionConfig{
			Type:         "none",
			IdentityPath: filepath.Join(baseDir, "keys", "state.key"),
		},
		Lock:  LockConfig{Type: "none"},
		Graph: GraphConfig{RatePerSecond: 10, Burst: 5},
		Sync: SyncConfig{
			Retries:     3,
			RetryBaseMS: 500,
			Sink:        "dir",
			Dir:         filepath.Join(baseDir, "inbox"),
		},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(field, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q is not one of %s", field, v, strings.Join(allowed, ", ")))
	}

	oneOf("provider", c.Provider, "onedrive", "googledrive")
	oneOf("store.type", c.Store.Type, "sqlite", "memory", "dynamodb")
	oneOf("encryption.type", c.Encryption.Type, "none", "age", "kms")
	oneOf("lock.type", c.Lock.Type, "none", "memory", "dynamodb")
	oneOf("sync.sink", c.Sync.Sink, "discard", "dir", "s3")

	if !c.Demo {
		if c.ClientID == "" {
			errs = append(errs, errors.New("client_id is required"))
		}
		if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("backend_url: %q is not an absolute URL", c.BackendURL))
		}
		if u, err := url.Parse(c.RedirectURI); err != nil || u.Scheme != "http" || u.Port() == "" {
			errs = append(errs, fmt.Errorf("redirect_uri: %q must be a loopback http URL with a port", c.RedirectURI))
		}
	}
	if c.Store.Type == "sqlite" && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required for sqlite"))
	}
	if c.Store.Type == "dynamodb" && c.Store.Table == "" {
		errs = append(errs, errors.New("store.table is required for dynamodb"))
	}
	if c.Encryption.Type == "age" && c.Encryption.IdentityPath == "" {
		errs = append(errs, errors.New("encryption.identity_path is required for age"))
	}
	if c.Encryption.Type == "kms" && c.Encryption.KMSKeyID == "" {
		errs = append(errs, errors.New("encryption.kms_key_id is required for kms"))
	}
	if c.Lock.Type == "dynamodb" && c.Lock.Table == "" {
		errs = append(errs, errors.New("lock.table is required for dynamodb"))
	}
	if c.Graph.RatePerSecond < 0 {
		errs = append(errs, errors.New("graph.rate_per_second must not be negative"))
	}
	if c.Sync.BatchCap < 0 {
		errs = append(errs, errors.New("sync.batch_cap must not be negative"))
	}
	if c.Sync.Sink == "dir" && c.Sync.Dir == "" {
		errs = append(errs, errors.New("sync.dir is required for the dir sink"))
	}
	if c.Sync.Sink == "s3" && c.Sync.S3Bucket == "" {
		errs = append(errs, errors.New("sync.s3_bucket is required for the s3 sink"))
	}
	return errors.Join(errs...)
}

// setters maps the keys accepted by Set to their parsers.
var setters = map[string]func(c *Config, v string) error{
	"provider":                 func(c *Config, v string) error { c.Provider = v; return nil },
	"tenant":                   func(c *Config, v string) error { c.Tenant = v; return nil },
	"client_id":                func(c *Config, v string) error { c.ClientID = v; return nil },
	"backend_url":              func(c *Config, v string) error { c.BackendURL = v; return nil },
	"redirect_uri":             func(c *Config, v string) error { c.RedirectURI = v; return nil },
	"demo":                     func(c *Config, v string) error { return parseBool(v, &c.Demo) },
	"store.type":               func(c *Config, v string) error { c.Store.Type = v; return nil },
	"store.path":               func(c *Config, v string) error { c.Store.Path = v; return nil },
	"store.table":              func(c *Config, v string) error { c.Store.Table = v; return nil },
	"encryption.type":          func(c *Config, v string) error { c.Encryption.Type = v; return nil },
	"encryption.kms_key_id":    func(c *Config, v string) error { c.Encryption.KMSKeyID = v; return nil },
	"encryption.identity_path": func(c *Config, v string) error { c.Encryption.IdentityPath = v; return nil },
	"lock.type":                func(c *Config, v string) error { c.Lock.Type = v; return nil },
	"lock.table":               func(c *Config, v string) error { c.Lock.Table = v; return nil },
	"graph.rate_per_second":    func(c *Config, v string) error { return parseFloat(v, &c.Graph.RatePerSecond) },
	"sync.batch_cap":           func(c *Config, v string) error { return parseInt(v, &c.Sync.BatchCap) },
	"sync.retries": func(c *Config, v string) error {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return err
		}
		c.Sync.Retries = n
		return nil
	},
	"sync.sink":      func(c *Config, v string) error { c.Sync.Sink = v; return nil },
	"sync.dir":       func(c *Config, v string) error { c.Sync.Dir = v; return nil },
	"sync.s3_bucket": func(c *Config, v string) error { c.Sync.S3Bucket = v; return nil },
	"sync.s3_prefix": func(c *Config, v string) error { c.Sync.S3Prefix = v; return nil },
}

// Keys lists the keys accepted by Set.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns value to the dotted key ("sync.batch_cap").
func (c *Config) Set(key, value string) error {
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	if err := set(c, value); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseFloat(v string, dst *float64) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

// Read decodes a Config from r over the defaults for baseDir.
func Read(r io.Reader, baseDir string) (*Config, error) {
	cfg := Default(baseDir)
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// the default sqlite path only applies to the sqlite store
	if cfg.Store.Type != "sqlite" {
		cfg.Store.Path = ""
	}
	return cfg, nil
}

// Write encodes cfg to w.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Load reads the config file at path. A missing file yields the defaults.
func Load(path, baseDir string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(baseDir), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f, baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := Write(f, cfg); err != nil {
		f.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return f.Close()
}

// Paths returns the config file path and the data directory.
// GOPHSYNC_CONFIG overrides ~/.config/gophsync.toml; GOPHSYNC_HOME overrides
// ~/.local/share/gophsync.
func Paths() (configPath, baseDir string, err error) {
	configPath = os.Getenv("GOPHSYNC_CONFIG")
	baseDir = os.Getenv("GOPHSYNC_HOME")
	if configPath != "" && baseDir != "" {
		return configPath, baseDir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	if configPath == "" {
		configPath = filepath.Join(home, ".config", "gophsync.toml")
	}
	if baseDir == "" {
		baseDir = filepath.Join(home, ".local", "share", "gophsync")
	}
	return configPath, baseDir, nil
}
