// Package state keeps the connector's persisted client state: the token record,
// the user profile, the sync configuration and per-folder delta cursors.
// Every slot holds a JSON document under a namespaced key.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jun/gophsync/internal/kv"
	"github.com/jun/gophsync/internal/model"
)

// Namespace prefixes every slot key.
const Namespace = "gophsync"

const (
	MinSyncInterval     = 1
	MaxSyncInterval     = 60
	DefaultSyncInterval = 15
)

// DefaultExtensions is the file-extension allowlist used when none is configured.
var DefaultExtensions = []string{"pdf", "jpg", "jpeg", "png", "tiff", "tif"}

// ErrInvalidSyncConfig is returned by SaveSyncConfig for out-of-range values.
var ErrInvalidSyncConfig = errors.New("invalid sync configuration")

// Store reads and writes the slots of one provider ("onedrive", "googledrive").
type Store struct {
	kv       kv.Store
	provider string
	logger   *slog.Logger
}

// New creates a Store over the given slot store.
func New(store kv.Store, provider string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: store, provider: provider, logger: logger}
}

// Provider returns the provider name used in slot keys.
func (s *Store) Provider() string {
	return s.provider
}

func (s *Store) key(slot string, parts ...string) string {
	return kv.Key(Namespace, append([]string{s.provider + "_" + slot}, parts...)...)
}

// Token returns the stored token record, or nil if there is none.
// A slot that cannot be decoded is reported as absent.
func (s *Store) Token(ctx context.Context) (*model.TokenRecord, error) {
	var rec model.TokenRecord
	ok, err := s.load(ctx, s.key("token"), &rec)
	if err != nil || !ok {
		return nil, err
	}
	if rec.AccessToken == "" {
		s.logger.Warn("ignoring token record without access token", "provider", s.provider)
		return nil, nil
	}
	return &rec, nil
}

// SaveToken replaces the stored token record.
func (s *Store) SaveToken(ctx context.Context, rec model.TokenRecord) error {
	return s.save(ctx, s.key("token"), rec)
}

// ClearToken removes the token record and the user profile.
func (s *Store) ClearToken(ctx context.Context) error {
	return errors.Join(
		s.kv.Delete(ctx, s.key("token")),
		s.kv.Delete(ctx, s.key("user")),
	)
}

// User returns the stored profile, or nil.
func (s *Store) User(ctx context.Context) (*model.UserProfile, error) {
	var u model.UserProfile
	ok, err := s.load(ctx, s.key("user"), &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

func (s *Store) SaveUser(ctx context.Context, u model.UserProfile) error {
	return s.save(ctx, s.key("user"), u)
}

// SyncConfig returns the stored sync configuration, or nil.
func (s *Store) SyncConfig(ctx context.Context) (*model.SyncConfig, error) {
	var cfg model.SyncConfig
	ok, err := s.load(ctx, s.key("sync_config"), &cfg)
	if err != nil || !ok {
		return nil, err
	}
	return &cfg, nil
}

// SaveSyncConfig validates and stores cfg.
func (s *Store) SaveSyncConfig(ctx context.Context, cfg model.SyncConfig) error {
	if err := ValidateSyncConfig(cfg); err != nil {
		return err
	}
	return s.save(ctx, s.key("sync_config"), cfg)
}

// DefaultSyncConfig returns the configuration used when a folder is first chosen.
func DefaultSyncConfig() model.SyncConfig {
	return model.SyncConfig{
		AutoSync:            false,
		SyncIntervalMinutes: DefaultSyncInterval,
		FileExtensions:      append([]string(nil), DefaultExtensions...),
	}
}

// ValidateSyncConfig checks the interval range and the extension list.
func ValidateSyncConfig(cfg model.SyncConfig) error {
	if cfg.SyncIntervalMinutes < MinSyncInterval || cfg.SyncIntervalMinutes > MaxSyncInterval {
		return fmt.Errorf("%w: sync interval %d outside [%d, %d] minutes",
			ErrInvalidSyncConfig, cfg.SyncIntervalMinutes, MinSyncInterval, MaxSyncInterval)
	}
	for _, ext := range cfg.FileExtensions {
		if strings.TrimSpace(strings.TrimPrefix(ext, ".")) == "" {
			return fmt.Errorf("%w: empty file extension", ErrInvalidSyncConfig)
		}
	}
	return nil
}

type deltaCursor struct {
	Cursor string `json:"cursor"`
}

// DeltaCursor returns the saved continuation cursor for folderID, or "".
func (s *Store) DeltaCursor(ctx context.Context, folderID string) (string, error) {
	var c deltaCursor
	if _, err := s.load(ctx, s.key("delta", folderID), &c); err != nil {
		return "", err
	}
	return c.Cursor, nil
}

func (s *Store) SaveDeltaCursor(ctx context.Context, folderID, cursor string) error {
	return s.save(ctx, s.key("delta", folderID), deltaCursor{Cursor: cursor})
}

func (s *Store) ClearDeltaCursor(ctx context.Context, folderID string) error {
	return s.kv.Delete(ctx, s.key("delta", folderID))
}

// Disconnect clears the token, user and sync configuration slots.
func (s *Store) Disconnect(ctx context.Context) error {
	return errors.Join(
		s.kv.Delete(ctx, s.key("token")),
		s.kv.Delete(ctx, s.key("user")),
		s.kv.Delete(ctx, s.key("sync_config")),
	)
}

func (s *Store) load(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if errors.Is(err, kv.ErrCorrupt) {
		s.logger.Warn("ignoring unreadable slot", "key", key, "error", err)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		s.logger.Warn("ignoring unparseable slot", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
