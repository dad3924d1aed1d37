// Package token manages the OAuth token lifecycle on the client: code exchange,
// proactive refresh and fail-closed invalidation.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jun/gophsync/internal/adapter"
	"github.com/jun/gophsync/internal/clock"
	"github.com/jun/gophsync/internal/kv"
	"github.com/jun/gophsync/internal/lock"
	"github.com/jun/gophsync/internal/model"
	"github.com/jun/gophsync/internal/state"
)

// RefreshWindow is how close to expiry a token is refreshed proactively.
const RefreshWindow = 5 * time.Minute

const (
	leaseBackoff  = 200 * time.Millisecond
	leaseAttempts = 6
)

// Exchanger performs code exchange and refresh against a party holding the client secret.
type Exchanger interface {
	Exchange(ctx context.Context, code, redirectURI string) (*model.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*model.TokenResponse, error)
}

// Manager owns the token slot of a state store. Exchange and refresh are its only
// writers; Invalidate and Disconnect its only clearers.
type Manager struct {
	state       *state.Store
	exchanger   Exchanger
	redirectURI string
	clock       clock.Clock
	logger      *slog.Logger

	group  singleflight.Group
	locker lock.Locker
	owner  string
}

var _ adapter.TokenSource = (*Manager)(nil)

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithLocker guards refreshes with a lease shared by every process using the same store.
func WithLocker(l lock.Locker) Option {
	return func(m *Manager) { m.locker = l }
}

// NewManager creates a Manager. redirectURI is sent along with every code exchange.
func NewManager(st *state.Store, ex Exchanger, redirectURI string, opts ...Option) *Manager {
	m := &Manager{
		state:       st,
		exchanger:   ex,
		redirectURI: redirectURI,
		clock:       clock.RealClock{},
		logger:      slog.Default(),
		owner:       uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ExchangeCode trades an authorization code for a token record and persists it.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*model.TokenRecord, error) {
	resp, err := m.exchanger.Exchange(ctx, code, m.redirectURI)
	if err != nil {
		return nil, err
	}
	if err := validate(resp); err != nil {
		return nil, err
	}

	rec := m.record(resp, nil)
	if err := m.state.SaveToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	m.logger.Info("connected", "provider", m.state.Provider(), "expires_at", rec.ExpiresAt)
	return &rec, nil
}

// Refresh obtains a new access token with the stored refresh token. Concurrent callers
// share one refresh. Any failure clears the stored token and returns an error matching
// adapter.ErrNotConnected.
func (m *Manager) Refresh(ctx context.Context) (*model.TokenRecord, error) {
	// shared by every waiter; one caller's cancellation must not fail the others
	return m.share(ctx, false)
}

// share runs one refresh for every concurrent caller. With onlyIfStale the stored
// token is re-read inside the flight and returned as is when it no longer needs a
// refresh, so callers that saw the token before an earlier flight finished do not
// start another one.
func (m *Manager) share(ctx context.Context, onlyIfStale bool) (*model.TokenRecord, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(shared, onlyIfStale)
	})
	if err != nil {
		return nil, err
	}
	rec := *v.(*model.TokenRecord)
	return &rec, nil
}

func (m *Manager) refresh(ctx context.Context, onlyIfStale bool) (*model.TokenRecord, error) {
	current, err := m.state.Token(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == "" {
		return nil, adapter.ErrNotConnected
	}
	if onlyIfStale && !m.needsRefresh(current) {
		m.logger.Debug("token already refreshed")
		return current, nil
	}

	if m.locker != nil {
		key := kv.Key(state.Namespace, m.state.Provider()+"_refresh")
		if _, err := lock.AcquireWait(ctx, m.locker, key, m.owner, leaseBackoff, leaseAttempts); err != nil {
			return nil, fmt.Errorf("refresh lease: %w", err)
		}
		defer func() {
			if err := m.locker.Release(ctx, key, m.owner); err != nil {
				m.logger.Warn("failed to release refresh lease", "error", err)
			}
		}()

		// another process may have refreshed while we waited for the lease
		current, err = m.state.Token(ctx)
		if err != nil {
			return nil, err
		}
		if current == nil || current.RefreshToken == "" {
			return nil, adapter.ErrNotConnected
		}
		if !m.needsRefresh(current) {
			m.logger.Debug("token refreshed by another process")
			return current, nil
		}
	}

	resp, err := m.exchanger.Refresh(ctx, current.RefreshToken)
	if err == nil {
		err = validate(resp)
	}
	if err != nil {
		return nil, m.failClosed(ctx, err)
	}

	rec := m.record(resp, current)
	if err := m.state.SaveToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save refreshed token: %w", err)
	}
	m.logger.Debug("token refreshed", "provider", m.state.Provider(), "expires_at", rec.ExpiresAt)
	return &rec, nil
}

func (m *Manager) failClosed(ctx context.Context, cause error) error {
	m.logger.Warn("token refresh failed, clearing session", "provider", m.state.Provider(), "error", cause)
	if err := m.state.ClearToken(ctx); err != nil {
		m.logger.Error("failed to clear token", "error", err)
	}
	return fmt.Errorf("%w: %w", adapter.ErrNotConnected, cause)
}

// ValidAccessToken returns the stored access token when it is at least RefreshWindow
// away from expiry, and otherwise the token of a fresh refresh.
func (m *Manager) ValidAccessToken(ctx context.Context) (string, error) {
	rec, err := m.state.Token(ctx)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", adapter.ErrNotConnected
	}
	if !m.needsRefresh(rec) {
		return rec.AccessToken, nil
	}

	fresh, err := m.share(ctx, true)
	if err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// IsConnected reports whether an unexpired token is stored.
func (m *Manager) IsConnected(ctx context.Context) bool {
	rec, err := m.state.Token(ctx)
	if err != nil || rec == nil {
		return false
	}
	return m.clock.Now().Before(rec.ExpiresAt)
}

// Invalidate clears the token and user profile after the provider rejected the token.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.logger.Info("session invalidated", "provider", m.state.Provider())
	return m.state.ClearToken(ctx)
}

// Disconnect clears the token, the user profile and the sync configuration.
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.state.Disconnect(ctx)
}

func (m *Manager) needsRefresh(rec *model.TokenRecord) bool {
	return rec.ExpiresAt.Sub(m.clock.Now()) < RefreshWindow
}

func (m *Manager) record(resp *model.TokenResponse, previous *model.TokenRecord) model.TokenRecord {
	rec := model.TokenRecord{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    m.clock.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		Scope:        resp.Scope,
	}
	if previous != nil {
		if rec.RefreshToken == "" {
			rec.RefreshToken = previous.RefreshToken
		}
		if rec.Scope == "" {
			rec.Scope = previous.Scope
		}
	}
	return rec
}

func validate(resp *model.TokenResponse) error {
	switch {
	case resp == nil:
		return &adapter.MalformedResponseError{What: "token response", Reason: "empty"}
	case resp.AccessToken == "":
		return &adapter.MalformedResponseError{What: "token response", Reason: "missing access_token"}
	case resp.ExpiresIn <= 0:
		return &adapter.MalformedResponseError{What: "token response", Reason: "missing expires_in"}
	}
	return nil
}
