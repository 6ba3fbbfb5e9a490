package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/mikey-austin/spotispy/internal/spotify"
)

// RefreshWindow is how long before expiry an access token is renewed.
const RefreshWindow = 60 * time.Second

const defaultTokenLifetime = time.Hour

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Refresher exchanges a refresh credential for an access token.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshKey string) (*oauth2.Token, error)
}

// Account is one monitored Spotify identity, keyed by its refresh credential.
type Account struct {
	RefreshKey  string
	AccessToken string
	ExpiresAt   time.Time
	stale       bool
}

// Stale reports whether the access token was rejected upstream.
func (a Account) Stale() bool {
	return a.stale
}

func (a Account) needsRefresh(now time.Time) bool {
	return a.stale || a.AccessToken == "" || a.ExpiresAt.Sub(now) < RefreshWindow
}

// TokenManager keeps access tokens for the active accounts fresh.
type TokenManager struct {
	log       *zap.Logger
	refresher Refresher
	clock     Clock

	mu       sync.Mutex
	accounts []*Account
	revoked  map[string]struct{}
}

// NewTokenManager creates a manager for keys in configured order.
func NewTokenManager(log *zap.Logger, refresher Refresher, clock Clock, keys []string) *TokenManager {
	m := &TokenManager{
		log:       log,
		refresher: refresher,
		clock:     clock,
		revoked:   map[string]struct{}{},
	}
	m.SetAccounts(keys)
	return m
}

// EnsureFresh refreshes the account's access token when it is within
// RefreshWindow of expiry, stale or missing. A revoked credential removes the
// account.
func (m *TokenManager) EnsureFresh(ctx context.Context, key string) error {
	m.mu.Lock()
	acct := m.findLocked(key)
	if acct == nil {
		m.mu.Unlock()
		return fmt.Errorf("unknown account %s", spotify.MaskKey(key))
	}
	needed := acct.needsRefresh(m.clock.Now())
	m.mu.Unlock()
	if !needed {
		return nil
	}

	tok, err := m.refresher.RefreshToken(ctx, key)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if spotify.IsRevoked(err) {
			m.removeLocked(key)
			m.revoked[key] = struct{}{}
			m.log.Error("refresh credential revoked, account removed",
				zap.String("account", spotify.MaskKey(key)), zap.Error(err))
		} else {
			m.log.Warn("token refresh failed", zap.String("account", spotify.MaskKey(key)), zap.Error(err))
		}
		return err
	}

	acct = m.findLocked(key)
	if acct == nil {
		return nil
	}
	now := m.clock.Now()
	acct.AccessToken = tok.AccessToken
	acct.ExpiresAt = expiryOf(tok, now)
	acct.stale = false
	m.log.Debug("token refreshed",
		zap.String("account", spotify.MaskKey(key)),
		zap.Duration("expires_in", acct.ExpiresAt.Sub(now)),
	)
	return nil
}

func expiryOf(tok *oauth2.Token, now time.Time) time.Time {
	if tok.ExpiresIn > 0 {
		return now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	return now.Add(defaultTokenLifetime)
}

// EnsureAll refreshes every active account concurrently and returns the
// per-account failures.
func (m *TokenManager) EnsureAll(ctx context.Context) []error {
	keys := m.Keys()
	errs := make([]error, len(keys))

	var g errgroup.Group
	for i, key := range keys {
		g.Go(func() error {
			errs[i] = m.EnsureFresh(ctx, key)
			return nil
		})
	}
	_ = g.Wait()

	out := errs[:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// Active returns a copy of the active accounts in configured order.
func (m *TokenManager) Active() []Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		out = append(out, *acct)
	}
	return out
}

// Keys returns the active refresh credentials in configured order.
func (m *TokenManager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.accounts))
	for _, acct := range m.accounts {
		out = append(out, acct.RefreshKey)
	}
	return out
}

// MarkStale schedules a refresh before the account is used again.
func (m *TokenManager) MarkStale(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acct := m.findLocked(key); acct != nil {
		acct.stale = true
	}
}

// Token returns the current access token for key.
func (m *TokenManager) Token(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct := m.findLocked(key)
	if acct == nil || acct.AccessToken == "" {
		return "", false
	}
	return acct.AccessToken, true
}

// Revoked lists credentials dropped after the auth service rejected them.
func (m *TokenManager) Revoked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.revoked))
	for key := range m.revoked {
		out = append(out, key)
	}
	return out
}

// SetAccounts reconciles the account set with a new configuration. Retained
// accounts keep their tokens. A revoked key stays out until it disappears
// from the configuration and is added again.
func (m *TokenManager) SetAccounts(keys []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listed := make(map[string]struct{}, len(keys))
	next := make([]*Account, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := listed[key]; dup {
			continue
		}
		listed[key] = struct{}{}
		if _, revoked := m.revoked[key]; revoked {
			continue
		}
		if acct := m.findLocked(key); acct != nil {
			next = append(next, acct)
			continue
		}
		next = append(next, &Account{RefreshKey: key})
	}
	for key := range m.revoked {
		if _, ok := listed[key]; !ok {
			delete(m.revoked, key)
		}
	}
	m.accounts = next
}

func (m *TokenManager) findLocked(key string) *Account {
	for _, acct := range m.accounts {
		if acct.RefreshKey == key {
			return acct
		}
	}
	return nil
}

func (m *TokenManager) removeLocked(key string) {
	for i, acct := range m.accounts {
		if acct.RefreshKey == key {
			m.accounts = append(m.accounts[:i], m.accounts[i+1:]...)
			return
		}
	}
}

// RevokedKey returns the credential named by a revoked refresh error.
func RevokedKey(err error) (string, bool) {
	var authErr *spotify.AuthRefreshError
	if errors.As(err, &authErr) && authErr.Revoked {
		return authErr.RefreshKey, true
	}
	return "", false
}
