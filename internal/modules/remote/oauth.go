package remote

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/spotify"
)

const (
	stateTTL        = 10 * time.Minute
	exchangeTimeout = 15 * time.Second
)

// login starts the authorization code flow with a fresh state nonce.
func (m *Module) login(w http.ResponseWriter, r *http.Request) {
	state := m.ids.NewID()
	now := m.clock.NowUnix()

	m.mu.Lock()
	for s, issued := range m.states {
		if now-issued > int64(stateTTL/time.Second) {
			delete(m.states, s)
		}
	}
	m.states[state] = now
	m.mu.Unlock()

	http.Redirect(w, r, m.auth.AuthURL(state), http.StatusFound)
}

// callback completes the flow and appends the new refresh credential.
func (m *Module) callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if !m.consumeState(query.Get("state")) {
		redirectError(w, r, "state_mismatch")
		return
	}
	if reason := query.Get("error"); reason != "" {
		m.log.Warn("authorization declined", zap.String("reason", reason))
		redirectError(w, r, reason)
		return
	}
	code := query.Get("code")
	if code == "" {
		redirectError(w, r, "missing_code")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()
	tok, err := m.auth.Exchange(ctx, code)
	if err != nil {
		m.log.Warn("authorization code exchange failed", zap.Error(err))
		redirectError(w, r, "exchange_failed")
		return
	}
	if tok.RefreshToken == "" {
		redirectError(w, r, "no_refresh_token")
		return
	}

	settings, err := m.store.Load()
	if err != nil {
		m.log.Warn("load settings", zap.Error(err))
		redirectError(w, r, "config_unavailable")
		return
	}
	for _, key := range settings.RefreshKeys {
		if key == tok.RefreshToken {
			http.Redirect(w, r, "/#", http.StatusFound)
			return
		}
	}
	settings.RefreshKeys = append(settings.RefreshKeys, tok.RefreshToken)
	if err := m.store.Save(settings); err != nil {
		m.log.Warn("save settings", zap.Error(err))
		redirectError(w, r, "config_not_saved")
		return
	}
	m.log.Info("account authorized", zap.String("account", spotify.MaskKey(tok.RefreshToken)))
	http.Redirect(w, r, "/#", http.StatusFound)
}

func (m *Module) consumeState(state string) bool {
	if state == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	issued, ok := m.states[state]
	if !ok {
		return false
	}
	delete(m.states, state)
	return m.clock.NowUnix()-issued <= int64(stateTTL/time.Second)
}

func redirectError(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, "/#"+url.Values{"error": {reason}}.Encode(), http.StatusFound)
}
