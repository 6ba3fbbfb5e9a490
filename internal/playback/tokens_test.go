package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mikey-austin/spotispy/internal/spotify"
)

func TestEnsureFreshRefreshWindow(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	up := newFakeUpstream()
	tokens := NewTokenManager(zap.NewNop(), up, clock, []string{"k1"})

	if err := tokens.EnsureFresh(context.Background(), "k1"); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if got, ok := tokens.Token("k1"); !ok || got != "tok-k1" {
		t.Fatalf("unexpected token %q %v", got, ok)
	}

	clock.Advance(3600*time.Second - 61*time.Second)
	if err := tokens.EnsureFresh(context.Background(), "k1"); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if n := up.refreshCount("k1"); n != 1 {
		t.Fatalf("expected no refresh outside window, got %d", n)
	}

	clock.Advance(2 * time.Second)
	if err := tokens.EnsureFresh(context.Background(), "k1"); err != nil {
		t.Fatalf("ensure fresh: %v", err)
	}
	if n := up.refreshCount("k1"); n != 2 {
		t.Fatalf("expected refresh inside window, got %d", n)
	}
}

func TestMarkStaleForcesRefresh(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	up := newFakeUpstream()
	tokens := NewTokenManager(zap.NewNop(), up, clock, []string{"k1"})

	_ = tokens.EnsureFresh(context.Background(), "k1")
	tokens.MarkStale("k1")
	if !tokens.Active()[0].Stale() {
		t.Fatalf("expected stale account")
	}
	_ = tokens.EnsureFresh(context.Background(), "k1")
	if n := up.refreshCount("k1"); n != 2 {
		t.Fatalf("expected stale refresh, got %d", n)
	}
	if tokens.Active()[0].Stale() {
		t.Fatalf("expected stale flag cleared")
	}
}

func TestRevokedCredentialRemovesAccount(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	up := newFakeUpstream()
	up.refresh = func(key string) (*oauth2.Token, error) {
		if key == "bad" {
			return nil, &spotify.AuthRefreshError{RefreshKey: key, Revoked: true, Err: errors.New("invalid_grant")}
		}
		return &oauth2.Token{AccessToken: "tok-" + key, ExpiresIn: 3600}, nil
	}
	tokens := NewTokenManager(zap.NewNop(), up, clock, []string{"good", "bad"})

	errs := tokens.EnsureAll(context.Background())
	if len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if key, ok := RevokedKey(errs[0]); !ok || key != "bad" {
		t.Fatalf("expected revoked bad key, got %q %v", key, ok)
	}
	keys := tokens.Keys()
	if len(keys) != 1 || keys[0] != "good" {
		t.Fatalf("unexpected active keys %v", keys)
	}
	if revoked := tokens.Revoked(); len(revoked) != 1 || revoked[0] != "bad" {
		t.Fatalf("unexpected revoked keys %v", revoked)
	}
}

func TestTransientRefreshFailureKeepsAccount(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	up := newFakeUpstream()
	up.refresh = func(key string) (*oauth2.Token, error) {
		return nil, &spotify.AuthRefreshError{RefreshKey: key, Err: errors.New("502")}
	}
	tokens := NewTokenManager(zap.NewNop(), up, clock, []string{"k1"})

	if err := tokens.EnsureFresh(context.Background(), "k1"); err == nil {
		t.Fatalf("expected error")
	}
	if keys := tokens.Keys(); len(keys) != 1 {
		t.Fatalf("account should survive transient failure: %v", keys)
	}
	if _, ok := tokens.Token("k1"); ok {
		t.Fatalf("expected no token yet")
	}
	if err := tokens.EnsureFresh(context.Background(), "k1"); err == nil {
		t.Fatalf("expected retry on next call")
	}
	if n := up.refreshCount("k1"); n != 2 {
		t.Fatalf("expected two attempts, got %d", n)
	}
}

func TestSetAccountsReconciles(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	up := newFakeUpstream()
	up.refresh = func(key string) (*oauth2.Token, error) {
		if key == "bad" {
			return nil, &spotify.AuthRefreshError{RefreshKey: key, Revoked: true, Err: errors.New("invalid_grant")}
		}
		return &oauth2.Token{AccessToken: "tok-" + key, ExpiresIn: 3600}, nil
	}
	tokens := NewTokenManager(zap.NewNop(), up, clock, []string{"a", "b", "bad"})
	_ = tokens.EnsureAll(context.Background())

	tokens.SetAccounts([]string{"c", "b", "bad", "b"})
	keys := tokens.Keys()
	if len(keys) != 2 || keys[0] != "c" || keys[1] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if tok, ok := tokens.Token("b"); !ok || tok != "tok-b" {
		t.Fatalf("retained account lost its token")
	}
	if _, ok := tokens.Token("c"); ok {
		t.Fatalf("new account should start without token")
	}

	tokens.SetAccounts([]string{"c", "b"})
	tokens.SetAccounts([]string{"c", "b", "bad"})
	keys = tokens.Keys()
	if len(keys) != 3 || keys[2] != "bad" {
		t.Fatalf("re-added key should be admitted again: %v", keys)
	}
}

func TestEnsureFreshUnknownAccount(t *testing.T) {
	tokens := NewTokenManager(zap.NewNop(), newFakeUpstream(), newFakeClock(time.Now()), nil)
	if err := tokens.EnsureFresh(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown account")
	}
}
