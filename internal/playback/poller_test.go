package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/spotify"
)

type staleRecorder struct {
	mu   sync.Mutex
	keys []string
}

func (s *staleRecorder) MarkStale(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
}

func accountsFor(keys ...string) []Account {
	out := make([]Account, 0, len(keys))
	for _, key := range keys {
		out = append(out, Account{RefreshKey: key, AccessToken: "tok-" + key})
	}
	return out
}

func sourceFrom(byToken map[string]func() (*spotify.Playback, error)) *fakeUpstream {
	up := newFakeUpstream()
	up.playback = func(token string) (*spotify.Playback, error) {
		if fn, ok := byToken[token]; ok {
			return fn()
		}
		return nil, nil
	}
	return up
}

func TestPollOnceLastEligibleWins(t *testing.T) {
	up := sourceFrom(map[string]func() (*spotify.Playback, error){
		"tok-k1": func() (*spotify.Playback, error) { return playing("Kitchen", "A", 0), nil },
		"tok-k2": func() (*spotify.Playback, error) { return playing("Office", "X", 0), nil },
		"tok-k3": func() (*spotify.Playback, error) { return playing("Living", "B", 0), nil },
	})
	poller := NewPoller(zap.NewNop(), up, &staleRecorder{}, []string{"Kitchen", "Living"}, time.Second)

	outcome := poller.PollOnce(context.Background(), accountsFor("k1", "k2", "k3"))
	if outcome.Kind != OutcomeSnapshot {
		t.Fatalf("expected snapshot, got %v", outcome.Kind)
	}
	if outcome.Snapshot.TrackID != "B" || outcome.Snapshot.AccountKey != "k3" {
		t.Fatalf("expected last eligible account to win, got %+v", outcome.Snapshot)
	}

	outcome = poller.PollOnce(context.Background(), accountsFor("k3", "k2", "k1"))
	if outcome.Snapshot.TrackID != "A" {
		t.Fatalf("expected order to decide, got %+v", outcome.Snapshot)
	}
}

func TestPollOnceNoEligibleSnapshot(t *testing.T) {
	up := sourceFrom(map[string]func() (*spotify.Playback, error){
		"tok-k1": func() (*spotify.Playback, error) { return playing("Office", "X", 0), nil },
		"tok-k2": func() (*spotify.Playback, error) { return nil, nil },
		"tok-k3": func() (*spotify.Playback, error) { return nil, errors.New("boom") },
	})
	poller := NewPoller(zap.NewNop(), up, &staleRecorder{}, []string{"Kitchen"}, time.Second)

	outcome := poller.PollOnce(context.Background(), accountsFor("k1", "k2", "k3"))
	if outcome.Kind != OutcomeNone || outcome.RateLimited {
		t.Fatalf("expected no snapshot, got %+v", outcome)
	}

	poller.SetRooms([]string{"Office"})
	outcome = poller.PollOnce(context.Background(), accountsFor("k1", "k2", "k3"))
	if outcome.Kind != OutcomeSnapshot || outcome.Snapshot.DeviceName != "Office" {
		t.Fatalf("expected office after room reload, got %+v", outcome)
	}
}

func TestPollOnceRateLimited(t *testing.T) {
	up := sourceFrom(map[string]func() (*spotify.Playback, error){
		"tok-k1": func() (*spotify.Playback, error) { return nil, &spotify.RateLimitError{RetryAfter: 4 * time.Second} },
		"tok-k2": func() (*spotify.Playback, error) { return nil, &spotify.RateLimitError{RetryAfter: 10 * time.Second} },
	})
	poller := NewPoller(zap.NewNop(), up, &staleRecorder{}, []string{"Kitchen"}, time.Second)

	outcome := poller.PollOnce(context.Background(), accountsFor("k1", "k2"))
	if outcome.Kind != OutcomeRateLimited || outcome.RetryAfter != 10*time.Second {
		t.Fatalf("expected rate limited for 10s, got %+v", outcome)
	}
}

func TestPollOnceSnapshotWinsOverRateLimit(t *testing.T) {
	up := sourceFrom(map[string]func() (*spotify.Playback, error){
		"tok-k1": func() (*spotify.Playback, error) { return playing("Kitchen", "A", 0), nil },
		"tok-k2": func() (*spotify.Playback, error) { return nil, &spotify.RateLimitError{RetryAfter: 3 * time.Second} },
	})
	poller := NewPoller(zap.NewNop(), up, &staleRecorder{}, []string{"Kitchen"}, time.Second)

	outcome := poller.PollOnce(context.Background(), accountsFor("k1", "k2"))
	if outcome.Kind != OutcomeSnapshot || !outcome.RateLimited || outcome.RetryAfter != 3*time.Second {
		t.Fatalf("expected snapshot carrying rate limit, got %+v", outcome)
	}
}

func TestPollOnceUnauthorizedMarksStale(t *testing.T) {
	up := sourceFrom(map[string]func() (*spotify.Playback, error){
		"tok-k1": func() (*spotify.Playback, error) { return nil, spotify.ErrUnauthorized },
		"tok-k2": func() (*spotify.Playback, error) { return nil, &spotify.TransientError{Status: 503} },
	})
	stale := &staleRecorder{}
	poller := NewPoller(zap.NewNop(), up, stale, []string{"Kitchen"}, time.Second)

	outcome := poller.PollOnce(context.Background(), accountsFor("k1", "k2"))
	if outcome.Kind != OutcomeNone {
		t.Fatalf("expected no snapshot, got %+v", outcome)
	}
	if len(stale.keys) != 1 || stale.keys[0] != "k1" {
		t.Fatalf("expected k1 marked stale, got %v", stale.keys)
	}
}

func TestPollOnceSkipsAccountsWithoutToken(t *testing.T) {
	up := sourceFrom(nil)
	poller := NewPoller(zap.NewNop(), up, &staleRecorder{}, []string{"Kitchen"}, time.Second)

	poller.PollOnce(context.Background(), []Account{{RefreshKey: "k1"}, {RefreshKey: "k2", AccessToken: "tok-k2"}})
	if n := up.pollCount(); n != 1 {
		t.Fatalf("expected one upstream call, got %d", n)
	}
}

func TestPollOnceAppliesPerCallTimeout(t *testing.T) {
	poller := NewPoller(zap.NewNop(), blockingSource{}, &staleRecorder{}, []string{"Kitchen"}, 20*time.Millisecond)

	done := make(chan Outcome, 1)
	go func() { done <- poller.PollOnce(context.Background(), accountsFor("k1")) }()

	select {
	case outcome := <-done:
		if outcome.Kind != OutcomeNone {
			t.Fatalf("expected none after timeout, got %+v", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("poll did not honour per-call timeout")
	}
}

type blockingSource struct{}

func (blockingSource) CurrentPlayback(ctx context.Context, _ string) (*spotify.Playback, error) {
	<-ctx.Done()
	return nil, &spotify.TransientError{Err: ctx.Err()}
}
