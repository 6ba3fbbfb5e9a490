package playback

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey-austin/spotispy/internal/spotify"
)

// PlaybackSource fetches one account's current playback. A nil playback
// without error means the account is idle.
type PlaybackSource interface {
	CurrentPlayback(ctx context.Context, accessToken string) (*spotify.Playback, error)
}

type staleMarker interface {
	MarkStale(key string)
}

// OutcomeKind classifies a poll tick.
type OutcomeKind int

const (
	// OutcomeNone means no account reported playback in an allowed room.
	OutcomeNone OutcomeKind = iota
	OutcomeSnapshot
	OutcomeRateLimited
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSnapshot:
		return "snapshot"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "none"
	}
}

// Outcome is the reconciled result of one poll tick. RateLimited and
// RetryAfter are also set on a snapshot outcome when another account was
// throttled in the same tick.
type Outcome struct {
	Kind        OutcomeKind
	Snapshot    Snapshot
	RateLimited bool
	RetryAfter  time.Duration
}

type pollResult struct {
	playback *spotify.Playback
	err      error
}

// Poller queries every active account and picks the authoritative snapshot.
type Poller struct {
	log     *zap.Logger
	source  PlaybackSource
	tokens  staleMarker
	timeout time.Duration

	mu    sync.RWMutex
	rooms []string
}

// NewPoller creates a poller limited to devices named in rooms.
func NewPoller(log *zap.Logger, source PlaybackSource, tokens staleMarker, rooms []string, timeout time.Duration) *Poller {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	p := &Poller{
		log:     log,
		source:  source,
		tokens:  tokens,
		timeout: timeout,
	}
	p.SetRooms(rooms)
	return p
}

// SetRooms replaces the room allow-list.
func (p *Poller) SetRooms(rooms []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rooms = append([]string(nil), rooms...)
}

// Rooms returns the room allow-list.
func (p *Poller) Rooms() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.rooms...)
}

func (p *Poller) allowed(device string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, room := range p.rooms {
		if room == device {
			return true
		}
	}
	return false
}

// PollOnce fetches playback for all accounts concurrently, waits for every
// call to settle and reconciles in account order. The last eligible snapshot
// wins.
func (p *Poller) PollOnce(ctx context.Context, accounts []Account) Outcome {
	results := make([]pollResult, len(accounts))

	var g errgroup.Group
	for i, acct := range accounts {
		if acct.AccessToken == "" {
			p.log.Debug("skipping account without token", zap.String("account", spotify.MaskKey(acct.RefreshKey)))
			continue
		}
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			pb, err := p.source.CurrentPlayback(callCtx, acct.AccessToken)
			results[i] = pollResult{playback: pb, err: err}
			return nil
		})
	}
	_ = g.Wait()

	outcome := Outcome{Kind: OutcomeNone}
	for i, res := range results {
		key := accounts[i].RefreshKey
		if res.err != nil {
			if retry, limited := p.handleError(key, res.err); limited {
				outcome.RateLimited = true
				if retry > outcome.RetryAfter {
					outcome.RetryAfter = retry
				}
			}
			continue
		}
		if res.playback == nil || !p.allowed(res.playback.DeviceName) {
			continue
		}
		outcome.Kind = OutcomeSnapshot
		outcome.Snapshot = snapshotFrom(key, res.playback)
	}
	if outcome.Kind == OutcomeNone && outcome.RateLimited {
		outcome.Kind = OutcomeRateLimited
	}
	return outcome
}

func (p *Poller) handleError(key string, err error) (time.Duration, bool) {
	account := zap.String("account", spotify.MaskKey(key))
	if errors.Is(err, spotify.ErrUnauthorized) {
		p.log.Debug("access token rejected, refreshing before next tick", account)
		p.tokens.MarkStale(key)
		return 0, false
	}
	if retry, ok := spotify.RetryAfter(err); ok {
		p.log.Warn("rate limited", account, zap.Duration("retry_after", retry))
		return retry, true
	}
	var transient *spotify.TransientError
	if errors.As(err, &transient) && (transient.Status == http.StatusBadGateway || transient.Status == http.StatusServiceUnavailable) {
		p.log.Debug("upstream unavailable", account, zap.Error(err))
		return 0, false
	}
	p.log.Warn("playback poll failed", account, zap.Error(err))
	return 0, false
}
