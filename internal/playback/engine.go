package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/spotify"
)

// ErrNoActiveAccount is returned by Control when nothing is playing in an
// allowed room.
var ErrNoActiveAccount = errors.New("no active account")

// Controller sends transport controls upstream.
type Controller interface {
	Control(ctx context.Context, accessToken string, action spotify.Action) error
}

// Upstream is the Spotify surface the engine needs.
type Upstream interface {
	PlaybackSource
	Refresher
	Controller
}

// Config configures an Engine.
type Config struct {
	RefreshKeys      []string
	Rooms            []string
	PollInterval     time.Duration
	ProgressInterval time.Duration
	RequestTimeout   time.Duration
}

// Engine drives the poll and progress timers.
type Engine struct {
	log      *zap.Logger
	cfg      Config
	upstream Upstream
	notify   Notifier
	clock    Clock

	tokens  *TokenManager
	poller  *Poller
	tracker *Tracker

	// serialises Tick and Reload
	mu sync.Mutex
}

// NewEngine wires the token manager, poller and tracker.
func NewEngine(log *zap.Logger, cfg Config, upstream Upstream, notify Notifier, clock Clock) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	if notify == nil {
		notify = NopNotifier{}
	}
	tokens := NewTokenManager(log.With(zap.String("component", "tokens")), upstream, clock, cfg.RefreshKeys)
	return &Engine{
		log:      log,
		cfg:      cfg,
		upstream: upstream,
		notify:   notify,
		clock:    clock,
		tokens:   tokens,
		poller:   NewPoller(log.With(zap.String("component", "poller")), upstream, tokens, cfg.Rooms, cfg.RequestTimeout),
		tracker:  NewTracker(log.With(zap.String("component", "tracker")), notify, clock),
	}
}

// Tokens exposes the account set.
func (e *Engine) Tokens() *TokenManager { return e.tokens }

// Tracker exposes the authoritative state.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// Rooms returns the room allow-list.
func (e *Engine) Rooms() []string { return e.poller.Rooms() }

// Run polls until ctx is cancelled. The progress timer runs in its own
// goroutine and only reads tracker state.
func (e *Engine) Run(ctx context.Context) error {
	e.notify.StatusChanged(statusOf(e.tracker.Snapshot().State))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runProgress(ctx)
	}()
	defer wg.Wait()

	e.Tick(ctx)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle: rate limit gate, token refresh, poll, apply.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tracker.Gated(e.clock.Now()) {
		e.log.Debug("rate limited, skipping poll")
		return
	}

	for _, err := range e.tokens.EnsureAll(ctx) {
		if key, ok := RevokedKey(err); ok {
			e.notify.AccountRevoked(key)
		}
	}

	outcome := e.poller.PollOnce(ctx, e.tokens.Active())
	e.log.Debug("poll complete", zap.Stringer("outcome", outcome.Kind))
	e.tracker.Apply(outcome)
}

// Reload applies a new account list and room allow-list.
func (e *Engine) Reload(keys []string, rooms []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tokens.SetAccounts(keys)
	e.poller.SetRooms(rooms)
	e.log.Info("configuration reloaded", zap.Int("accounts", len(keys)), zap.Int("rooms", len(rooms)))
}

// Control sends a transport control on behalf of the active account.
func (e *Engine) Control(ctx context.Context, action spotify.Action) error {
	key := e.tracker.Snapshot().ActiveAccount
	if key == "" {
		return ErrNoActiveAccount
	}
	if err := e.tokens.EnsureFresh(ctx, key); err != nil {
		return err
	}
	token, ok := e.tokens.Token(key)
	if !ok {
		return ErrNoActiveAccount
	}
	err := e.upstream.Control(ctx, token, action)
	if errors.Is(err, spotify.ErrUnauthorized) {
		e.tokens.MarkStale(key)
	}
	if err != nil {
		e.log.Warn("playback control failed", zap.String("action", string(action)), zap.Error(err))
	}
	return err
}

func (e *Engine) runProgress(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.publishProgress()
		}
	}
}

func (e *Engine) publishProgress() {
	percent, ok := EstimateProgress(e.tracker.Snapshot(), e.clock.Now().UnixMilli())
	if ok && percent >= 0 && percent < 100 {
		e.notify.ProgressUpdated(percent)
	}
}
