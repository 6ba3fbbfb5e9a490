package playback

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DriftThreshold is the largest start time jitter that is ignored.
	DriftThreshold = 200 * time.Millisecond
	// RateLimitMargin is added to every Retry-After.
	RateLimitMargin = 5 * time.Second
)

// Tracker owns the authoritative TrackState. Apply is called from the poll
// goroutine only; Snapshot may be called from anywhere.
type Tracker struct {
	log    *zap.Logger
	notify Notifier
	clock  Clock

	mu    sync.RWMutex
	state TrackState
}

// NewTracker creates a tracker in the Loading state.
func NewTracker(log *zap.Logger, notify Notifier, clock Clock) *Tracker {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Tracker{
		log:    log,
		notify: notify,
		clock:  clock,
		state:  TrackState{State: StateLoading},
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() TrackState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := t.state
	out.Artists = append([]string(nil), t.state.Artists...)
	return out
}

// Gated reports whether polling is suppressed by a rate limit at now.
func (t *Tracker) Gated(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return now.Unix() < t.state.RateLimitedUntil
}

// Apply advances the state machine with one tick's outcome. Notifications
// are delivered after the state lock is released.
func (t *Tracker) Apply(outcome Outcome) {
	now := t.clock.Now()
	var events []func()

	t.mu.Lock()
	prev := t.state.State

	switch outcome.Kind {
	case OutcomeRateLimited:
		t.state.State = StateRateLimited

	case OutcomeNone:
		if prev != StateLoading {
			t.clearLocked()
			t.state.State = StateStopped
		}

	case OutcomeSnapshot:
		events = t.applySnapshotLocked(outcome.Snapshot, prev, now)
	}

	if outcome.RateLimited {
		t.state.RateLimitedUntil = rateLimitDeadline(now, outcome.RetryAfter)
		t.log.Info("polling suspended",
			zap.Duration("retry_after", outcome.RetryAfter),
			zap.Int64("until", t.state.RateLimitedUntil),
		)
	}

	if next := t.state.State; next != prev {
		events = append(events, func() { t.notify.StatusChanged(statusOf(next)) })
	}
	t.mu.Unlock()

	for _, fire := range events {
		fire()
	}
}

// A song change is a new track id or a resume from a non-playing state. A
// rate limit pause does not count as non-playing.
func (t *Tracker) applySnapshotLocked(snap Snapshot, prev State, now time.Time) []func() {
	var events []func()

	if !snap.IsPlaying {
		if t.state.CurrentTrackID == "" {
			t.clearLocked()
			t.state.State = StateStopped
			return nil
		}
		if t.state.Playing && t.state.DurationMS > 0 {
			percent := float64(now.UnixMilli()-t.state.SongStartMS) / float64(t.state.DurationMS) * 100
			t.state.PausedProgress = clampPercent(percent)
		}
		t.state.Playing = false
		t.state.State = StatePaused
		if prev != StatePaused {
			events = append(events, t.notify.Paused)
		}
		return events
	}

	nowMS := now.UnixMilli()
	impliedStart := nowMS - snap.ProgressMS

	if snap.TrackID != t.state.CurrentTrackID || !t.state.Playing {
		t.state.CurrentTrackID = snap.TrackID
		t.state.Title = snap.Title
		t.state.Artists = append([]string(nil), snap.Artists...)
		t.state.CoverURL = snap.CoverURL
		t.state.SongStartMS = impliedStart
		change := SongChange{
			TrackID:    snap.TrackID,
			Title:      snap.Title,
			Artist:     JoinArtists(snap.Artists),
			Artists:    append([]string(nil), snap.Artists...),
			CoverURL:   snap.CoverURL,
			DurationMS: snap.DurationMS,
			DeviceName: snap.DeviceName,
		}
		events = append(events, func() { t.notify.SongChanged(change) })
	} else if drift := impliedStart - t.state.SongStartMS; drift > DriftThreshold.Milliseconds() || -drift > DriftThreshold.Milliseconds() {
		t.state.SongStartMS = impliedStart
	}

	t.state.DurationMS = snap.DurationMS
	t.state.DeviceName = snap.DeviceName
	t.state.ActiveAccount = snap.AccountKey
	t.state.PausedProgress = 0
	t.state.Playing = true
	t.state.State = StatePlaying
	return events
}

func (t *Tracker) clearLocked() {
	until := t.state.RateLimitedUntil
	t.state = TrackState{RateLimitedUntil: until}
}

func rateLimitDeadline(now time.Time, retry time.Duration) int64 {
	deadline := now.Add(retry + RateLimitMargin)
	secs := deadline.Unix()
	if deadline.After(time.Unix(secs, 0)) {
		secs++
	}
	return secs
}
