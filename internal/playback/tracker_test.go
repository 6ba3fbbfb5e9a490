package playback

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func snapshotOutcome(track string, isPlaying bool, progressMS int64) Outcome {
	return Outcome{Kind: OutcomeSnapshot, Snapshot: Snapshot{
		AccountKey: "k1",
		DeviceName: "Kitchen",
		TrackID:    track,
		Title:      "Title " + track,
		Artists:    []string{"A", "B", "C"},
		CoverURL:   "http://img/" + track,
		ProgressMS: progressMS,
		DurationMS: 200000,
		IsPlaying:  isPlaying,
	}}
}

func TestSongChangeFiresOncePerTrack(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	rec := &recorder{}
	tracker := NewTracker(zap.NewNop(), rec, clock)

	sequence := []Outcome{
		{Kind: OutcomeNone},
		snapshotOutcome("A", true, 1000),
		snapshotOutcome("A", true, 1000),
		snapshotOutcome("A", true, 3000),
		snapshotOutcome("B", true, 0),
	}
	for _, outcome := range sequence {
		tracker.Apply(outcome)
		clock.Advance(2 * time.Second)
	}

	if len(rec.songs) != 2 {
		t.Fatalf("expected two song changes, got %d", len(rec.songs))
	}
	if rec.songs[0].TrackID != "A" || rec.songs[1].TrackID != "B" {
		t.Fatalf("unexpected song changes: %+v", rec.songs)
	}
	if rec.songs[0].Artist != "A & B & C" || rec.songs[0].CoverURL != "http://img/A" {
		t.Fatalf("unexpected song payload: %+v", rec.songs[0])
	}
}

func TestDriftClamp(t *testing.T) {
	clock := newFakeClock(time.UnixMilli(1_000_000))
	tracker := NewTracker(zap.NewNop(), nil, clock)

	tracker.Apply(snapshotOutcome("A", true, 10000))
	if start := tracker.Snapshot().SongStartMS; start != 990000 {
		t.Fatalf("unexpected start %d", start)
	}

	// Implied start 989850, 150ms away.
	clock.Advance(2 * time.Second)
	tracker.Apply(snapshotOutcome("A", true, 12150))
	if start := tracker.Snapshot().SongStartMS; start != 990000 {
		t.Fatalf("start should not move within threshold, got %d", start)
	}

	// Implied start 990200, exactly on the threshold.
	clock.Advance(2 * time.Second)
	tracker.Apply(snapshotOutcome("A", true, 13800))
	if start := tracker.Snapshot().SongStartMS; start != 990000 {
		t.Fatalf("start should not move at threshold, got %d", start)
	}

	// Implied start 989500, 500ms away.
	clock.Advance(2 * time.Second)
	tracker.Apply(snapshotOutcome("A", true, 16500))
	if start := tracker.Snapshot().SongStartMS; start != 989500 {
		t.Fatalf("start should follow drift, got %d", start)
	}
}

func TestPauseAndResume(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	rec := &recorder{}
	tracker := NewTracker(zap.NewNop(), rec, clock)

	tracker.Apply(snapshotOutcome("A", true, 0))
	tracker.Apply(snapshotOutcome("A", false, 5000))
	tracker.Apply(snapshotOutcome("A", false, 5000))

	state := tracker.Snapshot()
	if state.State != StatePaused || state.Playing {
		t.Fatalf("expected paused, got %+v", state)
	}
	if rec.paused != 1 {
		t.Fatalf("expected one pause notification, got %d", rec.paused)
	}
	if _, ok := EstimateProgress(state, clock.Now().UnixMilli()); ok {
		t.Fatalf("progress must freeze while paused")
	}
	if got, ok := DisplayProgress(state, clock.Now().UnixMilli()); !ok || got != 0 {
		t.Fatalf("expected frozen 0%%, got %v %v", got, ok)
	}

	tracker.Apply(snapshotOutcome("A", true, 5000))
	if len(rec.songs) != 2 {
		t.Fatalf("resume should count as a song change, got %d", len(rec.songs))
	}
}

func TestNotPlayingWithoutKnownTrackIsStopped(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	rec := &recorder{}
	tracker := NewTracker(zap.NewNop(), rec, clock)

	tracker.Apply(snapshotOutcome("A", false, 0))
	if state := tracker.Snapshot(); state.State != StateStopped {
		t.Fatalf("expected stopped, got %v", state.State)
	}
	if rec.paused != 0 || len(rec.songs) != 0 {
		t.Fatalf("unexpected notifications: %+v", rec)
	}
}

func TestNoSnapshotTransitions(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	rec := &recorder{}
	tracker := NewTracker(zap.NewNop(), rec, clock)

	tracker.Apply(Outcome{Kind: OutcomeNone})
	if state := tracker.Snapshot(); state.State != StateLoading {
		t.Fatalf("expected loading to persist, got %v", state.State)
	}

	tracker.Apply(snapshotOutcome("A", true, 0))
	tracker.Apply(Outcome{Kind: OutcomeNone})
	state := tracker.Snapshot()
	if state.State != StateStopped || state.CurrentTrackID != "" || state.Title != "" || state.ActiveAccount != "" {
		t.Fatalf("expected cleared stopped state, got %+v", state)
	}

	want := []State{StatePlaying, StateStopped}
	if len(rec.statuses) != len(want) {
		t.Fatalf("unexpected statuses %v", rec.statuses)
	}
	for i := range want {
		if rec.statuses[i] != want[i] {
			t.Fatalf("status %d = %v, want %v", i, rec.statuses[i], want[i])
		}
	}
}

func TestRateLimitGate(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := newFakeClock(start)
	tracker := NewTracker(zap.NewNop(), nil, clock)

	tracker.Apply(Outcome{Kind: OutcomeRateLimited, RateLimited: true, RetryAfter: 10 * time.Second})
	state := tracker.Snapshot()
	if state.State != StateRateLimited {
		t.Fatalf("expected rate limited, got %v", state.State)
	}
	if state.RateLimitedUntil != start.Unix()+15 {
		t.Fatalf("unexpected deadline %d", state.RateLimitedUntil)
	}
	if !tracker.Gated(start.Add(14*time.Second + 999*time.Millisecond)) {
		t.Fatalf("expected gate before deadline")
	}
	if tracker.Gated(start.Add(15 * time.Second)) {
		t.Fatalf("expected gate open at deadline")
	}
}

func TestRateLimitDeadlineRoundsUp(t *testing.T) {
	now := time.Unix(100, int64(300*time.Millisecond))
	if got := rateLimitDeadline(now, 10*time.Second); got != 116 {
		t.Fatalf("unexpected deadline %d", got)
	}
	if got := rateLimitDeadline(time.Unix(100, 0), 0); got != 105 {
		t.Fatalf("unexpected deadline %d", got)
	}
}

func TestRateLimitDoesNotRetriggerSong(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	rec := &recorder{}
	tracker := NewTracker(zap.NewNop(), rec, clock)

	tracker.Apply(snapshotOutcome("A", true, 0))
	tracker.Apply(Outcome{Kind: OutcomeRateLimited, RateLimited: true, RetryAfter: time.Second})
	clock.Advance(10 * time.Second)
	tracker.Apply(snapshotOutcome("A", true, 10000))

	if len(rec.songs) != 1 {
		t.Fatalf("expected single song change, got %d", len(rec.songs))
	}
	if tracker.Snapshot().State != StatePlaying {
		t.Fatalf("expected playing after backoff")
	}
}

func TestPauseFreezesLastProgress(t *testing.T) {
	clock := newFakeClock(time.UnixMilli(1_000_000))
	tracker := NewTracker(zap.NewNop(), nil, clock)

	tracker.Apply(snapshotOutcome("A", true, 40000))
	clock.Advance(10 * time.Second)
	tracker.Apply(snapshotOutcome("A", false, 50000))

	state := tracker.Snapshot()
	if state.PausedProgress != 25 {
		t.Fatalf("expected 25%% frozen, got %v", state.PausedProgress)
	}

	clock.Advance(time.Minute)
	tracker.Apply(snapshotOutcome("A", false, 50000))
	if got, ok := DisplayProgress(tracker.Snapshot(), clock.Now().UnixMilli()); !ok || got != 25 {
		t.Fatalf("progress moved while paused: %v %v", got, ok)
	}

	tracker.Apply(snapshotOutcome("A", true, 50000))
	if state := tracker.Snapshot(); state.PausedProgress != 0 {
		t.Fatalf("resume should drop frozen value, got %v", state.PausedProgress)
	}
}
