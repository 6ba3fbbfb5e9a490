package playback

import (
	"context"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/mikey-austin/spotispy/internal/spotify"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeUpstream struct {
	mu        sync.Mutex
	refresh   func(key string) (*oauth2.Token, error)
	playback  func(token string) (*spotify.Playback, error)
	refreshes map[string]int
	polls     int
	controls  []string
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		refresh: func(key string) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "tok-" + key, ExpiresIn: 3600}, nil
		},
		playback: func(string) (*spotify.Playback, error) {
			return nil, nil
		},
		refreshes: map[string]int{},
	}
}

func (f *fakeUpstream) RefreshToken(_ context.Context, key string) (*oauth2.Token, error) {
	f.mu.Lock()
	f.refreshes[key]++
	fn := f.refresh
	f.mu.Unlock()
	return fn(key)
}

func (f *fakeUpstream) CurrentPlayback(_ context.Context, token string) (*spotify.Playback, error) {
	f.mu.Lock()
	f.polls++
	fn := f.playback
	f.mu.Unlock()
	return fn(token)
}

func (f *fakeUpstream) Control(_ context.Context, token string, action spotify.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, string(action)+":"+token)
	return nil
}

func (f *fakeUpstream) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeUpstream) refreshCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes[key]
}

type recorder struct {
	mu       sync.Mutex
	songs    []SongChange
	progress []float64
	paused   int
	statuses []State
	revoked  []string
}

func (r *recorder) SongChanged(c SongChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.songs = append(r.songs, c)
}

func (r *recorder) ProgressUpdated(p float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) Paused() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused++
}

func (r *recorder) StatusChanged(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s.State)
}

func (r *recorder) AccountRevoked(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, key)
}

func (r *recorder) songCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.songs)
}

func playing(device, track string, progressMS int64) *spotify.Playback {
	return &spotify.Playback{
		IsPlaying:  true,
		DeviceName: device,
		TrackID:    track,
		Title:      "Title " + track,
		Artists:    []string{"A", "B"},
		CoverURL:   "http://img/" + track,
		ProgressMS: progressMS,
		DurationMS: 200000,
	}
}
