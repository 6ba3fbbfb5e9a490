// Package playback reconciles now-playing snapshots from several Spotify
// accounts into a single authoritative track state.
package playback

import (
	"strings"

	"github.com/mikey-austin/spotispy/internal/spotify"
)

// State is the tracker state machine position.
type State int

const (
	StateLoading State = iota
	StateStopped
	StatePlaying
	StatePaused
	StateRateLimited
)

var stateNames = map[State]string{
	StateLoading:     "loading",
	StateStopped:     "stopped",
	StatePlaying:     "playing",
	StatePaused:      "paused",
	StateRateLimited: "rate_limited",
}

var stateText = map[State]string{
	StateLoading:     "connecting to Spotify",
	StateStopped:     "playback stopped",
	StatePlaying:     "playing",
	StatePaused:      "playback paused",
	StateRateLimited: "waiting for Spotify",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// StatusText is the operator facing description of the state.
func (s State) StatusText() string {
	return stateText[s]
}

// Snapshot is one account's playback for a single poll tick.
type Snapshot struct {
	AccountKey string
	DeviceName string
	TrackID    string
	Title      string
	Artists    []string
	CoverURL   string
	ProgressMS int64
	DurationMS int64
	IsPlaying  bool
}

func snapshotFrom(key string, pb *spotify.Playback) Snapshot {
	return Snapshot{
		AccountKey: key,
		DeviceName: pb.DeviceName,
		TrackID:    pb.TrackID,
		Title:      pb.Title,
		Artists:    pb.Artists,
		CoverURL:   pb.CoverURL,
		ProgressMS: pb.ProgressMS,
		DurationMS: pb.DurationMS,
		IsPlaying:  pb.IsPlaying,
	}
}

// TrackState is the authoritative state carried across ticks.
type TrackState struct {
	State            State
	CurrentTrackID   string
	Title            string
	Artists          []string
	CoverURL         string
	DeviceName       string
	SongStartMS      int64
	DurationMS       int64
	Playing          bool
	RateLimitedUntil int64
	ActiveAccount    string
	// PausedProgress is the percentage reached when playback paused.
	PausedProgress float64
}

// Artist returns the joined artist names.
func (t TrackState) Artist() string {
	return JoinArtists(t.Artists)
}

// JoinArtists joins names with " & ".
func JoinArtists(artists []string) string {
	return strings.Join(artists, " & ")
}
