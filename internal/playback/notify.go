package playback

import (
	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/spotify"
)

// SongChange describes a newly started track.
type SongChange struct {
	TrackID    string
	Title      string
	Artist     string
	Artists    []string
	CoverURL   string
	DurationMS int64
	DeviceName string
}

// Status is a state transition with its human readable text.
type Status struct {
	State State
	Text  string
}

func statusOf(s State) Status {
	return Status{State: s, Text: s.StatusText()}
}

// Notifier receives playback notifications. Calls happen on the poll
// goroutine and must not block.
type Notifier interface {
	SongChanged(SongChange)
	ProgressUpdated(percent float64)
	Paused()
	StatusChanged(Status)
	AccountRevoked(refreshKey string)
}

// NopNotifier ignores everything. Embed it to implement a subset.
type NopNotifier struct{}

func (NopNotifier) SongChanged(SongChange)  {}
func (NopNotifier) ProgressUpdated(float64) {}
func (NopNotifier) Paused()                 {}
func (NopNotifier) StatusChanged(Status)    {}
func (NopNotifier) AccountRevoked(string)   {}

// Notifiers fans out to every member in order.
type Notifiers []Notifier

func (n Notifiers) SongChanged(c SongChange) {
	for _, x := range n {
		x.SongChanged(c)
	}
}

func (n Notifiers) ProgressUpdated(percent float64) {
	for _, x := range n {
		x.ProgressUpdated(percent)
	}
}

func (n Notifiers) Paused() {
	for _, x := range n {
		x.Paused()
	}
}

func (n Notifiers) StatusChanged(s Status) {
	for _, x := range n {
		x.StatusChanged(s)
	}
}

func (n Notifiers) AccountRevoked(refreshKey string) {
	for _, x := range n {
		x.AccountRevoked(refreshKey)
	}
}

// LogNotifier writes notifications to a zap logger.
type LogNotifier struct {
	NopNotifier
	log *zap.Logger
}

// NewLogNotifier creates a notifier that logs.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) SongChanged(c SongChange) {
	l.log.Info("now playing",
		zap.String("title", c.Title),
		zap.String("artist", c.Artist),
		zap.String("device", c.DeviceName),
	)
}

func (l *LogNotifier) Paused() {
	l.log.Info("playback paused")
}

func (l *LogNotifier) StatusChanged(s Status) {
	l.log.Info("status changed", zap.String("state", s.State.String()), zap.String("text", s.Text))
}

func (l *LogNotifier) AccountRevoked(refreshKey string) {
	l.log.Error("account credential revoked, re-authorize it",
		zap.String("account", spotify.MaskKey(refreshKey)))
}
