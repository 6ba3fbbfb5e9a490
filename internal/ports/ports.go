package ports

import (
	"context"

	"github.com/mikey-austin/spotispy/pkg/sp"
)

// Broker publishes commands and reads retained state/presence.
type Broker interface {
	ReplyTopic() string
	PublishCommand(ctx context.Context, nodeID string, cmd sp.CommandEnvelope) (sp.ReplyEnvelope, error)
	ListPresence(ctx context.Context) ([]sp.Presence, error)
	GetState(ctx context.Context, nodeID string) (sp.NowPlayingState, error)
	WatchState(ctx context.Context, nodeID string) (<-chan sp.NowPlayingState, <-chan sp.Event, <-chan error)
}

// Clock returns the current unix time in seconds.
type Clock interface {
	NowUnix() int64
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}

// Settings is the editable part of the daemon configuration.
type Settings struct {
	RefreshKeys []string
	Rooms       []string
}

// SettingsStore persists the account list and room allow-list.
type SettingsStore interface {
	Load() (Settings, error)
	Save(Settings) error
}
