package sp

// NowPlayingState is the retained state of a nowplaying node.
type NowPlayingState struct {
	State            string     `json:"state"`
	StatusText       string     `json:"statusText"`
	Playing          bool       `json:"playing"`
	Track            *TrackInfo `json:"track,omitempty"`
	DeviceName       string     `json:"deviceName,omitempty"`
	Progress         float64    `json:"progress"`
	ActiveAccount    string     `json:"activeAccount,omitempty"`
	RateLimitedUntil int64      `json:"rateLimitedUntil,omitempty"`
	Lamp             *LampColor `json:"lamp,omitempty"`
	Rooms            []string   `json:"rooms"`
	Accounts         int        `json:"accounts"`
	TS               int64      `json:"ts"`
}

// TrackInfo describes the current track.
type TrackInfo struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Artist     string   `json:"artist"`
	Artists    []string `json:"artists,omitempty"`
	CoverURL   string   `json:"coverUrl,omitempty"`
	DurationMS int64    `json:"durationMs"`
}

// LampColor is the colour last sent to the ambient lamp.
type LampColor struct {
	Hex string  `json:"hex"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// SongChangedBody is the payload of song.changed.
type SongChangedBody struct {
	Track      TrackInfo `json:"track"`
	DeviceName string    `json:"deviceName,omitempty"`
}

// ProgressBody is the payload of playback.progress.
type ProgressBody struct {
	Percent float64 `json:"percent"`
}

// StatusBody is the payload of status.changed.
type StatusBody struct {
	State string `json:"state"`
	Text  string `json:"text"`
}

// AccountRevokedBody is the payload of account.revoked.
type AccountRevokedBody struct {
	Account string `json:"account"`
}

// ConfigSummary is returned by config.get, rooms.set and accounts.remove.
type ConfigSummary struct {
	Rooms    []string      `json:"rooms"`
	Accounts []AccountHint `json:"accounts"`
}

// AccountHint identifies an account without exposing its credential.
type AccountHint struct {
	Index int    `json:"index"`
	Hint  string `json:"hint"`
}

// RoomsSetBody replaces the room allow-list.
type RoomsSetBody struct {
	Rooms []string `json:"rooms"`
}

// AccountsRemoveBody removes the account at Index.
type AccountsRemoveBody struct {
	Index int `json:"index"`
}
