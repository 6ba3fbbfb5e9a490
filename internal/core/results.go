package core

import "github.com/mikey-austin/spotispy/pkg/sp"

// NodesResult holds a list of presence records.
type NodesResult struct {
	Nodes []sp.Presence
}

// StatusResult holds node presence and now playing state.
type StatusResult struct {
	Node  sp.Presence
	State sp.NowPlayingState
}

// EventResult is a single event seen while watching a node.
type EventResult struct {
	NodeID string
	Event  sp.Event
}

// ConfigResult holds the rooms and masked accounts of a node.
type ConfigResult struct {
	NodeID string
	Config sp.ConfigSummary
}

// ColorResult is a local colour conversion.
type ColorResult struct {
	R   uint8   `json:"r"`
	G   uint8   `json:"g"`
	B   uint8   `json:"b"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Bri float64 `json:"bri"`
	Hex string  `json:"hex"`
}

// RawResult holds arbitrary JSON data for output.
type RawResult struct {
	Data any
}
