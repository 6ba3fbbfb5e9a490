package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mikey-austin/spotispy/internal/colorspace"
	"github.com/mikey-austin/spotispy/internal/ports"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

// Service orchestrates spotispy CLI use cases.
type Service struct {
	Broker   ports.Broker
	Resolver Resolver
	Clock    ports.Clock
	IDGen    ports.IDGen
	Config   Config
}

var playbackCommands = map[string]string{
	"next":     sp.CmdPlaybackNext,
	"prev":     sp.CmdPlaybackPrevious,
	"previous": sp.CmdPlaybackPrevious,
	"pause":    sp.CmdPlaybackPause,
}

// ListNodes returns nowplaying presence entries sorted by node id.
func (s Service) ListNodes(ctx context.Context, onlineOnly bool) (NodesResult, error) {
	nodes, err := s.Broker.ListPresence(ctx)
	if err != nil {
		return NodesResult{}, WrapError(ExitRuntime, "list nodes", err)
	}
	nodes = filterPresenceByKind(nodes, KindNowPlaying)
	if onlineOnly {
		nodes = filterOnline(nodes)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return NodesResult{Nodes: nodes}, nil
}

// Status returns the now playing state of a node. The retained state is
// preferred; a node that has not published one yet is asked directly.
func (s Service) Status(ctx context.Context, selector string) (StatusResult, error) {
	node, err := s.Resolver.ResolveNowPlaying(ctx, selector)
	if err != nil {
		return StatusResult{}, err
	}
	state, err := s.Broker.GetState(ctx, node.NodeID)
	if err == nil {
		return StatusResult{Node: node, State: state}, nil
	}

	reply, cmdErr := s.send(ctx, node.NodeID, sp.CmdStateGet, struct{}{})
	if cmdErr != nil {
		return StatusResult{}, WrapError(ExitRuntime, "get state", err)
	}
	if err := json.Unmarshal(reply.Body, &state); err != nil {
		return StatusResult{}, WrapError(ExitRuntime, "decode state", err)
	}
	return StatusResult{Node: node, State: state}, nil
}

// WatchStatus streams state and events for a node until ctx is done.
func (s Service) WatchStatus(ctx context.Context, selector string) (sp.Presence, <-chan sp.NowPlayingState, <-chan sp.Event, <-chan error, error) {
	node, err := s.Resolver.ResolveNowPlaying(ctx, selector)
	if err != nil {
		return sp.Presence{}, nil, nil, nil, err
	}
	states, events, errs := s.Broker.WatchState(ctx, node.NodeID)
	return node, states, events, errs, nil
}

// Playback sends a transport control ("next", "prev" or "pause").
func (s Service) Playback(ctx context.Context, selector string, action string) error {
	cmdType, ok := playbackCommands[strings.ToLower(strings.TrimSpace(action))]
	if !ok {
		return &CLIError{Code: ExitUsage, Msg: fmt.Sprintf("unknown playback action %q", action)}
	}
	node, err := s.Resolver.ResolveNowPlaying(ctx, selector)
	if err != nil {
		return err
	}
	_, err = s.send(ctx, node.NodeID, cmdType, struct{}{})
	return err
}

// Rooms returns the room allow-list and masked accounts of a node.
func (s Service) Rooms(ctx context.Context, selector string) (ConfigResult, error) {
	node, err := s.Resolver.ResolveNowPlaying(ctx, selector)
	if err != nil {
		return ConfigResult{}, err
	}
	return s.configCommand(ctx, node.NodeID, sp.CmdConfigGet, struct{}{})
}

// SetRooms replaces the room allow-list. An empty list admits every device.
func (s Service) SetRooms(ctx context.Context, selector string, rooms []string) (ConfigResult, error) {
	node, err := s.Resolver.ResolveNowPlaying(ctx, selector)
	if err != nil {
		return ConfigResult{}, err
	}
	return s.configCommand(ctx, node.NodeID, sp.CmdRoomsSet, sp.RoomsSetBody{Rooms: rooms})
}

// AddRooms appends rooms to the allow-list.
func (s Service) AddRooms(ctx context.Context, selector string, rooms []string) (ConfigResult, error) {
	current, err := s.Rooms(ctx, selector)
	if err != nil {
		return ConfigResult{}, err
	}
	next := append([]string{}, current.Config.Rooms...)
	for _, room := range rooms {
		if !containsFold(next, room) {
			next = append(next, strings.TrimSpace(room))
		}
	}
	return s.configCommand(ctx, current.NodeID, sp.CmdRoomsSet, sp.RoomsSetBody{Rooms: next})
}

// RemoveRooms drops rooms from the allow-list. Names match case-insensitively.
func (s Service) RemoveRooms(ctx context.Context, selector string, rooms []string) (ConfigResult, error) {
	current, err := s.Rooms(ctx, selector)
	if err != nil {
		return ConfigResult{}, err
	}
	next := make([]string, 0, len(current.Config.Rooms))
	removed := 0
	for _, room := range current.Config.Rooms {
		if containsFold(rooms, room) {
			removed++
			continue
		}
		next = append(next, room)
	}
	if removed == 0 {
		return ConfigResult{}, &CLIError{Code: ExitNotFound, Msg: "no matching rooms"}
	}
	return s.configCommand(ctx, current.NodeID, sp.CmdRoomsSet, sp.RoomsSetBody{Rooms: next})
}

// RemoveAccount removes the refresh credential at index.
func (s Service) RemoveAccount(ctx context.Context, selector string, index int) (ConfigResult, error) {
	if index < 0 {
		return ConfigResult{}, &CLIError{Code: ExitUsage, Msg: "index must be >= 0"}
	}
	node, err := s.Resolver.ResolveNowPlaying(ctx, selector)
	if err != nil {
		return ConfigResult{}, err
	}
	return s.configCommand(ctx, node.NodeID, sp.CmdAccountsRemove, sp.AccountsRemoveBody{Index: index})
}

// ColorXY converts 8-bit sRGB to the lamp chromaticity.
func (s Service) ColorXY(r, g, b uint8) ColorResult {
	p := colorspace.RGB8ToXY(r, g, b)
	return ColorResult{R: r, G: g, B: b, X: p.X, Y: p.Y, Bri: 1, Hex: colorspace.RGBToHex(r, g, b)}
}

// ColorRGB converts a chromaticity and brightness (0-1) to approximate sRGB.
func (s Service) ColorRGB(x, y, bri float64) (ColorResult, error) {
	if x < 0 || x > 1 || y < 0 || y > 1 {
		return ColorResult{}, &CLIError{Code: ExitUsage, Msg: "x and y must be within 0-1"}
	}
	if bri < 0 || bri > 1 {
		return ColorResult{}, &CLIError{Code: ExitUsage, Msg: "brightness must be within 0-1"}
	}
	rgb := colorspace.XYAndBrightnessToRGB(x, y, bri)
	return ColorResult{
		R:   rgb[0],
		G:   rgb[1],
		B:   rgb[2],
		X:   x,
		Y:   y,
		Bri: bri,
		Hex: colorspace.RGBToHex(rgb[0], rgb[1], rgb[2]),
	}, nil
}

func (s Service) configCommand(ctx context.Context, nodeID string, cmdType string, body any) (ConfigResult, error) {
	reply, err := s.send(ctx, nodeID, cmdType, body)
	if err != nil {
		return ConfigResult{}, err
	}
	var summary sp.ConfigSummary
	if err := json.Unmarshal(reply.Body, &summary); err != nil {
		return ConfigResult{}, WrapError(ExitRuntime, "decode config", err)
	}
	return ConfigResult{NodeID: nodeID, Config: summary}, nil
}

func (s Service) send(ctx context.Context, nodeID string, cmdType string, body any) (sp.ReplyEnvelope, error) {
	cmd, err := sp.NewCommand(cmdType, body)
	if err != nil {
		return sp.ReplyEnvelope{}, WrapError(ExitRuntime, "build command", err)
	}
	cmd = s.decorateCommand(cmd)
	reply, err := s.Broker.PublishCommand(ctx, nodeID, cmd)
	if err != nil {
		return sp.ReplyEnvelope{}, WrapError(ExitRuntime, "publish command", err)
	}
	if reply.Err != nil {
		return sp.ReplyEnvelope{}, ErrorForReplyCode(reply.Err.Code, reply.Err.Message)
	}
	if !reply.OK {
		return sp.ReplyEnvelope{}, &CLIError{Code: ExitRuntime, Msg: cmdType + " failed"}
	}
	return reply, nil
}

func (s Service) decorateCommand(cmd sp.CommandEnvelope) sp.CommandEnvelope {
	cmd.ID = s.IDGen.NewID()
	cmd.TS = s.Clock.NowUnix()
	cmd.From = s.Config.Identity
	cmd.ReplyTo = s.Broker.ReplyTopic()
	return cmd
}

func containsFold(list []string, value string) bool {
	value = strings.TrimSpace(value)
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}
