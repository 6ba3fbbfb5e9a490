package nowplaying

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/playback"
	"github.com/mikey-austin/spotispy/internal/spotify"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

const commandTimeout = 10 * time.Second

func (m *Module) handleMessage(ctx context.Context, msg paho.Message) {
	var cmd sp.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.log.Warn("invalid command", zap.Error(err))
		return
	}

	reply := m.dispatch(ctx, cmd)
	if cmd.ReplyTo == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		m.log.Error("marshal reply", zap.Error(err))
		return
	}
	if err := m.bus.Publish(cmd.ReplyTo, 1, false, payload); err != nil {
		m.log.Error("publish reply", zap.Error(err))
	}
}

func (m *Module) dispatch(ctx context.Context, cmd sp.CommandEnvelope) sp.ReplyEnvelope {
	reply := sp.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "ack",
		OK:   true,
		TS:   m.clock.Now().Unix(),
	}
	if err := sp.ValidateCommandEnvelope(cmd); err != nil {
		return m.errorReply(cmd, sp.ErrCodeInvalid, err.Error())
	}

	switch cmd.Type {
	case sp.CmdPlaybackNext, sp.CmdPlaybackPrevious, sp.CmdPlaybackPause:
		return m.playbackControl(ctx, cmd, reply)
	case sp.CmdStateGet:
		return m.withBody(cmd, reply, m.State())
	case sp.CmdConfigGet:
		settings, err := m.settings()
		if err != nil {
			return m.errorReply(cmd, sp.ErrCodeUnavailable, err.Error())
		}
		return m.withBody(cmd, reply, m.summary(settings))
	case sp.CmdRoomsSet:
		return m.roomsSet(cmd, reply)
	case sp.CmdAccountsRemove:
		return m.accountsRemove(cmd, reply)
	default:
		return m.errorReply(cmd, sp.ErrCodeInvalid, "unsupported command")
	}
}

func (m *Module) playbackControl(ctx context.Context, cmd sp.CommandEnvelope, reply sp.ReplyEnvelope) sp.ReplyEnvelope {
	action, err := spotify.ParseAction(strings.TrimPrefix(cmd.Type, "playback."))
	if err != nil {
		return m.errorReply(cmd, sp.ErrCodeInvalid, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if err := m.engine.Control(ctx, action); err != nil {
		if errors.Is(err, playback.ErrNoActiveAccount) {
			return m.errorReply(cmd, sp.ErrCodeUnavailable, err.Error())
		}
		return m.errorReply(cmd, sp.ErrCodeUpstream, err.Error())
	}
	return reply
}

func (m *Module) roomsSet(cmd sp.CommandEnvelope, reply sp.ReplyEnvelope) sp.ReplyEnvelope {
	var body sp.RoomsSetBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return m.errorReply(cmd, sp.ErrCodeInvalid, "invalid body")
	}
	rooms := make([]string, 0, len(body.Rooms))
	seen := map[string]bool{}
	for _, room := range body.Rooms {
		room = strings.TrimSpace(room)
		if room == "" || seen[room] {
			continue
		}
		seen[room] = true
		rooms = append(rooms, room)
	}

	settings, err := m.settings()
	if err != nil {
		return m.errorReply(cmd, sp.ErrCodeUnavailable, err.Error())
	}
	settings.Rooms = rooms
	if err := m.saveSettings(settings); err != nil {
		return m.errorReply(cmd, sp.ErrCodeUnavailable, err.Error())
	}
	return m.withBody(cmd, reply, m.summary(settings))
}

func (m *Module) accountsRemove(cmd sp.CommandEnvelope, reply sp.ReplyEnvelope) sp.ReplyEnvelope {
	var body sp.AccountsRemoveBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return m.errorReply(cmd, sp.ErrCodeInvalid, "invalid body")
	}

	settings, err := m.settings()
	if err != nil {
		return m.errorReply(cmd, sp.ErrCodeUnavailable, err.Error())
	}
	if body.Index < 0 || body.Index >= len(settings.RefreshKeys) {
		return m.errorReply(cmd, sp.ErrCodeNotFound, fmt.Sprintf("no account at index %d", body.Index))
	}
	keys := append([]string{}, settings.RefreshKeys[:body.Index]...)
	settings.RefreshKeys = append(keys, settings.RefreshKeys[body.Index+1:]...)
	if err := m.saveSettings(settings); err != nil {
		return m.errorReply(cmd, sp.ErrCodeUnavailable, err.Error())
	}
	return m.withBody(cmd, reply, m.summary(settings))
}

func (m *Module) withBody(cmd sp.CommandEnvelope, reply sp.ReplyEnvelope, body any) sp.ReplyEnvelope {
	payload, err := json.Marshal(body)
	if err != nil {
		return m.errorReply(cmd, sp.ErrCodeInvalid, err.Error())
	}
	reply.Body = payload
	return reply
}

func (m *Module) errorReply(cmd sp.CommandEnvelope, code string, message string) sp.ReplyEnvelope {
	return sp.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   m.clock.Now().Unix(),
		Err: &sp.ReplyError{
			Code:    code,
			Message: message,
		},
	}
}
