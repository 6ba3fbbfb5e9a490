package embeddedmqtt

import (
	"bytes"
	"errors"
	"io"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"
)

// sessionHook logs clients joining and leaving the bus.
type sessionHook struct {
	mqtt.HookBase
	log *zap.Logger
}

func (h *sessionHook) ID() string { return "spotispy-sessions" }

func (h *sessionHook) Provides(b byte) bool {
	return bytes.Contains([]byte{mqtt.OnSessionEstablished, mqtt.OnDisconnect}, []byte{b})
}

func (h *sessionHook) OnSessionEstablished(cl *mqtt.Client, _ packets.Packet) {
	h.log.Debug("mqtt client connected",
		zap.String("client", cl.ID),
		zap.String("remote", cl.Net.Remote),
		zap.Bool("will", len(cl.Properties.Will.TopicName) > 0),
	)
}

func (h *sessionHook) OnDisconnect(cl *mqtt.Client, err error, _ bool) {
	if err == nil || errors.Is(err, io.EOF) {
		h.log.Debug("mqtt client disconnected", zap.String("client", cl.ID))
		return
	}
	h.log.Info("mqtt client dropped", zap.String("client", cl.ID), zap.Error(err))
}
