package embeddedmqtt

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mikey-austin/spotispy/pkg/sp"
)

func TestNewServerAllowAnonymous(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{TopicBase: sp.BaseTopic, AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	if server == nil {
		t.Fatalf("expected server")
	}
}

func TestNewServerRequiresAuthConfig(t *testing.T) {
	if _, err := newServer(zap.NewNop(), Config{TopicBase: sp.BaseTopic}); err == nil {
		t.Fatalf("expected error without auth")
	}
	if _, err := newServer(zap.NewNop(), Config{TopicBase: sp.BaseTopic, Username: "spotispy"}); err == nil {
		t.Fatalf("expected error for username without password")
	}
}

func TestLedgerConfinesClientsToProtocolTopics(t *testing.T) {
	ledger, err := brokerLedger(Config{TopicBase: sp.BaseTopic, Username: "spotispy", Password: "secret"})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	cl := &mqtt.Client{ID: "spotispyd-1", Properties: mqtt.ClientProperties{Username: []byte("spotispy")}}

	connect := func(user, pass string) packets.Packet {
		return packets.Packet{Connect: packets.ConnectParams{Username: []byte(user), Password: []byte(pass)}}
	}
	if _, ok := ledger.AuthOk(cl, connect("spotispy", "secret")); !ok {
		t.Fatalf("expected configured account to authenticate")
	}
	if _, ok := ledger.AuthOk(cl, connect("spotispy", "wrong")); ok {
		t.Fatalf("expected wrong password to fail")
	}

	node := "sp:nowplaying:den"
	for _, topic := range []string{
		sp.TopicState(sp.BaseTopic, node),
		sp.TopicCommands(sp.BaseTopic, node),
		sp.TopicPresence(sp.BaseTopic, "+"),
		sp.TopicReply(sp.BaseTopic, "cli-1"),
	} {
		if _, ok := ledger.ACLOk(cl, topic, true); !ok {
			t.Fatalf("expected write access to %s", topic)
		}
		if _, ok := ledger.ACLOk(cl, topic, false); !ok {
			t.Fatalf("expected read access to %s", topic)
		}
	}
	for _, topic := range []string{"$SYS/broker/clients", "zigbee/lamp/set", "spotispy/v2/node/x/state"} {
		if _, ok := ledger.ACLOk(cl, topic, true); ok {
			t.Fatalf("unexpected write access to %s", topic)
		}
	}
}

func TestAnonymousLedgerStillScopesTopics(t *testing.T) {
	ledger, err := brokerLedger(Config{TopicBase: "home/spotispy", AllowAnonymous: true})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	cl := &mqtt.Client{ID: "anon"}
	if _, ok := ledger.AuthOk(cl, packets.Packet{}); !ok {
		t.Fatalf("expected anonymous client to connect")
	}
	if _, ok := ledger.ACLOk(cl, sp.TopicEvents("home/spotispy", "sp:nowplaying:den"), false); !ok {
		t.Fatalf("expected access under custom topic base")
	}
	if _, ok := ledger.ACLOk(cl, sp.TopicEvents(sp.BaseTopic, "sp:nowplaying:den"), false); ok {
		t.Fatalf("unexpected access outside topic base")
	}
}

func TestInlinePublishSubscribe(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{TopicBase: sp.BaseTopic, AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}

	received := make(chan packets.Packet, 1)
	handler := func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		received <- pk
	}
	if err := server.Subscribe(sp.TopicState(sp.BaseTopic, "+"), 1, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := server.Publish(sp.TopicState(sp.BaseTopic, "sp:nowplaying:home"), []byte(`{"state":"playing"}`), false, 0); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case pk := <-received:
		if string(pk.Payload) != `{"state":"playing"}` {
			t.Fatalf("unexpected payload %s", pk.Payload)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}
}

func TestNewModuleDefaults(t *testing.T) {
	mod, err := NewModule(nil, Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	if mod.config.Listen != DefaultListen {
		t.Fatalf("unexpected listen: %s", mod.config.Listen)
	}
	if mod.config.TopicBase != sp.BaseTopic {
		t.Fatalf("unexpected topic base: %s", mod.config.TopicBase)
	}
}

func TestSlogBridgeDemotesHangups(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := newSlogLogger(zap.New(core))

	logger.Error("read connection", "error", io.EOF)
	logger.Warn("client rejected", "client", "cli-1", "attempts", 3)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel {
		t.Fatalf("expected hangup demoted to debug, got %v", entries[0].Level)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["client"] != "cli-1" {
		t.Fatalf("unexpected warn entry: %+v", entries[1])
	}
}

func TestSlogBridgeHonoursZapLevel(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	handler := newSlogLogger(zap.New(core)).Handler()
	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("debug should be disabled at info level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled")
	}
}

func TestBrokerURL(t *testing.T) {
	if BrokerURL("127.0.0.1:1883", false) != "mqtt://127.0.0.1:1883" {
		t.Fatalf("expected mqtt scheme")
	}
	if BrokerURL("127.0.0.1:8883", true) != "mqtts://127.0.0.1:8883" {
		t.Fatalf("expected mqtts scheme")
	}
}
