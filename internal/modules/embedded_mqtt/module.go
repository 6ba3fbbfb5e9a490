// Package embeddedmqtt runs an in-process MQTT broker for single host
// installs. Clients are confined to the spotispy protocol topics.
package embeddedmqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/adapters/brokertls"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

// DefaultListen is the broker address used when none is configured.
const DefaultListen = "127.0.0.1:1883"

// Config configures the embedded broker. Without AllowAnonymous a single
// Username/Password account is accepted.
type Config struct {
	TopicBase      string
	Listen         string
	AllowAnonymous bool
	Username       string
	Password       string
	TLS            brokertls.Files
}

// Module runs the broker until its context ends.
type Module struct {
	log    *zap.Logger
	server *mqtt.Server
	config Config
}

// NewModule validates cfg and prepares the broker.
func NewModule(log *zap.Logger, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = DefaultListen
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = sp.BaseTopic
	}
	server, err := newServer(log, cfg)
	if err != nil {
		return nil, err
	}
	return &Module{log: log, server: server, config: cfg}, nil
}

// Run serves MQTT until ctx is cancelled.
func (m *Module) Run(ctx context.Context) error {
	tlsConfig, err := m.config.TLS.Server()
	if err != nil {
		return fmt.Errorf("embedded mqtt tls: %w", err)
	}
	listener := listeners.NewTCP(listeners.Config{ID: "spotispy", Address: m.config.Listen, TLSConfig: tlsConfig})
	if err := m.server.AddListener(listener); err != nil {
		return err
	}
	if err := m.server.Serve(); err != nil {
		return fmt.Errorf("serve embedded mqtt: %w", err)
	}
	m.log.Info("embedded mqtt listening",
		zap.String("listen", m.config.Listen),
		zap.Bool("tls", tlsConfig != nil),
		zap.Bool("anonymous", m.config.AllowAnonymous),
		zap.String("topic_base", m.config.TopicBase),
	)

	<-ctx.Done()
	return m.server.Close()
}

func newServer(log *zap.Logger, cfg Config) (*mqtt.Server, error) {
	ledger, err := brokerLedger(cfg)
	if err != nil {
		return nil, err
	}
	server := mqtt.New(&mqtt.Options{InlineClient: true, Logger: newSlogLogger(log)})
	if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}); err != nil {
		return nil, err
	}
	if err := server.AddHook(&sessionHook{log: log}, nil); err != nil {
		return nil, err
	}
	return server, nil
}

// protocolFilters covers every topic a node or controller uses.
func protocolFilters(topicBase string) auth.Filters {
	return auth.Filters{
		auth.RString(sp.TopicPresence(topicBase, "+")): auth.ReadWrite,
		auth.RString(sp.TopicState(topicBase, "+")):    auth.ReadWrite,
		auth.RString(sp.TopicEvents(topicBase, "+")):   auth.ReadWrite,
		auth.RString(sp.TopicCommands(topicBase, "+")): auth.ReadWrite,
		auth.RString(sp.TopicReply(topicBase, "+")):    auth.ReadWrite,
	}
}

// brokerLedger admits either anyone or the configured account, and only
// to the protocol topics. An empty rule username matches every client.
func brokerLedger(cfg Config) (*auth.Ledger, error) {
	var rule auth.AuthRule
	switch {
	case cfg.AllowAnonymous:
		rule = auth.AuthRule{Allow: true}
	case cfg.Username != "":
		if cfg.Password == "" {
			return nil, errors.New("embedded mqtt password required with username")
		}
		rule = auth.AuthRule{Username: auth.RString(cfg.Username), Password: auth.RString(cfg.Password), Allow: true}
	default:
		return nil, errors.New("embedded mqtt requires allow_anonymous or username")
	}
	return &auth.Ledger{
		Auth: auth.AuthRules{rule},
		// The ledger allows topics no rule mentions, so close with a deny-all.
		ACL: auth.ACLRules{
			{Username: rule.Username, Filters: protocolFilters(cfg.TopicBase)},
			{Filters: auth.Filters{"#": auth.Deny}},
		},
	}, nil
}

// BrokerURL returns the broker URL for a listen address.
func BrokerURL(listen string, tlsEnabled bool) string {
	if tlsEnabled {
		return "mqtts://" + listen
	}
	return "mqtt://" + listen
}
