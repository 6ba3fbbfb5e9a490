// Package mqttserver is the daemon side MQTT connection shared by spotispyd
// modules. The broker session is clean, so the client remembers every
// subscription and announced presence and restores them after a reconnect.
// When a node is configured its offline presence is left as the will.
package mqttserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/adapters/brokertls"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

const previewBytes = 512

// Options configures the daemon connection.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLS       brokertls.Files
	TopicBase string
	Timeout   time.Duration
	Logger    *zap.Logger
	// Debug traces every message with its node and channel.
	Debug bool
	// Node is marked offline by the broker if the connection drops.
	Node *sp.Presence
}

type subscription struct {
	qos     byte
	handler paho.MessageHandler
}

// Client is a paho connection with reconnect bookkeeping.
type Client struct {
	client    paho.Client
	log       *zap.Logger
	debug     bool
	topicBase string

	mu        sync.Mutex
	connected bool
	subs      map[string]subscription
	announced map[string][]byte
}

// NewClient connects to the broker.
func NewClient(opts Options) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TopicBase == "" {
		opts.TopicBase = sp.BaseTopic
	}

	c := &Client{
		log:       opts.Logger,
		debug:     opts.Debug,
		topicBase: opts.TopicBase,
		subs:      map[string]subscription{},
		announced: map[string][]byte{},
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetCleanSession(true)
	clientOpts.SetOnConnectHandler(c.onConnect)
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt connection lost", zap.Error(err))
	})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	if opts.Node != nil {
		topic, payload, err := offlineWill(opts.TopicBase, *opts.Node)
		if err != nil {
			return nil, err
		}
		clientOpts.SetBinaryWill(topic, payload, 1, true)
	}

	tlsConfig, err := opts.TLS.Client()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

func offlineWill(topicBase string, node sp.Presence) (string, []byte, error) {
	if strings.TrimSpace(node.NodeID) == "" {
		return "", nil, errors.New("will presence requires a node id")
	}
	node.Online = false
	node.TS = 0
	payload, err := json.Marshal(node)
	if err != nil {
		return "", nil, fmt.Errorf("marshal will: %w", err)
	}
	return sp.TopicPresence(topicBase, node.NodeID), payload, nil
}

// onConnect replays subscriptions and presence after a reconnect. The first
// connect has nothing to restore.
func (c *Client) onConnect(client paho.Client) {
	c.mu.Lock()
	first := !c.connected
	c.connected = true
	subs := maps.Clone(c.subs)
	announced := maps.Clone(c.announced)
	c.mu.Unlock()
	if first {
		return
	}

	c.log.Info("mqtt reconnected", zap.Int("subscriptions", len(subs)), zap.Int("presence", len(announced)))
	for topic, sub := range subs {
		if token := client.Subscribe(topic, sub.qos, sub.handler); token.Wait() && token.Error() != nil {
			c.log.Warn("restore subscription", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
	for topic, payload := range announced {
		if token := client.Publish(topic, 1, true, payload); token.Wait() && token.Error() != nil {
			c.log.Warn("restore presence", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}

// Publish publishes a message.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	c.trace("mqtt publish", topic, payload)
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Announce publishes presence retained on topic and republishes it after
// every reconnect. Announcing an offline presence replaces the online one.
func (c *Client) Announce(topic string, presence sp.Presence) error {
	payload, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}
	c.mu.Lock()
	c.announced[topic] = payload
	c.mu.Unlock()
	return c.Publish(topic, 1, true, payload)
}

// Subscribe subscribes to topic and keeps it across reconnects.
func (c *Client) Subscribe(topic string, qos byte, handler paho.MessageHandler) error {
	if c.debug {
		inner := handler
		handler = func(client paho.Client, msg paho.Message) {
			c.trace("mqtt message", msg.Topic(), msg.Payload())
			inner(client, msg)
		}
	}
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, handler)
	token.Wait()
	return token.Error()
}

// Unsubscribe drops a subscription.
func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	token := c.client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

// Close disconnects, allowing in-flight messages a short grace period.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) trace(msg, topic string, payload []byte) {
	if !c.debug {
		return
	}
	node, channel := describeTopic(c.topicBase, topic)
	fields := []zap.Field{
		zap.String("topic", topic),
		zap.String("node", node),
		zap.String("channel", channel),
		zap.Int("bytes", len(payload)),
	}
	if len(payload) <= previewBytes {
		fields = append(fields, zap.ByteString("payload", payload))
	}
	c.log.Debug(msg, fields...)
}

// describeTopic splits a protocol topic into the node or controller id and
// its channel (presence, state, evt, cmd or reply).
func describeTopic(topicBase, topic string) (string, string) {
	rest, ok := strings.CutPrefix(topic, topicBase+"/")
	if !ok {
		return "", "foreign"
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 3 && parts[0] == "node":
		return parts[1], parts[2]
	case len(parts) == 2 && parts[0] == "reply":
		return parts[1], "reply"
	default:
		return "", "unknown"
	}
}
