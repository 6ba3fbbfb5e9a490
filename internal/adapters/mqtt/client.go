// Package mqtt is the controller side of the spotispy protocol. It sends
// commands to nowplaying nodes, discovers them from retained presence and
// follows their now playing state.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/mikey-austin/spotispy/internal/adapters/brokertls"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

// ErrTimeout is returned when a command gets no reply in time.
var ErrTimeout = errors.New("timeout waiting for reply")

// ErrNoState is returned when a node has no retained state.
var ErrNoState = errors.New("timeout waiting for state")

const (
	// presenceWindow bounds how long retained presence is collected.
	presenceWindow = 500 * time.Millisecond
	// presenceQuiet ends collection early once retained delivery stops.
	presenceQuiet = 100 * time.Millisecond
	eventBuffer   = 32
)

// Options configures the MQTT client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLS       brokertls.Files
	TopicBase string
	Timeout   time.Duration
}

// Client implements ports.Broker over a paho connection.
type Client struct {
	client     paho.Client
	replyTopic string
	topicBase  string
	timeout    time.Duration
	pending    *pending
}

// NewClient connects and subscribes to the controller's reply topic.
func NewClient(opts Options) (*Client, error) {
	if opts.TopicBase == "" {
		opts.TopicBase = sp.BaseTopic
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}

	c := &Client{
		replyTopic: sp.TopicReply(opts.TopicBase, opts.ClientID),
		topicBase:  opts.TopicBase,
		timeout:    opts.Timeout,
		pending:    newPending(),
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	// Reconnects start a clean session, so the reply subscription is renewed.
	clientOpts.SetOnConnectHandler(func(client paho.Client) {
		client.Subscribe(c.replyTopic, 1, c.handleReply).Wait()
	})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
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
	if token := c.client.Subscribe(c.replyTopic, 1, c.handleReply); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return c, nil
}

// ReplyTopic returns the topic used for replies.
func (c *Client) ReplyTopic() string {
	return c.replyTopic
}

// PublishCommand sends cmd to a node and waits for the correlated reply.
func (c *Client) PublishCommand(ctx context.Context, nodeID string, cmd sp.CommandEnvelope) (sp.ReplyEnvelope, error) {
	if cmd.ReplyTo == "" {
		cmd.ReplyTo = c.replyTopic
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return sp.ReplyEnvelope{}, fmt.Errorf("marshal command: %w", err)
	}

	replies, err := c.pending.add(cmd.ID)
	if err != nil {
		return sp.ReplyEnvelope{}, err
	}
	defer c.pending.drop(cmd.ID)

	if token := c.client.Publish(sp.TopicCommands(c.topicBase, nodeID), 1, false, payload); token.Wait() && token.Error() != nil {
		return sp.ReplyEnvelope{}, token.Error()
	}

	wait := time.NewTimer(c.timeout)
	defer wait.Stop()
	select {
	case <-ctx.Done():
		return sp.ReplyEnvelope{}, ctx.Err()
	case reply := <-replies:
		return reply, nil
	case <-wait.C:
		return sp.ReplyEnvelope{}, fmt.Errorf("%w: %s to %s", ErrTimeout, cmd.Type, nodeID)
	}
}

// ListPresence collects retained presence of every node. Collection stops
// when deliveries go quiet or the window closes.
func (c *Client) ListPresence(ctx context.Context) ([]sp.Presence, error) {
	var mu sync.Mutex
	collected := map[string]sp.Presence{}
	arrived := make(chan struct{}, 1)

	topic := sp.TopicPresence(c.topicBase, "+")
	handler := decodeJSON(func(p sp.Presence) {
		if p.NodeID == "" {
			return
		}
		mu.Lock()
		collected[p.NodeID] = p
		mu.Unlock()
		select {
		case arrived <- struct{}{}:
		default:
		}
	})
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	defer func() { c.client.Unsubscribe(topic).Wait() }()

	window := time.NewTimer(presenceWindow)
	defer window.Stop()
	var quiet <-chan time.Time
collect:
	for {
		select {
		case <-ctx.Done():
			break collect
		case <-window.C:
			break collect
		case <-arrived:
			quiet = time.After(presenceQuiet)
		case <-quiet:
			break collect
		}
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]sp.Presence, 0, len(collected))
	for _, p := range collected {
		out = append(out, p)
	}
	return out, nil
}

// GetState returns the retained now playing state of a node.
func (c *Client) GetState(ctx context.Context, nodeID string) (sp.NowPlayingState, error) {
	latest := make(chan sp.NowPlayingState, 1)
	topic := sp.TopicState(c.topicBase, nodeID)
	handler := decodeJSON(func(s sp.NowPlayingState) {
		select {
		case latest <- s:
		default:
		}
	})
	if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
		return sp.NowPlayingState{}, token.Error()
	}
	defer func() { c.client.Unsubscribe(topic).Wait() }()

	wait := time.NewTimer(c.timeout)
	defer wait.Stop()
	select {
	case <-ctx.Done():
		return sp.NowPlayingState{}, ctx.Err()
	case state := <-latest:
		return state, nil
	case <-wait.C:
		return sp.NowPlayingState{}, ErrNoState
	}
}

// WatchState follows a node until ctx is done. The state channel only holds
// the newest state; events are buffered and dropped when the reader stalls.
// All channels close once ctx ends.
func (c *Client) WatchState(ctx context.Context, nodeID string) (<-chan sp.NowPlayingState, <-chan sp.Event, <-chan error) {
	f := newFeed()
	stateTopic := sp.TopicState(c.topicBase, nodeID)
	eventTopic := sp.TopicEvents(c.topicBase, nodeID)

	subscribed := []string{}
	for topic, handler := range map[string]paho.MessageHandler{
		stateTopic: decodeJSON(f.state),
		eventTopic: decodeJSON(f.event),
	} {
		if token := c.client.Subscribe(topic, 1, handler); token.Wait() && token.Error() != nil {
			f.fail(fmt.Errorf("subscribe %s: %w", topic, token.Error()))
			break
		}
		subscribed = append(subscribed, topic)
	}

	go func() {
		<-ctx.Done()
		if len(subscribed) > 0 {
			c.client.Unsubscribe(subscribed...).Wait()
		}
		f.close()
	}()
	return f.states, f.events, f.errs
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) handleReply(_ paho.Client, msg paho.Message) {
	var reply sp.ReplyEnvelope
	if err := json.Unmarshal(msg.Payload(), &reply); err != nil {
		return
	}
	c.pending.deliver(reply)
}

// decodeJSON adapts fn to a paho handler. Undecodable payloads are dropped.
func decodeJSON[T any](fn func(T)) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			return
		}
		fn(v)
	}
}
