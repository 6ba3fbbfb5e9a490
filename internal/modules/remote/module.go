// Package remote serves the configuration UI: account and room editing, the
// Spotify authorization flow that mints new refresh credentials, transport
// controls and a websocket feed of playback notifications.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/ports"
	"github.com/mikey-austin/spotispy/internal/spotify"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

// DefaultListen is the address served when none is configured.
const DefaultListen = ":8888"

// Bus is the MQTT surface the module uses.
type Bus interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Config configures the remote module. NodeID names the nowplaying node whose
// state is mirrored and which receives transport controls.
type Config struct {
	Listen    string
	PublicURI string
	StaticDir string
	ClientID  string
	NodeID    string
	TopicBase string
	Identity  string
}

// Module is the remote UI server.
type Module struct {
	log    *zap.Logger
	bus    Bus
	store  ports.SettingsStore
	auth   spotify.Authorizer
	ids    ports.IDGen
	clock  ports.Clock
	config Config
	hub    *Hub

	mu     sync.Mutex
	states map[string]int64
	state  json.RawMessage
}

// NewModule validates the configuration and builds the module.
func NewModule(log *zap.Logger, bus Bus, store ports.SettingsStore, auth spotify.Authorizer, ids ports.IDGen, clock ports.Clock, cfg Config) (*Module, error) {
	if bus == nil {
		return nil, errors.New("remote requires an mqtt client")
	}
	if store == nil {
		return nil, errors.New("remote requires a settings store")
	}
	if auth == nil {
		return nil, errors.New("remote requires an authorizer")
	}
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("remote node_id required")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = DefaultListen
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = sp.BaseTopic
	}
	if cfg.Identity == "" {
		cfg.Identity = "remote"
	}
	cfg.PublicURI = strings.TrimRight(cfg.PublicURI, "/")
	if log == nil {
		log = zap.NewNop()
	}
	return &Module{
		log:    log,
		bus:    bus,
		store:  store,
		auth:   auth,
		ids:    ids,
		clock:  clock,
		config: cfg,
		hub:    NewHub(log),
		states: map[string]int64{},
	}, nil
}

// RedirectURL is the OAuth callback address registered with Spotify.
func RedirectURL(publicURI string) string {
	return strings.TrimRight(publicURI, "/") + "/spotifycallback"
}

// Handler returns the HTTP routes.
func (m *Module) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/config", m.getConfig)
	mux.HandleFunc("PUT /api/config/rooms", m.putRooms)
	mux.HandleFunc("DELETE /api/accounts/{index}", m.deleteAccount)
	mux.HandleFunc("GET /api/state", m.getState)
	mux.HandleFunc("POST /api/playback/{action}", m.postPlayback)
	mux.HandleFunc("GET /login", m.login)
	mux.HandleFunc("GET /spotifycallback", m.callback)
	mux.Handle("GET /ws", m.hub)
	if m.config.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(m.config.StaticDir)))
	}
	return mux
}

// Run mirrors the nowplaying node and serves HTTP until ctx is cancelled.
func (m *Module) Run(ctx context.Context) error {
	stateTopic := sp.TopicState(m.config.TopicBase, m.config.NodeID)
	evtTopic := sp.TopicEvents(m.config.TopicBase, m.config.NodeID)

	if err := m.bus.Subscribe(stateTopic, 1, func(_ paho.Client, msg paho.Message) {
		m.onState(msg.Payload())
	}); err != nil {
		return err
	}
	defer m.bus.Unsubscribe(stateTopic)
	if err := m.bus.Subscribe(evtTopic, 1, func(_ paho.Client, msg paho.Message) {
		m.hub.Broadcast(msg.Payload())
	}); err != nil {
		return err
	}
	defer m.bus.Unsubscribe(evtTopic)

	ln, err := net.Listen("tcp", m.config.Listen)
	if err != nil {
		return err
	}
	server := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()
	m.log.Info("remote ui listening", zap.String("listen", ln.Addr().String()), zap.String("public_uri", m.config.PublicURI))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	m.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	return nil
}

// onState caches the retained state and forwards it to websocket clients as
// a "state" event.
func (m *Module) onState(payload []byte) {
	if !json.Valid(payload) {
		m.log.Debug("ignoring invalid state payload")
		return
	}
	m.mu.Lock()
	m.state = append(json.RawMessage(nil), payload...)
	m.mu.Unlock()

	msg, err := json.Marshal(sp.Event{Type: sp.EventState, TS: m.clock.NowUnix(), Body: payload})
	if err != nil {
		return
	}
	m.hub.SetState(msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
