// Package nowplaying runs the playback engine as a daemon module. It publishes
// the reconciled state and events over MQTT and answers controller commands.
package nowplaying

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey-austin/spotispy/internal/lighting"
	"github.com/mikey-austin/spotispy/internal/playback"
	"github.com/mikey-austin/spotispy/internal/ports"
	"github.com/mikey-austin/spotispy/internal/spotify"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

// Bus is the MQTT surface the module uses.
type Bus interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
	// Announce publishes retained presence that outlives reconnects.
	Announce(topic string, presence sp.Presence) error
}

// Config configures the nowplaying module.
type Config struct {
	NodeID       string
	TopicBase    string
	Name         string
	Engine       playback.Config
	PruneRevoked bool
}

// Module owns the playback engine and its MQTT surface.
type Module struct {
	log    *zap.Logger
	bus    Bus
	engine *playback.Engine
	driver *lighting.Driver
	store  ports.SettingsStore
	clock  playback.Clock
	config Config

	cmdTopic   string
	evtTopic   string
	stateTopic string

	outbox  chan outgoing
	revoked chan string

	mu   sync.Mutex
	lamp *sp.LampColor
}

type outgoing struct {
	topic    string
	retained bool
	payload  []byte
}

// NewModule builds the engine and wires its notifications to MQTT, the log
// and the optional lighting driver. store may be nil, in which case config
// commands only change the running engine.
func NewModule(log *zap.Logger, bus Bus, upstream playback.Upstream, store ports.SettingsStore, driver *lighting.Driver, clock playback.Clock, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("nowplaying node_id required")
	}
	if bus == nil {
		return nil, errors.New("nowplaying requires an mqtt client")
	}
	if upstream == nil {
		return nil, errors.New("nowplaying requires a spotify client")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = sp.BaseTopic
	}
	if cfg.Name == "" {
		cfg.Name = "Now Playing"
	}
	if log == nil {
		log = zap.NewNop()
	}

	m := &Module{
		log:        log,
		bus:        bus,
		driver:     driver,
		store:      store,
		clock:      clock,
		config:     cfg,
		cmdTopic:   sp.TopicCommands(cfg.TopicBase, cfg.NodeID),
		evtTopic:   sp.TopicEvents(cfg.TopicBase, cfg.NodeID),
		stateTopic: sp.TopicState(cfg.TopicBase, cfg.NodeID),
		outbox:     make(chan outgoing, 64),
		revoked:    make(chan string, 8),
	}

	notify := playback.Notifiers{playback.NewLogNotifier(log), m}
	if driver != nil {
		notify = append(notify, driver)
		driver.OnApplied(m.lampApplied)
	}
	m.engine = playback.NewEngine(log, cfg.Engine, upstream, notify, clock)
	return m, nil
}

// Engine exposes the running engine.
func (m *Module) Engine() *playback.Engine { return m.engine }

// Run starts the module and blocks until ctx is cancelled.
func (m *Module) Run(ctx context.Context) error {
	handler := func(_ paho.Client, msg paho.Message) {
		m.handleMessage(ctx, msg)
	}
	if err := m.bus.Subscribe(m.cmdTopic, 1, handler); err != nil {
		return err
	}
	defer m.bus.Unsubscribe(m.cmdTopic)

	if err := m.publishPresence(true); err != nil {
		return err
	}
	defer func() {
		if err := m.publishPresence(false); err != nil {
			m.log.Debug("publish offline presence", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.engine.Run(gctx) })
	if m.driver != nil {
		g.Go(func() error { return m.driver.Run(gctx) })
	}
	g.Go(func() error { return m.publishLoop(gctx) })
	return g.Wait()
}

// Reload applies new settings to the engine and republishes state.
func (m *Module) Reload(settings ports.Settings) {
	m.engine.Reload(settings.RefreshKeys, settings.Rooms)
	m.emit(sp.EventConfigReloaded, m.summary(settings))
}

func (m *Module) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case out := <-m.outbox:
			if err := m.bus.Publish(out.topic, 1, out.retained, out.payload); err != nil {
				m.log.Warn("mqtt publish failed", zap.String("topic", out.topic), zap.Error(err))
			}
		case key := <-m.revoked:
			m.prune(key)
		}
	}
}

func (m *Module) publishPresence(online bool) error {
	presence := sp.Presence{
		NodeID: m.config.NodeID,
		Kind:   "nowplaying",
		Name:   m.config.Name,
		Online: online,
		Caps: map[string]any{
			"controls": []string{sp.CmdPlaybackNext, sp.CmdPlaybackPrevious, sp.CmdPlaybackPause},
			"lighting": m.driver != nil,
		},
		TS: m.clock.Now().Unix(),
	}
	return m.bus.Announce(sp.TopicPresence(m.config.TopicBase, m.config.NodeID), presence)
}

// State builds the retained state document.
func (m *Module) State() sp.NowPlayingState {
	now := m.clock.Now()
	ts := m.engine.Tracker().Snapshot()

	state := sp.NowPlayingState{
		State:            ts.State.String(),
		StatusText:       ts.State.StatusText(),
		Playing:          ts.Playing,
		DeviceName:       ts.DeviceName,
		RateLimitedUntil: ts.RateLimitedUntil,
		Rooms:            m.engine.Rooms(),
		Accounts:         len(m.engine.Tokens().Keys()),
		TS:               now.Unix(),
	}
	if ts.ActiveAccount != "" {
		state.ActiveAccount = spotify.MaskKey(ts.ActiveAccount)
	}
	if ts.CurrentTrackID != "" {
		state.Track = &sp.TrackInfo{
			ID:         ts.CurrentTrackID,
			Title:      ts.Title,
			Artist:     ts.Artist(),
			Artists:    ts.Artists,
			CoverURL:   ts.CoverURL,
			DurationMS: ts.DurationMS,
		}
		if percent, ok := playback.DisplayProgress(ts, now.UnixMilli()); ok {
			state.Progress = percent
		}
	}

	m.mu.Lock()
	if m.lamp != nil {
		lamp := *m.lamp
		state.Lamp = &lamp
	}
	m.mu.Unlock()
	return state
}

// SongChanged publishes song.changed.
func (m *Module) SongChanged(c playback.SongChange) {
	m.emit(sp.EventSongChanged, sp.SongChangedBody{
		Track: sp.TrackInfo{
			ID:         c.TrackID,
			Title:      c.Title,
			Artist:     c.Artist,
			Artists:    c.Artists,
			CoverURL:   c.CoverURL,
			DurationMS: c.DurationMS,
		},
		DeviceName: c.DeviceName,
	})
}

// ProgressUpdated publishes playback.progress.
func (m *Module) ProgressUpdated(percent float64) {
	m.emit(sp.EventProgress, sp.ProgressBody{Percent: percent})
}

// Paused publishes playback.paused.
func (m *Module) Paused() {
	m.emit(sp.EventPlaybackPaused, struct{}{})
}

// StatusChanged publishes status.changed.
func (m *Module) StatusChanged(s playback.Status) {
	m.emit(sp.EventStatusChanged, sp.StatusBody{State: s.State.String(), Text: s.Text})
}

// AccountRevoked publishes account.revoked and, when configured, removes the
// credential from the stored settings.
func (m *Module) AccountRevoked(refreshKey string) {
	m.emit(sp.EventAccountRevoked, sp.AccountRevokedBody{Account: spotify.MaskKey(refreshKey)})
	if !m.config.PruneRevoked || m.store == nil {
		return
	}
	select {
	case m.revoked <- refreshKey:
	default:
		m.log.Warn("revoked account queue full", zap.String("account", spotify.MaskKey(refreshKey)))
	}
}

func (m *Module) lampApplied(c lighting.Color) {
	lamp := sp.LampColor{Hex: c.Hex(), X: c.XY.X, Y: c.XY.Y}
	m.mu.Lock()
	m.lamp = &lamp
	m.mu.Unlock()
	m.emit(sp.EventLampColor, lamp)
}

// emit queues an event followed by the refreshed retained state. It never
// blocks; when the outbox is full the message is dropped.
func (m *Module) emit(eventType string, body any) {
	evt, err := sp.NewEvent(eventType, m.clock.Now().Unix(), body)
	if err != nil {
		m.log.Error("build event", zap.String("type", eventType), zap.Error(err))
		return
	}
	m.enqueue(m.evtTopic, false, evt)
	m.enqueue(m.stateTopic, true, m.State())
}

func (m *Module) enqueue(topic string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.log.Error("marshal mqtt payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	select {
	case m.outbox <- outgoing{topic: topic, retained: retained, payload: payload}:
	default:
		m.log.Debug("mqtt outbox full, dropping", zap.String("topic", topic))
	}
}

func (m *Module) prune(refreshKey string) {
	settings, err := m.store.Load()
	if err != nil {
		m.log.Warn("load settings for prune", zap.Error(err))
		return
	}
	keys := make([]string, 0, len(settings.RefreshKeys))
	for _, key := range settings.RefreshKeys {
		if key != refreshKey {
			keys = append(keys, key)
		}
	}
	if len(keys) == len(settings.RefreshKeys) {
		return
	}
	settings.RefreshKeys = keys
	if err := m.store.Save(settings); err != nil {
		m.log.Warn("save settings after prune", zap.Error(err))
		return
	}
	m.log.Info("removed revoked account", zap.String("account", spotify.MaskKey(refreshKey)))
	m.Reload(settings)
}

func (m *Module) summary(settings ports.Settings) sp.ConfigSummary {
	out := sp.ConfigSummary{
		Rooms:    append([]string{}, settings.Rooms...),
		Accounts: make([]sp.AccountHint, 0, len(settings.RefreshKeys)),
	}
	for i, key := range settings.RefreshKeys {
		out.Accounts = append(out.Accounts, sp.AccountHint{Index: i, Hint: spotify.MaskKey(key)})
	}
	return out
}

func (m *Module) settings() (ports.Settings, error) {
	if m.store != nil {
		return m.store.Load()
	}
	return ports.Settings{
		RefreshKeys: m.engine.Tokens().Keys(),
		Rooms:       m.engine.Rooms(),
	}, nil
}

func (m *Module) saveSettings(settings ports.Settings) error {
	if m.store != nil {
		if err := m.store.Save(settings); err != nil {
			return err
		}
	}
	m.Reload(settings)
	return nil
}
