package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mikey-austin/spotispy/internal/ports"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

type published struct {
	topic   string
	payload []byte
}

type fakeBus struct {
	mu       sync.Mutex
	messages []published
}

func (b *fakeBus) Publish(topic string, _ byte, _ bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, published{topic: topic, payload: payload})
	return nil
}

func (b *fakeBus) Subscribe(string, byte, paho.MessageHandler) error { return nil }
func (b *fakeBus) Unsubscribe(string) error                          { return nil }

type memStore struct {
	mu       sync.Mutex
	settings ports.Settings
}

func (s *memStore) Load() (ports.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ports.Settings{
		RefreshKeys: append([]string(nil), s.settings.RefreshKeys...),
		Rooms:       append([]string(nil), s.settings.Rooms...),
	}, nil
}

func (s *memStore) Save(settings ports.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

type fakeAuth struct {
	codes map[string]string
}

func (a fakeAuth) AuthURL(state string, _ ...oauth2.AuthCodeOption) string {
	return "https://accounts.example/authorize?state=" + url.QueryEscape(state)
}

func (a fakeAuth) Exchange(_ context.Context, code string, _ ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	refresh, ok := a.codes[code]
	if !ok {
		return nil, errors.New("invalid code")
	}
	return &oauth2.Token{AccessToken: "access", RefreshToken: refresh}, nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "id-" + string(rune('0'+s.n))
}

type fakeClock struct{ now int64 }

func (c *fakeClock) NowUnix() int64 { return c.now }

func newTestModule(t *testing.T, store *memStore) (*Module, *fakeBus, *fakeClock) {
	t.Helper()
	bus := &fakeBus{}
	clock := &fakeClock{now: 1_700_000_000}
	m, err := NewModule(zap.NewNop(), bus, store, fakeAuth{codes: map[string]string{"good": "new-refresh-key-9999"}}, &seqIDs{}, clock, Config{
		PublicURI: "http://pi.local:8888/",
		ClientID:  "cid",
		NodeID:    "sp:nowplaying:home",
	})
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	return m, bus, clock
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRedirectURL(t *testing.T) {
	if got := RedirectURL("http://pi.local:8888/"); got != "http://pi.local:8888/spotifycallback" {
		t.Fatalf("unexpected redirect url: %s", got)
	}
}

func TestLoginAndCallbackAddsAccount(t *testing.T) {
	store := &memStore{settings: ports.Settings{RefreshKeys: []string{"refresh-key-aaaa"}}}
	m, _, _ := newTestModule(t, store)
	h := m.Handler()

	rec := serve(h, http.MethodGet, "/login", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatalf("expected state in %s", loc)
	}

	rec = serve(h, http.MethodGet, "/spotifycallback?code=good&state="+url.QueryEscape(state), "")
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/#" {
		t.Fatalf("unexpected callback response: %d %s", rec.Code, rec.Header().Get("Location"))
	}
	if len(store.settings.RefreshKeys) != 2 || store.settings.RefreshKeys[1] != "new-refresh-key-9999" {
		t.Fatalf("unexpected keys: %v", store.settings.RefreshKeys)
	}

	// The state is single use.
	rec = serve(h, http.MethodGet, "/spotifycallback?code=good&state="+url.QueryEscape(state), "")
	if got := rec.Header().Get("Location"); got != "/#error=state_mismatch" {
		t.Fatalf("expected state mismatch on replay, got %s", got)
	}
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	store := &memStore{}
	m, _, _ := newTestModule(t, store)

	rec := serve(m.Handler(), http.MethodGet, "/spotifycallback?code=good&state=forged", "")
	if got := rec.Header().Get("Location"); got != "/#error=state_mismatch" {
		t.Fatalf("unexpected location: %s", got)
	}
	if len(store.settings.RefreshKeys) != 0 {
		t.Fatalf("expected no account added")
	}
}

func TestCallbackExpiredState(t *testing.T) {
	m, _, clock := newTestModule(t, &memStore{})
	h := m.Handler()

	rec := serve(h, http.MethodGet, "/login", "")
	loc, _ := url.Parse(rec.Header().Get("Location"))
	clock.now += int64((stateTTL + time.Minute) / time.Second)

	rec = serve(h, http.MethodGet, "/spotifycallback?code=good&state="+url.QueryEscape(loc.Query().Get("state")), "")
	if got := rec.Header().Get("Location"); got != "/#error=state_mismatch" {
		t.Fatalf("unexpected location: %s", got)
	}
}

func TestCallbackExchangeFailure(t *testing.T) {
	m, _, _ := newTestModule(t, &memStore{})
	h := m.Handler()

	rec := serve(h, http.MethodGet, "/login", "")
	loc, _ := url.Parse(rec.Header().Get("Location"))
	rec = serve(h, http.MethodGet, "/spotifycallback?code=bad&state="+url.QueryEscape(loc.Query().Get("state")), "")
	if got := rec.Header().Get("Location"); got != "/#error=exchange_failed" {
		t.Fatalf("unexpected location: %s", got)
	}
}

func TestConfigEndpoints(t *testing.T) {
	store := &memStore{settings: ports.Settings{RefreshKeys: []string{"refresh-key-aaaa", "refresh-key-bbbb"}, Rooms: []string{"Kitchen"}}}
	m, _, _ := newTestModule(t, store)
	h := m.Handler()

	rec := serve(h, http.MethodGet, "/api/config", "")
	var cfg configResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.ClientID != "cid" || cfg.PublicURI != "http://pi.local:8888" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Accounts) != 2 || cfg.Accounts[0].Hint != "****aaaa" {
		t.Fatalf("unexpected accounts: %+v", cfg.Accounts)
	}
	if strings.Contains(rec.Body.String(), "refresh-key") {
		t.Fatalf("credential leaked: %s", rec.Body.String())
	}

	rec = serve(h, http.MethodPut, "/api/config/rooms", `{"rooms":["Office"," Den ","Office"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put rooms: %d %s", rec.Code, rec.Body.String())
	}
	if len(store.settings.Rooms) != 2 || store.settings.Rooms[1] != "Den" {
		t.Fatalf("unexpected rooms: %v", store.settings.Rooms)
	}

	if rec := serve(h, http.MethodPut, "/api/config/rooms", `nope`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", rec.Code)
	}

	if rec := serve(h, http.MethodDelete, "/api/accounts/7", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", rec.Code)
	}
	if rec := serve(h, http.MethodDelete, "/api/accounts/0", ""); rec.Code != http.StatusOK {
		t.Fatalf("delete account: %d", rec.Code)
	}
	if len(store.settings.RefreshKeys) != 1 || store.settings.RefreshKeys[0] != "refresh-key-bbbb" {
		t.Fatalf("unexpected keys: %v", store.settings.RefreshKeys)
	}
}

func TestPlaybackPublishesCommand(t *testing.T) {
	m, bus, _ := newTestModule(t, &memStore{})
	h := m.Handler()

	rec := serve(h, http.MethodPost, "/api/playback/prev", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected accepted, got %d", rec.Code)
	}
	if len(bus.messages) != 1 || bus.messages[0].topic != "spotispy/v1/node/sp:nowplaying:home/cmd" {
		t.Fatalf("unexpected publishes: %+v", bus.messages)
	}
	var cmd sp.CommandEnvelope
	if err := json.Unmarshal(bus.messages[0].payload, &cmd); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cmd.Type != sp.CmdPlaybackPrevious || cmd.From != "remote" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if err := sp.ValidateCommandEnvelope(cmd); err != nil {
		t.Fatalf("invalid command: %v", err)
	}

	if rec := serve(h, http.MethodPost, "/api/playback/rewind", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected not found, got %d", rec.Code)
	}
}

func TestStateEndpoint(t *testing.T) {
	m, _, _ := newTestModule(t, &memStore{})
	h := m.Handler()

	if rec := serve(h, http.MethodGet, "/api/state", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected no content, got %d", rec.Code)
	}
	m.onState([]byte(`{"state":"playing"}`))
	rec := serve(h, http.MethodGet, "/api/state", "")
	if rec.Body.String() != `{"state":"playing"}` {
		t.Fatalf("unexpected state: %s", rec.Body.String())
	}
}

func TestWebsocketReceivesStateAndEvents(t *testing.T) {
	m, _, _ := newTestModule(t, &memStore{})
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	m.onState([]byte(`{"state":"paused"}`))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first sp.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if first.Type != sp.EventState || string(first.Body) != `{"state":"paused"}` {
		t.Fatalf("unexpected first message: %+v", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	m.hub.Broadcast([]byte(`{"type":"playback.paused","ts":1}`))

	var evt sp.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != sp.EventPlaybackPaused {
		t.Fatalf("unexpected event: %+v", evt)
	}
}

func TestNewModuleValidation(t *testing.T) {
	if _, err := NewModule(zap.NewNop(), &fakeBus{}, &memStore{}, fakeAuth{}, &seqIDs{}, &fakeClock{}, Config{}); err == nil {
		t.Fatalf("expected node id error")
	}
	if _, err := NewModule(zap.NewNop(), &fakeBus{}, nil, fakeAuth{}, &seqIDs{}, &fakeClock{}, Config{NodeID: "n"}); err == nil {
		t.Fatalf("expected store error")
	}
}
