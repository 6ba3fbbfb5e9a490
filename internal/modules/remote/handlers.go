package remote

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/ports"
	"github.com/mikey-austin/spotispy/internal/spotify"
	"github.com/mikey-austin/spotispy/pkg/sp"
)

type configResponse struct {
	ClientID  string           `json:"clientId"`
	PublicURI string           `json:"publicUri"`
	Rooms     []string         `json:"rooms"`
	Accounts  []sp.AccountHint `json:"accounts"`
}

func (m *Module) configResponse(settings ports.Settings) configResponse {
	out := configResponse{
		ClientID:  m.config.ClientID,
		PublicURI: m.config.PublicURI,
		Rooms:     append([]string{}, settings.Rooms...),
		Accounts:  make([]sp.AccountHint, 0, len(settings.RefreshKeys)),
	}
	for i, key := range settings.RefreshKeys {
		out.Accounts = append(out.Accounts, sp.AccountHint{Index: i, Hint: spotify.MaskKey(key)})
	}
	return out
}

func (m *Module) getConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := m.store.Load()
	if err != nil {
		m.log.Warn("load settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "config unavailable")
		return
	}
	writeJSON(w, http.StatusOK, m.configResponse(settings))
}

func (m *Module) putRooms(w http.ResponseWriter, r *http.Request) {
	var body sp.RoomsSetBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
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

	settings, err := m.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config unavailable")
		return
	}
	settings.Rooms = rooms
	if err := m.store.Save(settings); err != nil {
		m.log.Warn("save settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "config not saved")
		return
	}
	m.log.Info("rooms updated", zap.Strings("rooms", rooms))
	writeJSON(w, http.StatusOK, m.configResponse(settings))
}

func (m *Module) deleteAccount(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid index")
		return
	}
	settings, err := m.store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config unavailable")
		return
	}
	if index < 0 || index >= len(settings.RefreshKeys) {
		writeError(w, http.StatusNotFound, "no such account")
		return
	}
	removed := settings.RefreshKeys[index]
	keys := append([]string{}, settings.RefreshKeys[:index]...)
	settings.RefreshKeys = append(keys, settings.RefreshKeys[index+1:]...)
	if err := m.store.Save(settings); err != nil {
		m.log.Warn("save settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "config not saved")
		return
	}
	m.log.Info("account removed", zap.String("account", spotify.MaskKey(removed)))
	writeJSON(w, http.StatusOK, m.configResponse(settings))
}

func (m *Module) getState(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(state)
}

// postPlayback forwards a transport control to the nowplaying node. The
// command is fire and forget; its outcome shows up in the state feed.
func (m *Module) postPlayback(w http.ResponseWriter, r *http.Request) {
	action, err := spotify.ParseAction(r.PathValue("action"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	cmd, err := sp.NewCommand("playback."+string(action), struct{}{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cmd.ID = m.ids.NewID()
	cmd.TS = m.clock.NowUnix()
	cmd.From = m.config.Identity

	payload, err := json.Marshal(cmd)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := m.bus.Publish(sp.TopicCommands(m.config.TopicBase, m.config.NodeID), 1, false, payload); err != nil {
		m.log.Warn("publish playback command", zap.String("action", string(action)), zap.Error(err))
		writeError(w, http.StatusBadGateway, "command not delivered")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": cmd.ID})
}
