package spotispyd

import (
	"sync"

	"github.com/mikey-austin/spotispy/internal/ports"
)

// FileStore reads and writes the spotify section of a config file, leaving
// every other section untouched.
type FileStore struct {
	Path string

	mu sync.Mutex
}

// NewFileStore creates a store backed by the config file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load returns the configured accounts and rooms.
func (s *FileStore) Load() (ports.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := LoadConfig(s.Path)
	if err != nil {
		return ports.Settings{}, err
	}
	return ports.Settings{
		RefreshKeys: append([]string(nil), cfg.Spotify.RefreshKeys...),
		Rooms:       append([]string(nil), cfg.Spotify.Rooms...),
	}, nil
}

// Save replaces the accounts and rooms.
func (s *FileStore) Save(settings ports.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := LoadConfig(s.Path)
	if err != nil {
		return err
	}
	cfg.Spotify.RefreshKeys = settings.RefreshKeys
	cfg.Spotify.Rooms = settings.Rooms
	return SaveConfig(s.Path, cfg)
}
