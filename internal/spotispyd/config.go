package spotispyd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for spotispyd.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Spotify  SpotifyConfig  `toml:"spotify"`
	Lighting LightingConfig `toml:"lighting"`
	Modules  ModulesConfig  `toml:"modules"`
}

// ServerConfig defines shared server settings.
type ServerConfig struct {
	Broker    string     `toml:"broker"`
	Identity  string     `toml:"identity"`
	TopicBase string     `toml:"topic_base"`
	LogLevel  string     `toml:"log_level"`
	LogFormat string     `toml:"log_format"`
	LogOutput string     `toml:"log_output"`
	LogSource bool       `toml:"log_source"`
	LogUTC    bool       `toml:"log_utc"`
	LogColor  bool       `toml:"log_color"`
	TLS       TLSConfig  `toml:"tls"`
	Auth      AuthConfig `toml:"auth"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// SpotifyConfig holds the application credentials, the ordered account list
// and the room allow-list.
type SpotifyConfig struct {
	ClientID           string   `toml:"client_id"`
	ClientSecret       string   `toml:"client_secret"`
	RefreshKeys        []string `toml:"refresh_keys"`
	Rooms              []string `toml:"rooms"`
	AccountsURL        string   `toml:"accounts_url"`
	APIURL             string   `toml:"api_url"`
	PollIntervalMS     int64    `toml:"poll_interval_ms"`
	ProgressIntervalMS int64    `toml:"progress_interval_ms"`
	RequestTimeoutMS   int64    `toml:"request_timeout_ms"`
}

// PollInterval returns the poll period, defaulting to 2s.
func (c SpotifyConfig) PollInterval() time.Duration {
	return millis(c.PollIntervalMS, 2*time.Second)
}

// ProgressInterval returns the progress period, defaulting to 1s.
func (c SpotifyConfig) ProgressInterval() time.Duration {
	return millis(c.ProgressIntervalMS, time.Second)
}

// RequestTimeout returns the per-request timeout, defaulting to 5s.
func (c SpotifyConfig) RequestTimeout() time.Duration {
	return millis(c.RequestTimeoutMS, 5*time.Second)
}

// LightingConfig configures the ambient lamp.
type LightingConfig struct {
	Enabled   bool   `toml:"enabled"`
	Backend   string `toml:"backend"`
	Bridge    string `toml:"bridge"`
	Username  string `toml:"username"`
	LightID   string `toml:"light_id"`
	Label     string `toml:"label"`
	TimeoutMS int64  `toml:"timeout_ms"`
}

// Timeout returns the lamp and artwork timeout, defaulting to 5s.
func (c LightingConfig) Timeout() time.Duration {
	return millis(c.TimeoutMS, 5*time.Second)
}

// ModulesConfig holds module configurations.
type ModulesConfig struct {
	NowPlaying   NowPlayingConfig   `toml:"nowplaying"`
	Remote       RemoteConfig       `toml:"remote"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
}

// NowPlayingConfig configures the playback reconciliation module.
type NowPlayingConfig struct {
	Enabled      bool   `toml:"enabled"`
	NodeID       string `toml:"node_id"`
	PruneRevoked bool   `toml:"prune_revoked"`
	WatchConfig  bool   `toml:"watch_config"`
}

// RemoteConfig configures the remote UI and OAuth callback server.
type RemoteConfig struct {
	Enabled   bool   `toml:"enabled"`
	Listen    string `toml:"listen"`
	PublicURI string `toml:"public_uri"`
	StaticDir string `toml:"static_dir"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// LoadConfig loads a config file from path.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path. The file is written next to the target and
// renamed into place so watchers never observe a partial file.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		return errors.New("config path required")
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".spotispyd-*.toml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "spotispy", "spotispyd.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "spotispy", "spotispyd.toml"), nil
}

func millis(ms int64, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
