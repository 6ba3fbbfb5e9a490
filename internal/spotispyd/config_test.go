package spotispyd

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "spotispyd.toml")
	data := []byte("" +
		"[server]\n" +
		"broker = \"mqtt://localhost\"\n" +
		"identity = \"spotispy-test\"\n" +
		"\n" +
		"[spotify]\n" +
		"client_id = \"cid\"\n" +
		"refresh_keys = [\"key-a\", \"key-b\"]\n" +
		"rooms = [\"Kitchen\"]\n" +
		"poll_interval_ms = 500\n" +
		"\n" +
		"[lighting]\n" +
		"enabled = true\n" +
		"backend = \"hue_xy\"\n" +
		"\n" +
		"[modules.nowplaying]\n" +
		"enabled = true\n" +
		"node_id = \"sp:nowplaying:test\"\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Broker != "mqtt://localhost" {
		t.Fatalf("expected broker")
	}
	if len(cfg.Spotify.RefreshKeys) != 2 || cfg.Spotify.RefreshKeys[1] != "key-b" {
		t.Fatalf("unexpected refresh keys: %v", cfg.Spotify.RefreshKeys)
	}
	if cfg.Spotify.PollInterval() != 500*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", cfg.Spotify.PollInterval())
	}
	if cfg.Spotify.ProgressInterval() != time.Second {
		t.Fatalf("expected default progress interval, got %v", cfg.Spotify.ProgressInterval())
	}
	if !cfg.Lighting.Enabled || cfg.Lighting.Backend != "hue_xy" {
		t.Fatalf("unexpected lighting config: %+v", cfg.Lighting)
	}
	if !cfg.Modules.NowPlaying.Enabled {
		t.Fatalf("expected nowplaying enabled")
	}
}

func TestLoadConfigRejectsDirectory(t *testing.T) {
	if _, err := LoadConfig(t.TempDir()); err == nil {
		t.Fatalf("expected error for directory")
	}
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSaveConfigReplacesFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "spotispyd.toml")

	cfg := Config{}
	cfg.Spotify.RefreshKeys = []string{"key-a"}
	cfg.Spotify.Rooms = []string{"Kitchen", "Office"}
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	cfg.Spotify.RefreshKeys = append(cfg.Spotify.RefreshKeys, "key-b")
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("save config again: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(loaded.Spotify.RefreshKeys) != 2 || len(loaded.Spotify.Rooms) != 2 {
		t.Fatalf("unexpected saved config: %+v", loaded.Spotify)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected mode: %v", info.Mode().Perm())
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("default config path: %v", err)
	}
	if path != filepath.Join("/tmp/xdg", "spotispy", "spotispyd.toml") {
		t.Fatalf("unexpected path: %s", path)
	}
}
