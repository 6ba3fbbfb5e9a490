package lighting

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Lamp backends.
const (
	BackendHueHS   = "hue_hs"
	BackendHueXY   = "hue_xy"
	BackendOpenHue = "openhue"
	BackendLIFX    = "lifx"
)

// Lamp is one light that can be set to a colour.
type Lamp interface {
	Name() string
	SetColor(ctx context.Context, c Color) error
}

// LampConfig selects and configures a backend.
type LampConfig struct {
	Backend  string
	Bridge   string
	Username string
	LightID  string
	Label    string
	Timeout  time.Duration
}

// discoverBridge is swapped in tests.
var discoverBridge = DiscoverBridge

// OpenLamp builds the configured lamp. Hue backends without a bridge address
// look one up over mDNS.
func OpenLamp(cfg LampConfig, client *http.Client) (Lamp, error) {
	switch cfg.Backend {
	case BackendHueHS, BackendHueXY, BackendOpenHue:
		if cfg.Bridge == "" {
			addr, err := discoverBridge(cfg.Timeout)
			if err != nil {
				return nil, fmt.Errorf("discover hue bridge: %w", err)
			}
			cfg.Bridge = addr
		}
		if cfg.Backend == BackendOpenHue {
			return NewOpenHueLamp(cfg.Bridge, cfg.Username, cfg.LightID, client)
		}
		return NewHueV1Lamp(cfg.Bridge, cfg.Username, cfg.LightID, cfg.Backend == BackendHueXY, client)
	case BackendLIFX:
		return NewLIFXLamp(cfg.Label, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown lighting backend %q", cfg.Backend)
	}
}
