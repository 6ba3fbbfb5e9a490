package lighting

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.yhsif.com/lifxlan"
	"go.yhsif.com/lifxlan/light"
)

const (
	lifxKelvin     = 3500
	lifxTransition = 500 * time.Millisecond
)

// LIFXLamp drives a LIFX bulb over the LAN protocol. The bulb is found by
// label on first use; an empty label takes the first bulb that answers.
type LIFXLamp struct {
	label   string
	timeout time.Duration

	mu     sync.Mutex
	device light.Device
}

// NewLIFXLamp creates a lamp for the bulb with the given label.
func NewLIFXLamp(label string, timeout time.Duration) *LIFXLamp {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LIFXLamp{label: label, timeout: timeout}
}

func (l *LIFXLamp) Name() string {
	return "lifx:" + l.label
}

// SetColor powers the bulb on and fades to the colour.
func (l *LIFXLamp) SetColor(ctx context.Context, c Color) error {
	dev, err := l.find(ctx)
	if err != nil {
		return err
	}
	conn, err := dev.Dial()
	if err != nil {
		l.forget()
		return fmt.Errorf("dial lifx %s: %w", l.label, err)
	}
	defer conn.Close()

	if err := dev.SetLightPower(ctx, conn, lifxlan.PowerOn, lifxTransition, false); err != nil {
		return err
	}
	color := lifxColor(c)
	return dev.SetColor(ctx, conn, &color, lifxTransition, false)
}

func lifxColor(c Color) lifxlan.Color {
	return lifxlan.Color{
		Hue:        uint16(c.H / 360.0 * math.MaxUint16),
		Saturation: uint16(c.S * math.MaxUint16),
		Brightness: uint16(c.V * math.MaxUint16),
		Kelvin:     lifxKelvin,
	}
}

func (l *LIFXLamp) forget() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.device = nil
}

func (l *LIFXLamp) find(ctx context.Context) (light.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.device != nil {
		return l.device, nil
	}

	discoverCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ch := make(chan lifxlan.Device)
	go func() {
		_ = lifxlan.Discover(discoverCtx, ch, "")
	}()

	for raw := range ch {
		if l.device != nil {
			continue
		}
		labelCtx, labelCancel := context.WithTimeout(ctx, 2*time.Second)
		ld, err := light.Wrap(labelCtx, raw, false)
		labelCancel()
		if err != nil {
			continue
		}
		if l.label == "" || ld.Label().String() == l.label {
			l.device = ld
			cancel()
		}
	}
	if l.device == nil {
		return nil, fmt.Errorf("lifx bulb %q not found", l.label)
	}
	return l.device, nil
}
