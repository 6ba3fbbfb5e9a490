// Package lighting sets an ambient lamp to the dominant colour of the
// current cover art.
package lighting

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/spotispy/internal/playback"
)

// Driver reacts to song changes. Work happens on its own goroutine so the
// tracker is never blocked, and only the latest pending cover is processed.
type Driver struct {
	playback.NopNotifier

	log     *zap.Logger
	colors  ColorSource
	lamps   []Lamp
	timeout time.Duration
	pending chan string
	applied func(Color)
}

// NewDriver creates a driver for the given lamps.
func NewDriver(log *zap.Logger, colors ColorSource, lamps []Lamp, timeout time.Duration) *Driver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Driver{
		log:     log,
		colors:  colors,
		lamps:   lamps,
		timeout: timeout,
		pending: make(chan string, 1),
	}
}

// OnApplied registers a callback invoked after each colour is computed.
func (d *Driver) OnApplied(fn func(Color)) {
	d.applied = fn
}

// SongChanged queues the new cover art, replacing any pending one.
func (d *Driver) SongChanged(c playback.SongChange) {
	if c.CoverURL == "" {
		return
	}
	for {
		select {
		case d.pending <- c.CoverURL:
			return
		default:
		}
		select {
		case <-d.pending:
		default:
		}
	}
}

// Run processes queued covers until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case url := <-d.pending:
			d.apply(ctx, url)
		}
	}
}

func (d *Driver) apply(ctx context.Context, url string) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	color, err := d.colors.DominantColor(ctx, url)
	if err != nil {
		d.log.Warn("cover colour extraction failed", zap.String("url", url), zap.Error(err))
		return
	}
	if d.applied != nil {
		d.applied(color)
	}

	for _, lamp := range d.lamps {
		if err := lamp.SetColor(ctx, color); err != nil {
			d.log.Warn("lamp update failed", zap.String("lamp", lamp.Name()), zap.Error(err))
			continue
		}
		d.log.Debug("lamp updated",
			zap.String("lamp", lamp.Name()),
			zap.String("rgb", color.Hex()),
			zap.Float64("x", color.XY.X),
			zap.Float64("y", color.XY.Y),
		)
	}
}
