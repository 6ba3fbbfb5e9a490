package lighting

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/EdlinOrg/prominentcolor"
	"github.com/nfnt/resize"
)

const thumbnailSize = 200

// ColorSource picks the colour for a cover art URL.
type ColorSource interface {
	DominantColor(ctx context.Context, url string) (Color, error)
}

// Artwork downloads cover art and extracts its dominant colour.
type Artwork struct {
	http *http.Client
}

// NewArtwork creates an Artwork fetcher. A nil client gets a 5s timeout.
func NewArtwork(client *http.Client) *Artwork {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Artwork{http: client}
}

// Fetch downloads and decodes an image.
func (a *Artwork) Fetch(ctx context.Context, url string) (image.Image, error) {
	if url == "" {
		return nil, errors.New("empty artwork url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artwork fetch returned status %d", resp.StatusCode)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode artwork: %w", err)
	}
	return img, nil
}

// DominantColor fetches url and returns its most prominent colour.
func (a *Artwork) DominantColor(ctx context.Context, url string) (Color, error) {
	img, err := a.Fetch(ctx, url)
	if err != nil {
		return Color{}, err
	}
	r, g, b, err := DominantRGB(img)
	if err != nil {
		return Color{}, err
	}
	return NewColor(r, g, b), nil
}

// DominantRGB returns the largest k-means cluster of a downscaled copy of img.
func DominantRGB(img image.Image) (uint8, uint8, uint8, error) {
	if img == nil {
		return 0, 0, 0, errors.New("nil image")
	}
	thumb := resize.Thumbnail(thumbnailSize, thumbnailSize, img, resize.Bilinear)
	items, err := prominentcolor.KmeansWithAll(3, thumb, prominentcolor.ArgumentNoCropping, prominentcolor.DefaultSize, nil)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("prominent colour: %w", err)
	}
	if len(items) == 0 {
		return 0, 0, 0, errors.New("no colours found")
	}
	c := items[0].Color
	return uint8(c.R), uint8(c.G), uint8(c.B), nil
}
