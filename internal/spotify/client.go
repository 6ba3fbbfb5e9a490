// Package spotify talks to the Spotify Web API and accounts service on behalf
// of the monitored accounts.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultAccountsURL = "https://accounts.spotify.com"
	DefaultAPIURL      = "https://api.spotify.com"
)

// Config holds the client credential pair and endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	AccountsURL  string
	APIURL       string
	Timeout      time.Duration
	// Clock dates Retry-After values; the wall clock when nil.
	Clock Clock
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Client issues playback, control and token refresh requests.
type Client struct {
	cfg   Config
	http  *http.Client
	oauth oauth2.Config
}

// Playback is one account's view of what is currently playing.
type Playback struct {
	IsPlaying  bool
	DeviceName string
	TrackID    string
	Title      string
	Artists    []string
	CoverURL   string
	ProgressMS int64
	DurationMS int64
}

type playerResponse struct {
	IsPlaying  *bool `json:"is_playing"`
	ProgressMS int64 `json:"progress_ms"`
	Device     struct {
		Name string `json:"name"`
	} `json:"device"`
	Item *playerItem `json:"item"`
}

type playerItem struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	DurationMS int64     `json:"duration_ms"`
	Artists    []named   `json:"artists"`
	Album      imageSet  `json:"album"`
	Images     []image   `json:"images"`
	Show       *showInfo `json:"show"`
}

type named struct {
	Name string `json:"name"`
}

type image struct {
	URL string `json:"url"`
}

type imageSet struct {
	Images []image `json:"images"`
}

type showInfo struct {
	Name   string  `json:"name"`
	Images []image `json:"images"`
}

type apiErrorBody struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient builds a client. A nil httpClient gets a default with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg.AccountsURL = strings.TrimRight(strings.TrimSpace(cfg.AccountsURL), "/")
	if cfg.AccountsURL == "" {
		cfg.AccountsURL = DefaultAccountsURL
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AccountsURL + "/authorize",
				TokenURL:  cfg.AccountsURL + "/api/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
	}
}

// CurrentPlayback fetches GET /v1/me/player. It returns nil without error
// when the account has no active playback.
func (c *Client) CurrentPlayback(ctx context.Context, accessToken string) (*Playback, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIURL+"/v1/me/player", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, c.cfg.Clock.Now()); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var payload playerResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode player: %w", err)
	}
	if payload.IsPlaying == nil {
		return nil, nil
	}
	return payload.toPlayback(), nil
}

func (p playerResponse) toPlayback() *Playback {
	out := &Playback{
		IsPlaying:  *p.IsPlaying,
		DeviceName: p.Device.Name,
		ProgressMS: p.ProgressMS,
	}
	if p.Item == nil {
		return out
	}
	out.TrackID = p.Item.ID
	out.Title = p.Item.Name
	out.DurationMS = p.Item.DurationMS
	for _, artist := range p.Item.Artists {
		out.Artists = append(out.Artists, artist.Name)
	}
	images := p.Item.Album.Images
	if len(images) == 0 {
		images = p.Item.Images
	}
	if p.Item.Show != nil {
		if len(out.Artists) == 0 && p.Item.Show.Name != "" {
			out.Artists = []string{p.Item.Show.Name}
		}
		if len(images) == 0 {
			images = p.Item.Show.Images
		}
	}
	if len(images) > 0 {
		out.CoverURL = images[0].URL
	}
	return out
}

// RefreshToken exchanges a refresh credential for a new access token.
func (c *Client) RefreshToken(ctx context.Context, refreshKey string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshKey}).Token()
	if err != nil {
		return nil, classifyRefreshError(refreshKey, err)
	}
	return tok, nil
}

func classifyRefreshError(refreshKey string, err error) error {
	out := &AuthRefreshError{RefreshKey: refreshKey, Err: err}
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		if retrieve.ErrorCode == "invalid_grant" {
			out.Revoked = true
		}
	}
	return out
}

func checkStatus(resp *http.Response, now time.Time) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now)}
	case resp.StatusCode >= 500:
		return &TransientError{Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}
	var body apiErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return &APIError{Status: resp.StatusCode, Message: body.Error.Message}
}

func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}
