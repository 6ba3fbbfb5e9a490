package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	spotifyapi "github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
)

// Action is a transport control.
type Action string

const (
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionPause    Action = "pause"
)

// ParseAction accepts the action names and the short "prev" alias.
func ParseAction(value string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "next":
		return ActionNext, nil
	case "previous", "prev":
		return ActionPrevious, nil
	case "pause":
		return ActionPause, nil
	}
	return "", fmt.Errorf("unknown playback action %q", value)
}

// Control sends a transport control for the account owning accessToken.
func (c *Client) Control(ctx context.Context, accessToken string, action Action) error {
	api := c.api(ctx, accessToken)

	var err error
	switch action {
	case ActionNext:
		err = api.Next(ctx)
	case ActionPrevious:
		err = api.Previous(ctx)
	case ActionPause:
		err = api.Pause(ctx)
	default:
		return fmt.Errorf("unknown playback action %q", action)
	}
	if err != nil {
		return mapAPIError(err)
	}
	return nil
}

func (c *Client) api(ctx context.Context, accessToken string) *spotifyapi.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	return spotifyapi.New(oauth2.NewClient(ctx, src), spotifyapi.WithBaseURL(c.cfg.APIURL+"/v1/"))
}

func mapAPIError(err error) error {
	var apiErr spotifyapi.Error
	if !errors.As(err, &apiErr) {
		return &TransientError{Err: err}
	}
	switch {
	case apiErr.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case apiErr.Status == http.StatusTooManyRequests:
		return &RateLimitError{}
	case apiErr.Status >= 500:
		return &TransientError{Status: apiErr.Status, Err: apiErr}
	}
	return &APIError{Status: apiErr.Status, Message: apiErr.Message}
}
