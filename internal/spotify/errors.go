package spotify

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnauthorized is returned when the API rejects an access token. The
// token is stale and should be refreshed before the next request.
var ErrUnauthorized = errors.New("spotify: access token rejected")

// AuthRefreshError reports a failed token refresh. Revoked is set when the
// refresh credential itself was rejected and the account has to be
// re-authorized.
type AuthRefreshError struct {
	RefreshKey string
	Revoked    bool
	Err        error
}

func (e *AuthRefreshError) Error() string {
	kind := "recoverable"
	if e.Revoked {
		kind = "credential revoked"
	}
	return fmt.Sprintf("spotify: refresh %s failed (%s): %v", MaskKey(e.RefreshKey), kind, e.Err)
}

func (e *AuthRefreshError) Unwrap() error { return e.Err }

// RateLimitError is returned on HTTP 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("spotify: rate limited, retry after %s", e.RetryAfter)
}

// TransientError covers 5xx responses and network failures.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("spotify: transport error: %v", e.Err)
	}
	return fmt.Sprintf("spotify: upstream error %d: %v", e.Status, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// APIError is any other non-success response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("spotify: api error %d", e.Status)
	}
	return fmt.Sprintf("spotify: api error %d: %s", e.Status, e.Message)
}

// IsRevoked reports whether err is a refresh failure caused by a revoked
// credential.
func IsRevoked(err error) bool {
	var authErr *AuthRefreshError
	return errors.As(err, &authErr) && authErr.Revoked
}

// RetryAfter extracts the backoff from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// MaskKey shortens a refresh credential for logs and UIs.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
