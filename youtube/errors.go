package youtube

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"

	"ytsheets/cache"
	"ytsheets/internal/retry"
)

// Sentinel errors for channel resolution and fetching.
var (
	ErrChannelNotFound  = errors.New("youtube: channel not found")
	ErrInvalidReference = errors.New("youtube: invalid channel reference")
	ErrNoUploads        = errors.New("youtube: channel has no uploads playlist")
)

// ResolutionError reports a channel reference that could not be mapped to a
// canonical channel ID.
type ResolutionError struct {
	Reference string
	Err       error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Reference, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// FetchError reports a failure retrieving data for a resolved channel.
// Stage is one of "channel", "playlist" or "videos".
type FetchError struct {
	ChannelID string
	Stage     string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.ChannelID, e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient classifies errors for retry. Network failures, 5xx, 429 and
// per-second rate limit 403s are transient. Daily quota exhaustion, other
// 4xx, not-modified and lookups that found nothing are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, retry.ErrPermanent) ||
		errors.Is(err, cache.ErrNotModified) ||
		errors.Is(err, ErrChannelNotFound) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, context.Canceled) {
		return false
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 403 {
			for _, item := range gerr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					return true
				}
			}
			return strings.Contains(gerr.Message, "rateLimitExceeded")
		}
	}
	return retry.IsRetryable(err)
}
