package youtube

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var channelIDRe = regexp.MustCompile(`^UC[0-9A-Za-z_-]{22}$`)

// RefKind classifies a channel reference.
type RefKind int

const (
	// RefID is a canonical channel ID.
	RefID RefKind = iota
	// RefHandle is an @handle.
	RefHandle
	// RefName is a legacy custom or user name that can only be searched for.
	RefName
)

func (k RefKind) String() string {
	switch k {
	case RefID:
		return "id"
	case RefHandle:
		return "handle"
	case RefName:
		return "name"
	default:
		return "unknown"
	}
}

// IsChannelID reports whether s has the shape of a canonical channel ID.
func IsChannelID(s string) bool {
	return channelIDRe.MatchString(s)
}

// ParseReference classifies a channel reference: a canonical ID, an @handle,
// a bare handle, or a youtube.com URL containing /channel/ID, /@handle,
// /c/name or /user/name. Handles are returned without the leading "@".
func ParseReference(ref string) (RefKind, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return 0, "", ErrInvalidReference
	}
	if IsChannelID(ref) {
		return RefID, ref, nil
	}
	if strings.HasPrefix(ref, "@") {
		h := strings.TrimPrefix(ref, "@")
		if h == "" || strings.ContainsAny(h, "/ ") {
			return 0, "", ErrInvalidReference
		}
		return RefHandle, h, nil
	}

	if strings.Contains(ref, "youtube.com") {
		if !strings.Contains(ref, "://") {
			ref = "https://" + ref
		}
		u, err := url.Parse(ref)
		if err != nil {
			return 0, "", fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		switch {
		case len(segs) >= 2 && segs[0] == "channel" && IsChannelID(segs[1]):
			return RefID, segs[1], nil
		case len(segs) >= 1 && strings.HasPrefix(segs[0], "@") && len(segs[0]) > 1:
			return RefHandle, strings.TrimPrefix(segs[0], "@"), nil
		case len(segs) >= 2 && (segs[0] == "c" || segs[0] == "user") && segs[1] != "":
			return RefName, segs[1], nil
		}
		return 0, "", ErrInvalidReference
	}

	if strings.ContainsAny(ref, "/ ") {
		return 0, "", ErrInvalidReference
	}
	return RefHandle, ref, nil
}

// Resolver maps channel references to canonical channel IDs. Successful
// resolutions are memoised for the life of the Resolver; the underlying
// requests also go through the response cache.
type Resolver struct {
	client *Client
	log    zerolog.Logger

	mu   sync.Mutex
	memo map[string]string
}

// NewResolver creates a Resolver.
func NewResolver(client *Client) *Resolver {
	return &Resolver{
		client: client,
		log:    client.log,
		memo:   make(map[string]string),
	}
}

// Resolve returns the canonical channel ID for ref. IDs pass through without
// a network call. Handles use the forHandle lookup and fall back to a channel
// search; the legacy username lookup is never used. Failures are returned as
// *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	kind, value, err := ParseReference(ref)
	if err != nil {
		return "", &ResolutionError{Reference: ref, Err: err}
	}
	if kind == RefID {
		return value, nil
	}

	memoKey := kind.String() + ":" + strings.ToLower(value)
	r.mu.Lock()
	id, ok := r.memo[memoKey]
	r.mu.Unlock()
	if ok {
		return id, nil
	}

	if kind == RefHandle {
		id, err = r.byHandle(ctx, value)
		if err != nil {
			return "", &ResolutionError{Reference: ref, Err: err}
		}
	}
	if id == "" {
		r.log.Debug().Str("reference", ref).Msg("handle lookup empty, searching")
		id, err = r.bySearch(ctx, value)
		if err != nil {
			return "", &ResolutionError{Reference: ref, Err: err}
		}
	}

	r.mu.Lock()
	r.memo[memoKey] = id
	r.mu.Unlock()
	r.log.Info().Str("reference", ref).Str("channel", id).Msg("channel resolved")
	return id, nil
}

func (r *Resolver) byHandle(ctx context.Context, handle string) (string, error) {
	resp, err := r.client.channelsByHandle(ctx, handle)
	if err != nil {
		return "", err
	}
	for _, ch := range resp.Items {
		if ch != nil && ch.Id != "" {
			return ch.Id, nil
		}
	}
	return "", nil
}

func (r *Resolver) bySearch(ctx context.Context, query string) (string, error) {
	resp, err := r.client.searchChannels(ctx, query)
	if err != nil {
		return "", err
	}
	for _, item := range resp.Items {
		if item != nil && item.Id != nil && item.Id.ChannelId != "" {
			return item.Id.ChannelId, nil
		}
	}
	return "", ErrChannelNotFound
}
