package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtube/v3"

	"ytsheets/cache"
	"ytsheets/internal/logging"
	"ytsheets/internal/retry"
	"ytsheets/quota"
)

// Client runs API calls through the response cache, the quota tracker and
// bounded retries. It is safe for concurrent use; all shared state lives in
// the injected cache and tracker.
type Client struct {
	api   API
	cache *cache.ResponseCache
	quota *quota.Tracker
	retry retry.Config
	log   zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithCache enables ETag revalidation through c.
func WithCache(c *cache.ResponseCache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithQuota charges every request to t.
func WithQuota(t *quota.Tracker) Option {
	return func(cl *Client) { cl.quota = t }
}

// WithRetry overrides the retry configuration.
func WithRetry(cfg retry.Config) Option {
	return func(cl *Client) { cl.retry = cfg }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// NewClient wraps api.
func NewClient(api API, opts ...Option) *Client {
	c := &Client{
		api:   api,
		retry: retry.DefaultConfig(),
		log:   logging.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request describes one cacheable API call.
type request struct {
	endpoint string
	params   map[string]string
	cost     int
	// do performs the call, sending etag as If-None-Match when non-empty,
	// and returns the response value and its ETag.
	do func(ctx context.Context, etag string) (any, string, error)
}

// call executes req and decodes the (fresh or revalidated) payload into out.
func (c *Client) call(ctx context.Context, req request, out any) error {
	key := cache.Key(req.endpoint, req.params)

	fetch := func(ctx context.Context, validator string) ([]byte, string, error) {
		var (
			resp any
			etag string
		)
		err := retry.Do(ctx, c.retry, IsTransient, func(ctx context.Context) error {
			r, e, err := req.do(ctx, validator)
			c.charge(req.cost, err)
			if err != nil {
				if googleapi.IsNotModified(err) {
					return retry.Permanent(cache.ErrNotModified)
				}
				return err
			}
			resp, etag = r, e
			return nil
		})
		if err != nil {
			if errors.Is(err, cache.ErrNotModified) {
				return nil, "", cache.ErrNotModified
			}
			return nil, "", err
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return nil, "", fmt.Errorf("encode %s response: %w", req.endpoint, err)
		}
		return data, etag, nil
	}

	var (
		payload []byte
		hit     bool
		err     error
	)
	if c.cache != nil {
		payload, hit, err = c.cache.Revalidate(ctx, key, fetch)
	} else {
		payload, _, err = fetch(ctx, "")
	}
	if err != nil {
		return err
	}
	c.log.Debug().Str("endpoint", req.endpoint).Bool("cache_hit", hit).Int("units", req.cost).Msg("api call")

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.endpoint, err)
	}
	return nil
}

// charge bills an attempt that reached the API. Transport failures that never
// produced a response are not billed.
func (c *Client) charge(cost int, err error) {
	if c.quota == nil {
		return
	}
	var gerr *googleapi.Error
	if err == nil || errors.As(err, &gerr) {
		c.quota.Consume(cost)
	}
}

func (c *Client) channelsByHandle(ctx context.Context, handle string) (*youtube.ChannelListResponse, error) {
	var out youtube.ChannelListResponse
	err := c.call(ctx, request{
		endpoint: "channels.list",
		params:   map[string]string{"forHandle": handle},
		cost:     quota.CostChannelsList,
		do: func(ctx context.Context, etag string) (any, string, error) {
			r, err := c.api.ChannelsByHandle(ctx, handle, etag)
			if err != nil {
				return nil, "", err
			}
			return r, r.Etag, nil
		},
	}, &out)
	return &out, err
}

func (c *Client) channelsByID(ctx context.Context, id string) (*youtube.ChannelListResponse, error) {
	var out youtube.ChannelListResponse
	err := c.call(ctx, request{
		endpoint: "channels.list",
		params:   map[string]string{"id": id},
		cost:     quota.CostChannelsList,
		do: func(ctx context.Context, etag string) (any, string, error) {
			r, err := c.api.ChannelsByID(ctx, id, etag)
			if err != nil {
				return nil, "", err
			}
			return r, r.Etag, nil
		},
	}, &out)
	return &out, err
}

func (c *Client) searchChannels(ctx context.Context, query string) (*youtube.SearchListResponse, error) {
	var out youtube.SearchListResponse
	err := c.call(ctx, request{
		endpoint: "search.list",
		params:   map[string]string{"q": query, "type": "channel"},
		cost:     quota.CostSearchList,
		do: func(ctx context.Context, etag string) (any, string, error) {
			r, err := c.api.SearchChannels(ctx, query, etag)
			if err != nil {
				return nil, "", err
			}
			return r, r.Etag, nil
		},
	}, &out)
	return &out, err
}

func (c *Client) playlistItems(ctx context.Context, playlistID, pageToken string, max int64) (*youtube.PlaylistItemListResponse, error) {
	var out youtube.PlaylistItemListResponse
	err := c.call(ctx, request{
		endpoint: "playlistItems.list",
		params: map[string]string{
			"playlistId": playlistID,
			"pageToken":  pageToken,
			"maxResults": fmt.Sprint(max),
		},
		cost: quota.CostPlaylistItemsList,
		do: func(ctx context.Context, etag string) (any, string, error) {
			r, err := c.api.PlaylistItems(ctx, playlistID, pageToken, max, etag)
			if err != nil {
				return nil, "", err
			}
			return r, r.Etag, nil
		},
	}, &out)
	return &out, err
}

func (c *Client) videos(ctx context.Context, ids []string) (*VideoListPage, error) {
	var out VideoListPage
	joined := strings.Join(ids, ",")
	err := c.call(ctx, request{
		endpoint: "videos.list",
		params:   map[string]string{"id": joined},
		cost:     quota.CostVideosList,
		do: func(ctx context.Context, etag string) (any, string, error) {
			r, err := c.api.Videos(ctx, ids, etag)
			if err != nil {
				return nil, "", err
			}
			return r, r.Etag, nil
		},
	}, &out)
	return &out, err
}
