package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// API is the subset of the YouTube Data API v3 used here. Every method takes
// the ETag of a previously cached response; when the upstream confirms it is
// still current the method returns an error for which
// googleapi.IsNotModified is true.
type API interface {
	ChannelsByHandle(ctx context.Context, handle, etag string) (*youtube.ChannelListResponse, error)
	ChannelsByID(ctx context.Context, id, etag string) (*youtube.ChannelListResponse, error)
	SearchChannels(ctx context.Context, query, etag string) (*youtube.SearchListResponse, error)
	PlaylistItems(ctx context.Context, playlistID, pageToken string, maxResults int64, etag string) (*youtube.PlaylistItemListResponse, error)
	Videos(ctx context.Context, ids []string, etag string) (*VideoListPage, error)
}

// VideoListPage is a videos.list response decoded so that absent statistics
// stay distinguishable from zero.
type VideoListPage struct {
	Etag  string          `json:"etag"`
	Items []VideoResource `json:"items"`
}

// VideoResource is one videos.list item.
type VideoResource struct {
	ID             string                       `json:"id"`
	Snippet        *youtube.VideoSnippet        `json:"snippet,omitempty"`
	ContentDetails *youtube.VideoContentDetails `json:"contentDetails,omitempty"`
	Statistics     *Statistics                  `json:"statistics,omitempty"`
}

// Statistics mirrors the API's string-encoded counters. A nil field was
// absent upstream.
type Statistics struct {
	ViewCount    *string `json:"viewCount,omitempty"`
	LikeCount    *string `json:"likeCount,omitempty"`
	CommentCount *string `json:"commentCount,omitempty"`
}

// MaxPageSize is the largest page the Data API returns.
const MaxPageSize = 50

// DataAPI implements API over the generated youtube/v3 client.
type DataAPI struct {
	svc    *youtube.Service
	client *http.Client
	base   string
}

// NewDataAPI creates a Data API client over an authenticated HTTP client.
// Extra options (for example option.WithEndpoint in tests) are passed to the
// generated service.
func NewDataAPI(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*DataAPI, error) {
	if client == nil {
		return nil, fmt.Errorf("youtube: http client required")
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &DataAPI{svc: svc, client: client, base: svc.BasePath}, nil
}

func (a *DataAPI) ChannelsByHandle(ctx context.Context, handle, etag string) (*youtube.ChannelListResponse, error) {
	call := a.svc.Channels.List([]string{"id", "snippet"}).
		ForHandle(handle).
		Context(ctx)
	if etag != "" {
		call.IfNoneMatch(etag)
	}
	return call.Do()
}

func (a *DataAPI) ChannelsByID(ctx context.Context, id, etag string) (*youtube.ChannelListResponse, error) {
	call := a.svc.Channels.List([]string{"snippet", "contentDetails"}).
		Id(id).
		Context(ctx)
	if etag != "" {
		call.IfNoneMatch(etag)
	}
	return call.Do()
}

func (a *DataAPI) SearchChannels(ctx context.Context, query, etag string) (*youtube.SearchListResponse, error) {
	call := a.svc.Search.List([]string{"id", "snippet"}).
		Q(query).
		Type("channel").
		MaxResults(1).
		Context(ctx)
	if etag != "" {
		call.IfNoneMatch(etag)
	}
	return call.Do()
}

func (a *DataAPI) PlaylistItems(ctx context.Context, playlistID, pageToken string, maxResults int64, etag string) (*youtube.PlaylistItemListResponse, error) {
	call := a.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(playlistID).
		MaxResults(maxResults).
		Context(ctx)
	if pageToken != "" {
		call.PageToken(pageToken)
	}
	if etag != "" {
		call.IfNoneMatch(etag)
	}
	return call.Do()
}

// Videos issues videos.list directly so the statistics object can be decoded
// with presence information; the generated struct folds absent counters
// into zero.
func (a *DataAPI) Videos(ctx context.Context, ids []string, etag string) (*VideoListPage, error) {
	q := url.Values{}
	q.Set("part", "snippet,contentDetails,statistics")
	q.Set("id", strings.Join(ids, ","))
	q.Set("maxResults", fmt.Sprint(MaxPageSize))
	q.Set("alt", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleapi.ResolveRelative(a.base, "youtube/v3/videos")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, &googleapi.Error{Code: resp.StatusCode, Header: resp.Header}
	}
	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read videos.list: %w", err)
	}
	var page VideoListPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode videos.list: %w", err)
	}
	return &page, nil
}
