// Package youtubetest provides an in-memory youtube.API for tests of code
// built on top of the youtube package.
package youtubetest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"

	"ytsheets/youtube"
)

// Video is one upload served by Fake.
type Video struct {
	ID          string
	Title       string
	Description string
	// Duration is ISO-8601, e.g. "PT1M5S".
	Duration  string
	Views     int64
	Likes     *int64
	Comments  int64
	Published time.Time
}

// Channel is one channel served by Fake.
type Channel struct {
	ID     string
	Handle string
	Title  string
	Videos []Video
}

// Fake serves channels from memory. Every response carries an ETag derived
// from the request, so a repeated conditional request is answered with 304.
type Fake struct {
	mu       sync.Mutex
	channels map[string]*Channel
	order    []string
	calls    map[string]int
	failFor  map[string]error

	// OnCall, when set, runs before every request with the endpoint name.
	OnCall func(endpoint string)
}

// New returns a Fake serving chs.
func New(chs ...Channel) *Fake {
	f := &Fake{
		channels: make(map[string]*Channel),
		calls:    make(map[string]int),
		failFor:  make(map[string]error),
	}
	for _, ch := range chs {
		f.Add(ch)
	}
	return f
}

// Add registers a channel.
func (f *Fake) Add(ch Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := ch
	if _, ok := f.channels[c.ID]; !ok {
		f.order = append(f.order, c.ID)
	}
	f.channels[c.ID] = &c
}

// Fail makes every channels.list call for id return err.
func (f *Fake) Fail(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFor[id] = err
}

// Calls returns how many requests reached endpoint.
func (f *Fake) Calls(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

// TotalCalls returns how many requests reached any endpoint.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// ChannelID pads suffix into a syntactically valid channel ID.
func ChannelID(suffix string) string {
	id := "UC" + suffix
	for len(id) < 24 {
		id += "x"
	}
	return id[:24]
}

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// UploadsPlaylist returns the uploads playlist ID the fake assigns a channel.
func UploadsPlaylist(channelID string) string {
	return "UU" + strings.TrimPrefix(channelID, "UC")
}

func (f *Fake) enter(ctx context.Context, endpoint, key, etag string) (string, error) {
	if hook := f.OnCall; hook != nil {
		hook(endpoint)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.calls[endpoint]++
	f.mu.Unlock()

	tag := fmt.Sprintf(`"%s|%s"`, endpoint, key)
	if etag != "" && etag == tag {
		return tag, &googleapi.Error{Code: 304}
	}
	return tag, nil
}

func (f *Fake) ChannelsByHandle(ctx context.Context, handle, etag string) (*yt.ChannelListResponse, error) {
	tag, err := f.enter(ctx, "channels.forHandle", handle, etag)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &yt.ChannelListResponse{Etag: tag}
	for _, id := range f.order {
		ch := f.channels[id]
		if ch.Handle != "" && strings.EqualFold(ch.Handle, strings.TrimPrefix(handle, "@")) {
			resp.Items = append(resp.Items, &yt.Channel{Id: ch.ID})
		}
	}
	return resp, nil
}

func (f *Fake) ChannelsByID(ctx context.Context, id, etag string) (*yt.ChannelListResponse, error) {
	tag, err := f.enter(ctx, "channels.id", id, etag)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[id]; err != nil {
		return nil, err
	}
	resp := &yt.ChannelListResponse{Etag: tag}
	if ch, ok := f.channels[id]; ok {
		resp.Items = []*yt.Channel{{
			Id:      ch.ID,
			Snippet: &yt.ChannelSnippet{Title: ch.Title},
			ContentDetails: &yt.ChannelContentDetails{
				RelatedPlaylists: &yt.ChannelContentDetailsRelatedPlaylists{Uploads: UploadsPlaylist(ch.ID)},
			},
		}}
	}
	return resp, nil
}

func (f *Fake) SearchChannels(ctx context.Context, query, etag string) (*yt.SearchListResponse, error) {
	tag, err := f.enter(ctx, "search", query, etag)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &yt.SearchListResponse{Etag: tag}
	for _, id := range f.order {
		ch := f.channels[id]
		if strings.EqualFold(ch.Title, query) || strings.EqualFold(ch.Handle, query) {
			resp.Items = append(resp.Items, &yt.SearchResult{
				Id: &yt.ResourceId{Kind: "youtube#channel", ChannelId: ch.ID},
			})
		}
	}
	return resp, nil
}

func (f *Fake) PlaylistItems(ctx context.Context, playlistID, pageToken string, maxResults int64, etag string) (*yt.PlaylistItemListResponse, error) {
	key := playlistID + "|" + pageToken + "|" + strconv.FormatInt(maxResults, 10)
	tag, err := f.enter(ctx, "playlistItems", key, etag)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var ch *Channel
	for _, c := range f.channels {
		if UploadsPlaylist(c.ID) == playlistID {
			ch = c
		}
	}
	if ch == nil {
		return nil, &googleapi.Error{Code: 404, Message: "playlistNotFound"}
	}

	start := 0
	if pageToken != "" {
		start, _ = strconv.Atoi(pageToken)
	}
	end := min(start+int(maxResults), len(ch.Videos))
	resp := &yt.PlaylistItemListResponse{Etag: tag}
	for _, v := range ch.Videos[start:end] {
		resp.Items = append(resp.Items, &yt.PlaylistItem{
			ContentDetails: &yt.PlaylistItemContentDetails{VideoId: v.ID},
		})
	}
	if end < len(ch.Videos) {
		resp.NextPageToken = strconv.Itoa(end)
	}
	return resp, nil
}

func (f *Fake) Videos(ctx context.Context, ids []string, etag string) (*youtube.VideoListPage, error) {
	tag, err := f.enter(ctx, "videos", strings.Join(ids, ","), etag)
	if err != nil {
		return nil, err
	}
	if len(ids) > youtube.MaxPageSize {
		return nil, &googleapi.Error{Code: 400, Message: "too many ids"}
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	page := &youtube.VideoListPage{Etag: tag}
	for _, cid := range f.order {
		ch := f.channels[cid]
		for _, v := range ch.Videos {
			if !want[v.ID] {
				continue
			}
			published := v.Published
			if published.IsZero() {
				published = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			}
			views := strconv.FormatInt(v.Views, 10)
			comments := strconv.FormatInt(v.Comments, 10)
			var likes *string
			if v.Likes != nil {
				s := strconv.FormatInt(*v.Likes, 10)
				likes = &s
			}
			page.Items = append(page.Items, youtube.VideoResource{
				ID: v.ID,
				Snippet: &yt.VideoSnippet{
					ChannelId:    ch.ID,
					ChannelTitle: ch.Title,
					Title:        v.Title,
					Description:  v.Description,
					PublishedAt:  published.Format(time.RFC3339),
				},
				ContentDetails: &yt.VideoContentDetails{Duration: v.Duration},
				Statistics: &youtube.Statistics{
					ViewCount:    &views,
					LikeCount:    likes,
					CommentCount: &comments,
				},
			})
		}
	}
	return page, nil
}

var _ youtube.API = (*Fake)(nil)
