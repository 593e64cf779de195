package youtube

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/youtube/v3"

	"ytsheets/internal/retry"
)

// fakeChannel is one channel served by fakeAPI.
type fakeChannel struct {
	id     string
	handle string
	title  string
	videos []fakeVideo
}

type fakeVideo struct {
	id       string
	title    string
	desc     string
	duration string
	views    string
	likes    *string
	comments string
}

// fakeAPI serves channels from memory. Responses carry a fixed ETag per
// request so conditional requests come back not-modified.
type fakeAPI struct {
	mu       sync.Mutex
	channels []fakeChannel
	searchOK map[string]string // query -> channel id
	calls    map[string]int
	notMod   map[string]int
	failFor  map[string]error // channel id -> error on channels.list
	etagSalt string
}

func newFakeAPI(chs ...fakeChannel) *fakeAPI {
	return &fakeAPI{
		channels: chs,
		searchOK: map[string]string{},
		calls:    map[string]int{},
		notMod:   map[string]int{},
		failFor:  map[string]error{},
	}
}

func (f *fakeAPI) record(endpoint, key, etag string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[endpoint]++
	want := fmt.Sprintf(`"%s|%s%s"`, endpoint, key, f.etagSalt)
	if etag == want {
		f.notMod[endpoint]++
		return want, true
	}
	return want, false
}

func notModified() error {
	return &googleapi.Error{Code: 304}
}

func (f *fakeAPI) count(endpoint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[endpoint]
}

func (f *fakeAPI) ChannelsByHandle(ctx context.Context, handle, etag string) (*youtube.ChannelListResponse, error) {
	tag, nm := f.record("channels.forHandle", handle, etag)
	if nm {
		return nil, notModified()
	}
	resp := &youtube.ChannelListResponse{Etag: tag}
	for _, ch := range f.channels {
		if ch.handle != "" && ch.handle == handle {
			resp.Items = append(resp.Items, &youtube.Channel{Id: ch.id})
		}
	}
	return resp, nil
}

func (f *fakeAPI) ChannelsByID(ctx context.Context, id, etag string) (*youtube.ChannelListResponse, error) {
	if err := f.failFor[id]; err != nil {
		f.mu.Lock()
		f.calls["channels.id"]++
		f.mu.Unlock()
		return nil, err
	}
	tag, nm := f.record("channels.id", id, etag)
	if nm {
		return nil, notModified()
	}
	resp := &youtube.ChannelListResponse{Etag: tag}
	for _, ch := range f.channels {
		if ch.id == id {
			resp.Items = append(resp.Items, &youtube.Channel{
				Id:      ch.id,
				Snippet: &youtube.ChannelSnippet{Title: ch.title},
				ContentDetails: &youtube.ChannelContentDetails{
					RelatedPlaylists: &youtube.ChannelContentDetailsRelatedPlaylists{Uploads: "UU" + ch.id[2:]},
				},
			})
		}
	}
	return resp, nil
}

func (f *fakeAPI) SearchChannels(ctx context.Context, query, etag string) (*youtube.SearchListResponse, error) {
	tag, nm := f.record("search", query, etag)
	if nm {
		return nil, notModified()
	}
	resp := &youtube.SearchListResponse{Etag: tag}
	if id, ok := f.searchOK[query]; ok {
		resp.Items = []*youtube.SearchResult{{Id: &youtube.ResourceId{Kind: "youtube#channel", ChannelId: id}}}
	}
	return resp, nil
}

func (f *fakeAPI) PlaylistItems(ctx context.Context, playlistID, pageToken string, maxResults int64, etag string) (*youtube.PlaylistItemListResponse, error) {
	tag, nm := f.record("playlistItems", playlistID+"|"+pageToken+"|"+strconv.FormatInt(maxResults, 10), etag)
	if nm {
		return nil, notModified()
	}
	var ch *fakeChannel
	for i := range f.channels {
		if "UU"+f.channels[i].id[2:] == playlistID {
			ch = &f.channels[i]
		}
	}
	if ch == nil {
		return nil, &googleapi.Error{Code: 404, Message: "playlistNotFound"}
	}
	start := 0
	if pageToken != "" {
		start, _ = strconv.Atoi(pageToken)
	}
	end := start + int(maxResults)
	if end > len(ch.videos) {
		end = len(ch.videos)
	}
	resp := &youtube.PlaylistItemListResponse{Etag: tag}
	for _, v := range ch.videos[start:end] {
		resp.Items = append(resp.Items, &youtube.PlaylistItem{
			ContentDetails: &youtube.PlaylistItemContentDetails{VideoId: v.id},
		})
	}
	if end < len(ch.videos) {
		resp.NextPageToken = strconv.Itoa(end)
	}
	return resp, nil
}

func (f *fakeAPI) Videos(ctx context.Context, ids []string, etag string) (*VideoListPage, error) {
	key := ""
	for _, id := range ids {
		key += id + ","
	}
	tag, nm := f.record("videos", key, etag)
	if nm {
		return nil, notModified()
	}
	if len(ids) > MaxPageSize {
		return nil, &googleapi.Error{Code: 400, Message: "too many ids"}
	}
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	page := &VideoListPage{Etag: tag}
	published := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, ch := range f.channels {
		for _, v := range ch.videos {
			if !want[v.id] {
				continue
			}
			views, comments := v.views, v.comments
			page.Items = append(page.Items, VideoResource{
				ID: v.id,
				Snippet: &youtube.VideoSnippet{
					Title:        v.title,
					Description:  v.desc,
					ChannelTitle: ch.title,
					PublishedAt:  published.Format(time.RFC3339),
				},
				ContentDetails: &youtube.VideoContentDetails{Duration: v.duration},
				Statistics:     &Statistics{ViewCount: &views, LikeCount: v.likes, CommentCount: &comments},
			})
		}
	}
	return page, nil
}

func strp(s string) *string { return &s }

// testChannelID builds a syntactically valid channel ID from a short suffix.
func testChannelID(suffix string) string {
	id := "UC" + suffix
	for len(id) < 24 {
		id += "x"
	}
	return id
}

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}
