package youtube

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxResults bounds a channel listing when the caller gives no limit.
const DefaultMaxResults = 50

// Fetcher retrieves a channel's uploads and hydrates them with statistics.
type Fetcher struct {
	client *Client
	log    zerolog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(client *Client) *Fetcher {
	return &Fetcher{client: client, log: client.log}
}

// Fetch returns up to maxResults of the channel's most recent uploads, newest
// first, each hydrated through videos.list. Videos the details endpoint does
// not return (private or deleted) are dropped rather than emitted with
// placeholder statistics. Errors are returned as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, channelID string, maxResults int) ([]Video, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	log := f.log.With().Str("channel", channelID).Logger()

	uploads, title, err := f.uploadsPlaylist(ctx, channelID)
	if err != nil {
		return nil, &FetchError{ChannelID: channelID, Stage: "channel", Err: err}
	}

	ids, err := f.listUploads(ctx, uploads, maxResults)
	if err != nil {
		return nil, &FetchError{ChannelID: channelID, Stage: "playlist", Err: err}
	}
	if len(ids) == 0 {
		log.Debug().Msg("uploads playlist empty")
		return nil, nil
	}

	details, err := f.hydrate(ctx, ids)
	if err != nil {
		return nil, &FetchError{ChannelID: channelID, Stage: "videos", Err: err}
	}

	videos := make([]Video, 0, len(ids))
	for _, id := range ids {
		res, ok := details[id]
		if !ok {
			log.Debug().Str("video", id).Msg("video not returned by videos.list, skipping")
			continue
		}
		videos = append(videos, buildVideo(res, channelID, title, log))
	}
	log.Debug().Int("listed", len(ids)).Int("hydrated", len(videos)).Msg("channel fetched")
	return videos, nil
}

func (f *Fetcher) uploadsPlaylist(ctx context.Context, channelID string) (string, string, error) {
	resp, err := f.client.channelsByID(ctx, channelID)
	if err != nil {
		return "", "", err
	}
	if len(resp.Items) == 0 || resp.Items[0] == nil {
		return "", "", ErrChannelNotFound
	}
	ch := resp.Items[0]
	if ch.ContentDetails == nil || ch.ContentDetails.RelatedPlaylists == nil || ch.ContentDetails.RelatedPlaylists.Uploads == "" {
		return "", "", ErrNoUploads
	}
	title := ""
	if ch.Snippet != nil {
		title = ch.Snippet.Title
	}
	return ch.ContentDetails.RelatedPlaylists.Uploads, title, nil
}

// listUploads pages through the playlist collecting unique video IDs.
func (f *Fetcher) listUploads(ctx context.Context, playlistID string, max int) ([]string, error) {
	ids := make([]string, 0, max)
	seen := make(map[string]struct{}, max)
	pageToken := ""

	for len(ids) < max {
		size := int64(max - len(ids))
		if size > MaxPageSize {
			size = MaxPageSize
		}
		page, err := f.client.playlistItems(ctx, playlistID, pageToken, size)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if item == nil {
				continue
			}
			id := ""
			if item.ContentDetails != nil {
				id = item.ContentDetails.VideoId
			}
			if id == "" && item.Snippet != nil && item.Snippet.ResourceId != nil {
				id = item.Snippet.ResourceId.VideoId
			}
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
			if len(ids) == max {
				break
			}
		}
		if page.NextPageToken == "" || len(page.Items) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	return ids, nil
}

// hydrate fetches details for ids in batches of MaxPageSize.
func (f *Fetcher) hydrate(ctx context.Context, ids []string) (map[string]VideoResource, error) {
	out := make(map[string]VideoResource, len(ids))
	for start := 0; start < len(ids); start += MaxPageSize {
		end := start + MaxPageSize
		if end > len(ids) {
			end = len(ids)
		}
		page, err := f.client.videos(ctx, ids[start:end])
		if err != nil {
			return nil, err
		}
		for _, res := range page.Items {
			out[res.ID] = res
		}
	}
	return out, nil
}

func buildVideo(res VideoResource, channelID, channelTitle string, log zerolog.Logger) Video {
	v := Video{
		ID:           res.ID,
		ChannelID:    channelID,
		ChannelTitle: channelTitle,
		URL:          WatchURL(res.ID),
	}
	if s := res.Snippet; s != nil {
		v.Title = s.Title
		v.Description = s.Description
		if s.ChannelTitle != "" {
			v.ChannelTitle = s.ChannelTitle
		}
		if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			v.PublishedAt = t
		}
	}
	if cd := res.ContentDetails; cd != nil && cd.Duration != "" {
		secs, err := ParseDuration(cd.Duration)
		if err != nil {
			log.Warn().Err(err).Str("video", res.ID).Msg("unparseable duration")
		}
		v.DurationSeconds = secs
	}
	if st := res.Statistics; st != nil {
		v.ViewCount = parseCount(st.ViewCount)
		v.CommentCount = parseCount(st.CommentCount)
		if st.LikeCount != nil {
			n := parseCount(st.LikeCount)
			v.LikeCount = &n
		}
	}
	return v
}

func parseCount(s *string) int64 {
	if s == nil {
		return 0
	}
	n, err := strconv.ParseInt(*s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
