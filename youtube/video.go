// Package youtube resolves channel references and fetches fully hydrated
// upload listings from the YouTube Data API v3.
package youtube

import "time"

// DefaultShortsThreshold is the maximum duration classified as a Short.
const DefaultShortsThreshold = 60 * time.Second

// Video is one item of a channel's upload history with its statistics.
type Video struct {
	ID              string
	ChannelID       string
	ChannelTitle    string
	Title           string
	Description     string
	PublishedAt     time.Time
	DurationSeconds int64
	ViewCount       int64
	// LikeCount is nil when the channel hides likes.
	LikeCount    *int64
	CommentCount int64
	URL          string
}

// IsShort reports whether the video is short-form under threshold.
// Zero-length videos (live placeholders) are not Shorts.
func (v Video) IsShort(threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultShortsThreshold
	}
	return v.DurationSeconds > 0 && v.DurationSeconds <= int64(threshold/time.Second)
}

// WatchURL returns the canonical watch URL for a video ID.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
