// Package filter applies user-configured inclusion predicates to fetched
// videos.
package filter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ytsheets/youtube"
)

// ErrFilterConfig is wrapped by every *ConfigError.
var ErrFilterConfig = errors.New("invalid filter configuration")

// ConfigError reports a contradictory or malformed filter setting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("filter %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrFilterConfig
}

// KeywordMode selects how Keywords are applied.
type KeywordMode string

const (
	// KeywordsOff ignores Keywords.
	KeywordsOff KeywordMode = ""
	// KeywordsInclude keeps only videos mentioning at least one keyword.
	KeywordsInclude KeywordMode = "include"
	// KeywordsExclude drops videos mentioning any keyword.
	KeywordsExclude KeywordMode = "exclude"
)

// Filters holds the predicates for one run. The zero value keeps everything.
type Filters struct {
	// MinDurationSeconds drops videos shorter than this.
	MinDurationSeconds int64 `json:"min_duration_seconds,omitempty"`
	// ExcludeShorts drops short-form videos.
	ExcludeShorts bool `json:"exclude_shorts,omitempty"`
	// ShortsThreshold overrides youtube.DefaultShortsThreshold.
	ShortsThreshold time.Duration `json:"shorts_threshold,omitempty"`
	// Keywords are matched case-insensitively against title and description.
	Keywords    []string    `json:"keywords,omitempty"`
	KeywordMode KeywordMode `json:"keyword_mode,omitempty"`
	// MinViews drops videos with fewer views.
	MinViews int64 `json:"min_views,omitempty"`
	// MinLikes drops videos with fewer likes; hidden likes never pass.
	MinLikes int64 `json:"min_likes,omitempty"`
	// PublishedAfter drops videos published at or before this instant.
	PublishedAfter time.Time `json:"published_after,omitempty"`
}

// Validate rejects malformed settings before any network call is made.
func (f Filters) Validate() error {
	if f.MinDurationSeconds < 0 {
		return &ConfigError{Field: "min_duration_seconds", Reason: "must not be negative"}
	}
	if f.ShortsThreshold < 0 {
		return &ConfigError{Field: "shorts_threshold", Reason: "must not be negative"}
	}
	if f.MinViews < 0 {
		return &ConfigError{Field: "min_views", Reason: "must not be negative"}
	}
	if f.MinLikes < 0 {
		return &ConfigError{Field: "min_likes", Reason: "must not be negative"}
	}
	switch f.KeywordMode {
	case KeywordsOff:
		if len(f.Keywords) > 0 {
			return &ConfigError{Field: "keyword_mode", Reason: "keywords given without include or exclude mode"}
		}
	case KeywordsInclude, KeywordsExclude:
	default:
		return &ConfigError{Field: "keyword_mode", Reason: fmt.Sprintf("unknown mode %q", f.KeywordMode)}
	}
	for _, kw := range f.Keywords {
		if strings.TrimSpace(kw) == "" {
			return &ConfigError{Field: "keywords", Reason: "empty keyword"}
		}
	}
	return nil
}

// ParseKeywordMode maps user input to a KeywordMode.
func ParseKeywordMode(s string) (KeywordMode, error) {
	switch m := KeywordMode(strings.ToLower(strings.TrimSpace(s))); m {
	case KeywordsOff, KeywordsInclude, KeywordsExclude:
		return m, nil
	case "none", "off":
		return KeywordsOff, nil
	default:
		return "", &ConfigError{Field: "keyword_mode", Reason: fmt.Sprintf("unknown mode %q", s)}
	}
}

// Apply returns the videos that pass every configured predicate, in input
// order. It does not modify videos.
func Apply(videos []youtube.Video, f Filters) []youtube.Video {
	keywords := make([]string, 0, len(f.Keywords))
	for _, kw := range f.Keywords {
		keywords = append(keywords, strings.ToLower(strings.TrimSpace(kw)))
	}

	out := make([]youtube.Video, 0, len(videos))
	for _, v := range videos {
		if keep(v, f, keywords) {
			out = append(out, v)
		}
	}
	return out
}

func keep(v youtube.Video, f Filters, keywords []string) bool {
	if v.DurationSeconds < f.MinDurationSeconds {
		return false
	}
	if f.ExcludeShorts && v.IsShort(f.ShortsThreshold) {
		return false
	}
	if f.MinViews > 0 && v.ViewCount < f.MinViews {
		return false
	}
	if f.MinLikes > 0 && (v.LikeCount == nil || *v.LikeCount < f.MinLikes) {
		return false
	}
	if !f.PublishedAfter.IsZero() && !v.PublishedAt.After(f.PublishedAfter) {
		return false
	}

	if len(keywords) == 0 {
		return true
	}
	switch f.KeywordMode {
	case KeywordsInclude:
		return mentions(v, keywords)
	case KeywordsExclude:
		return !mentions(v, keywords)
	}
	return true
}

func mentions(v youtube.Video, keywords []string) bool {
	text := strings.ToLower(v.Title + "\n" + v.Description)
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
