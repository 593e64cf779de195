package sheet

import (
	"time"

	"github.com/dustin/go-humanize"

	"ytsheets/youtube"
)

// Table column types understood by the Sheets tables feature.
const (
	TypeText     = "TEXT"
	TypeDate     = "DATE"
	TypeDouble   = "DOUBLE"
	TypeBoolean  = "BOOLEAN"
	TypeDateTime = "DATE_TIME"
)

// Column describes one destination column.
type Column struct {
	Name string
	Type string
}

// Column indexes, zero-based, in sheet order.
const (
	ColVideoID = iota
	ColChannel
	ColPublished
	ColType
	ColDuration
	ColTitle
	ColURL
	ColViews
	ColLikes
	ColComments
	ColReviewed
	ColAdded
	NumColumns
)

// Columns is the fixed 12-column schema.
var Columns = [NumColumns]Column{
	{"Video ID", TypeText},
	{"Channel", TypeText},
	{"Published", TypeDate},
	{"Type", TypeText},
	{"Duration", TypeText},
	{"Title", TypeText},
	{"URL", TypeText},
	{"Views", TypeDouble},
	{"Likes", TypeDouble},
	{"Comments", TypeDouble},
	{"Reviewed", TypeBoolean},
	{"Added", TypeDateTime},
}

// LastColumn is the A1 letter of the final schema column.
const LastColumn = "L"

// Rendering constants.
const (
	LikesUnknown = "N/A"
	TypeShort    = "Short"
	TypeLong     = "Long"
)

// Header returns the header row.
func Header() []any {
	row := make([]any, NumColumns)
	for i, c := range Columns {
		row[i] = c.Name
	}
	return row
}

// Row renders v as a sheet row. added is the write timestamp.
func Row(v youtube.Video, added time.Time, shortsThreshold time.Duration) []any {
	kind := TypeLong
	if v.IsShort(shortsThreshold) {
		kind = TypeShort
	}
	likes := LikesUnknown
	if v.LikeCount != nil {
		likes = FormatCount(*v.LikeCount)
	}
	published := ""
	if !v.PublishedAt.IsZero() {
		published = v.PublishedAt.UTC().Format("2006-01-02")
	}

	row := make([]any, NumColumns)
	row[ColVideoID] = v.ID
	row[ColChannel] = v.ChannelTitle
	row[ColPublished] = published
	row[ColType] = kind
	row[ColDuration] = youtube.FormatDuration(v.DurationSeconds)
	row[ColTitle] = v.Title
	row[ColURL] = v.URL
	row[ColViews] = FormatCount(v.ViewCount)
	row[ColLikes] = likes
	row[ColComments] = FormatCount(v.CommentCount)
	row[ColReviewed] = false
	row[ColAdded] = added.UTC().Format("2006-01-02 15:04:05")
	return row
}

// FormatCount renders n with grouping separators from 1000 upwards and as
// plain digits below: 999 -> "999", 1234 -> "1,234".
func FormatCount(n int64) string {
	return humanize.Comma(n)
}
