package storage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Channel is a YouTube channel snapshot as collected from the Data API and
// persisted between collection runs.
type Channel struct {
	// ChannelID is the canonical YouTube channel ID ("UC" + 22 chars).
	ChannelID string `json:"channel_id" bson:"channel_id"`
	// Name is the channel display name.
	Name string `json:"name" bson:"name"`
	// Description is the channel's description from YouTube.
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	// Subscribers is the public subscriber count.
	Subscribers int64 `json:"subscribers" bson:"subscribers"`
	// Views is the channel's lifetime view count.
	Views int64 `json:"views" bson:"views"`
	// TotalVideos is the number of public videos reported by YouTube.
	TotalVideos int64 `json:"total_videos" bson:"total_videos"`
	// UploadsPlaylistID is the "UU" playlist holding every upload of the channel.
	UploadsPlaylistID string `json:"uploads_playlist_id,omitempty" bson:"uploads_playlist_id,omitempty"`
	// Videos are the channel's collected videos.
	Videos []Video `json:"videos,omitempty" bson:"videos,omitempty"`
	// CreatedAt is when the channel was first persisted.
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
	// LastCollectedAt is when the last collection run for this channel finished.
	LastCollectedAt time.Time `json:"last_collected_at,omitempty" bson:"last_collected_at,omitempty"`
}

// Video is a single YouTube video with its engagement counters.
type Video struct {
	VideoID       string    `json:"video_id" bson:"video_id"`
	ChannelID     string    `json:"channel_id" bson:"channel_id"`
	Title         string    `json:"title" bson:"title"`
	Description   string    `json:"description,omitempty" bson:"description,omitempty"`
	Views         int64     `json:"views" bson:"views"`
	Likes         int64     `json:"likes" bson:"likes"`
	CommentCount  int64     `json:"comment_count" bson:"comment_count"`
	DislikeCount  int64     `json:"dislike_count" bson:"dislike_count"`
	FavoriteCount int64     `json:"favorite_count" bson:"favorite_count"`
	Duration      string    `json:"duration,omitempty" bson:"duration,omitempty"` // ISO-8601, e.g. "PT4M13S"
	PublishedAt   time.Time `json:"published_at" bson:"published_at"`

	Comments  []Comment  `json:"comments,omitempty" bson:"comments,omitempty"`
	Locations []Location `json:"locations,omitempty" bson:"locations,omitempty"`

	// Deltas are only set when a previous snapshot of the video existed.
	ViewDelta    *int64 `json:"view_delta,omitempty" bson:"view_delta,omitempty"`
	LikeDelta    *int64 `json:"like_delta,omitempty" bson:"like_delta,omitempty"`
	CommentDelta *int64 `json:"comment_delta,omitempty" bson:"comment_delta,omitempty"`

	LastRefreshed time.Time `json:"last_refreshed,omitempty" bson:"last_refreshed,omitempty"`
	RefreshCount  int       `json:"refresh_count" bson:"refresh_count"`
}

// Comment is a top-level comment or a reply on a video.
type Comment struct {
	CommentID string `json:"comment_id" bson:"comment_id"`
	VideoID   string `json:"video_id" bson:"video_id"`
	// ParentID is set for replies and names the top-level comment.
	ParentID    string    `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	Text        string    `json:"text" bson:"text"`
	AuthorName  string    `json:"author_name" bson:"author_name"`
	PublishedAt time.Time `json:"published_at" bson:"published_at"`
	LikeCount   int64     `json:"like_count" bson:"like_count"`
}

// Location is a place associated with a video.
type Location struct {
	Type       string    `json:"type" bson:"type"`
	Name       string    `json:"name" bson:"name"`
	Confidence float64   `json:"confidence" bson:"confidence"`
	Source     string    `json:"source" bson:"source"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// DefaultLocationSource tags locations that were derived automatically.
const DefaultLocationSource = "auto"

// NewLocation returns a Location with zero confidence and the "auto" source.
func NewLocation(typ, name string) Location {
	return Location{
		Type:      typ,
		Name:      name,
		Source:    DefaultLocationSource,
		CreatedAt: time.Now().UTC(),
	}
}

// isoDurationRegex matches ISO-8601 durations as returned by contentDetails.duration.
var isoDurationRegex = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// DurationSeconds converts the ISO-8601 duration to seconds.
// An empty duration is zero seconds.
func (v Video) DurationSeconds() (int, error) {
	return ParseDuration(v.Duration)
}

// ParseDuration converts an ISO-8601 duration like "PT1H2M3S" to seconds.
func ParseDuration(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	m := isoDurationRegex.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("%w: duration %q", ErrInvalidInput, s)
	}
	units := []int{24 * 3600, 3600, 60, 1}
	total := 0
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("%w: duration %q", ErrInvalidInput, s)
		}
		total += n * unit
	}
	return total, nil
}

// VideoIndex returns the channel's videos keyed by video ID.
func (c *Channel) VideoIndex() map[string]Video {
	if c == nil {
		return map[string]Video{}
	}
	idx := make(map[string]Video, len(c.Videos))
	for _, v := range c.Videos {
		idx[v.VideoID] = v
	}
	return idx
}

// CommentIndex returns the stored comment IDs per video. Videos that never
// had comments collected are left out.
func (c *Channel) CommentIndex() map[string]map[string]struct{} {
	idx := make(map[string]map[string]struct{})
	if c == nil {
		return idx
	}
	for _, v := range c.Videos {
		if len(v.Comments) == 0 {
			continue
		}
		ids := make(map[string]struct{}, len(v.Comments))
		for _, cm := range v.Comments {
			ids[cm.CommentID] = struct{}{}
		}
		idx[v.VideoID] = ids
	}
	return idx
}
