// Package collect runs the staged collection of one YouTube channel:
// channel info, uploads playlist, videos, then comments. Each stage may fail
// on its own; failures are recorded on the Result and earlier data is kept.
package collect

import (
	"context"
	"encoding/json"
	"time"

	"ytcollect/storage"
)

// ChannelInfo is the channel metadata returned by a ChannelProvider.
type ChannelInfo struct {
	ChannelID   string
	Title       string
	Description string
	Subscribers int64
	Views       int64
	VideoCount  int64
	PublishedAt time.Time
	// UploadsPlaylistID is whatever the info response embedded. The pipeline
	// ignores it and asks UploadsPlaylistID instead.
	UploadsPlaylistID string
}

// VideoRecord is one video as returned by a VideoProvider. Counters are
// nil when the provider did not receive them. When Raw holds the unprocessed
// API resource, fields derived from it take precedence.
type VideoRecord struct {
	VideoID       string
	Title         string
	Description   string
	Duration      string
	PublishedAt   time.Time
	Views         *int64
	Likes         *int64
	CommentCount  *int64
	DislikeCount  *int64
	FavoriteCount *int64
	Raw           json.RawMessage
}

// VideoBatch is the outcome of one CollectChannelVideos call.
type VideoBatch struct {
	Videos        []VideoRecord
	QuotaUsed     int
	VideosFetched int
}

// ChannelProvider fetches channel-level data.
type ChannelProvider interface {
	// Info returns nil (or an error) when the channel cannot be read.
	Info(ctx context.Context, channelID string) (*ChannelInfo, error)
	UploadsPlaylistID(ctx context.Context, channelID string) (string, error)
}

// VideoProvider lists the videos of an uploads playlist with their statistics.
type VideoProvider interface {
	CollectChannelVideos(ctx context.Context, playlistID string, maxResults int) (*VideoBatch, error)
}

// CommentProvider returns the given videos with comments (and replies) embedded.
type CommentProvider interface {
	CollectForVideos(ctx context.Context, videos []storage.Video, maxCommentsPerVideo, maxRepliesPerComment int) ([]storage.Video, error)
}

// SnapshotStore reads the previously persisted snapshot of a channel.
type SnapshotStore interface {
	GetChannel(ctx context.Context, channelID string) (*storage.Channel, error)
}
