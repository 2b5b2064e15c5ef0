package youtube

import (
	"context"
	"time"

	"google.golang.org/api/youtube/v3"

	"ytcollect/collect"
	"ytcollect/internal/retry"
	"ytcollect/quota"
)

// channel fetches one channels.list resource by ID.
func (c *Client) channel(ctx context.Context, channelID string, parts ...string) (*youtube.Channel, error) {
	var ch *youtube.Channel
	err := c.do(ctx, quota.OpChannelsList, func(ctx context.Context) error {
		resp, err := c.service.Channels.List(parts).Id(channelID).Context(ctx).Do()
		if err != nil {
			return err
		}
		if len(resp.Items) == 0 {
			return retry.Permanent(ErrChannelNotFound)
		}
		ch = resp.Items[0]
		return nil
	})
	return ch, err
}

// Info returns channel metadata and counters. A channel with a hidden
// subscriber count reports zero subscribers.
func (c *Client) Info(ctx context.Context, channelID string) (*collect.ChannelInfo, error) {
	ch, err := c.channel(ctx, channelID, "snippet", "statistics", "contentDetails")
	if err != nil {
		return nil, err
	}

	info := &collect.ChannelInfo{ChannelID: ch.Id}
	if s := ch.Snippet; s != nil {
		info.Title = s.Title
		info.Description = s.Description
		if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			info.PublishedAt = t
		}
	}
	if st := ch.Statistics; st != nil {
		info.Subscribers = int64(st.SubscriberCount)
		info.Views = int64(st.ViewCount)
		info.VideoCount = int64(st.VideoCount)
	}
	info.UploadsPlaylistID = uploads(ch)
	return info, nil
}

// UploadsPlaylistID returns the channel's uploads playlist as reported by
// the API. The value is not validated here.
func (c *Client) UploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	ch, err := c.channel(ctx, channelID, "contentDetails")
	if err != nil {
		return "", err
	}
	return uploads(ch), nil
}

func uploads(ch *youtube.Channel) string {
	if ch.ContentDetails == nil || ch.ContentDetails.RelatedPlaylists == nil {
		return ""
	}
	return ch.ContentDetails.RelatedPlaylists.Uploads
}
