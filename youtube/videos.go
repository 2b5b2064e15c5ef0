package youtube

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/api/youtube/v3"

	"ytcollect/collect"
	"ytcollect/quota"
)

// pageSize is the Data API maximum for playlistItems.list and videos.list.
const pageSize = 50

// CollectChannelVideos lists up to maxResults uploads from playlistID (all
// of them when maxResults <= 0) and fetches their statistics. QuotaUsed
// counts one unit per playlistItems page and per videos.list batch.
// Uploads that videos.list no longer returns are dropped.
func (c *Client) CollectChannelVideos(ctx context.Context, playlistID string, maxResults int) (*collect.VideoBatch, error) {
	batch := &collect.VideoBatch{Videos: []collect.VideoRecord{}}

	ids, pages, err := c.playlistVideoIDs(ctx, playlistID, maxResults)
	batch.QuotaUsed += pages * quota.Cost(quota.OpPlaylistItemsList)
	if err != nil {
		return batch, err
	}

	for start := 0; start < len(ids); start += pageSize {
		end := min(start+pageSize, len(ids))
		items, err := c.videos(ctx, ids[start:end])
		batch.QuotaUsed += quota.Cost(quota.OpVideosList)
		if err != nil {
			return batch, err
		}

		byID := make(map[string]*youtube.Video, len(items))
		for _, v := range items {
			byID[v.Id] = v
		}
		for _, id := range ids[start:end] {
			v, ok := byID[id]
			if !ok {
				c.logger.Debug().Str("video_id", id).Msg("youtube: upload missing from videos.list")
				continue
			}
			batch.Videos = append(batch.Videos, c.record(v))
		}
	}

	batch.VideosFetched = len(batch.Videos)
	c.logger.Debug().
		Str("playlist_id", playlistID).
		Int("videos", batch.VideosFetched).
		Int("quota_used", batch.QuotaUsed).
		Msg("youtube: collected uploads")
	return batch, nil
}

// playlistVideoIDs pages through playlistID. It returns the IDs in
// playlist order and the number of pages requested.
func (c *Client) playlistVideoIDs(ctx context.Context, playlistID string, maxResults int) ([]string, int, error) {
	var (
		ids   []string
		pages int
		token string
	)
	for {
		want := int64(pageSize)
		if maxResults > 0 {
			want = int64(min(pageSize, maxResults-len(ids)))
		}

		var resp *youtube.PlaylistItemListResponse
		err := c.do(ctx, quota.OpPlaylistItemsList, func(ctx context.Context) error {
			var err error
			resp, err = c.service.PlaylistItems.List([]string{"contentDetails"}).
				PlaylistId(playlistID).
				MaxResults(want).
				PageToken(token).
				Context(ctx).
				Do()
			return err
		})
		pages++
		if err != nil {
			return ids, pages, err
		}

		for _, item := range resp.Items {
			if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
				ids = append(ids, item.ContentDetails.VideoId)
			}
		}

		token = resp.NextPageToken
		if token == "" || (maxResults > 0 && len(ids) >= maxResults) {
			break
		}
	}
	if maxResults > 0 && len(ids) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, pages, nil
}

func (c *Client) videos(ctx context.Context, ids []string) ([]*youtube.Video, error) {
	var items []*youtube.Video
	err := c.do(ctx, quota.OpVideosList, func(ctx context.Context) error {
		resp, err := c.service.Videos.List([]string{"snippet", "contentDetails", "statistics"}).
			Id(ids...).
			MaxResults(int64(len(ids))).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		items = resp.Items
		return nil
	})
	return items, err
}

func (c *Client) record(v *youtube.Video) collect.VideoRecord {
	rec := collect.VideoRecord{VideoID: v.Id}
	if s := v.Snippet; s != nil {
		rec.Title = s.Title
		rec.Description = s.Description
		if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			rec.PublishedAt = t
		}
	}
	if cd := v.ContentDetails; cd != nil {
		rec.Duration = cd.Duration
	}
	if st := v.Statistics; st != nil {
		rec.Views = counter(st.ViewCount)
		rec.Likes = counter(st.LikeCount)
		rec.CommentCount = counter(st.CommentCount)
		rec.DislikeCount = counter(st.DislikeCount)
		rec.FavoriteCount = counter(st.FavoriteCount)
	}
	if c.embedRaw {
		if raw, err := json.Marshal(v); err == nil {
			rec.Raw = raw
		}
	}
	return rec
}

func counter(n uint64) *int64 {
	v := int64(n)
	return &v
}
