package youtube

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/youtube/v3"

	"ytcollect/quota"
	"ytcollect/storage"
)

// maxCommentPage is the Data API maximum for commentThreads.list and comments.list.
const maxCommentPage = 100

// CollectForVideos fetches up to maxPerVideo top-level comments for each
// video (100 when maxPerVideo <= 0) and up to maxReplies replies per thread.
// Videos with comments disabled come back with no comments. The returned
// videos are copies of the input with Comments replaced.
func (c *Client) CollectForVideos(ctx context.Context, videos []storage.Video, maxPerVideo, maxReplies int) ([]storage.Video, error) {
	if maxPerVideo <= 0 {
		maxPerVideo = maxCommentPage
	}

	out := make([]storage.Video, 0, len(videos))
	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		comments, err := c.videoComments(ctx, v.VideoID, maxPerVideo, maxReplies)
		if err != nil {
			if isReason(err, "commentsDisabled") {
				c.logger.Debug().Str("video_id", v.VideoID).Msg("youtube: comments disabled")
				comments = []storage.Comment{}
			} else {
				return out, fmt.Errorf("video %s: %w", v.VideoID, err)
			}
		}
		v.Comments = comments
		out = append(out, v)
	}
	return out, nil
}

func (c *Client) videoComments(ctx context.Context, videoID string, limit, maxReplies int) ([]storage.Comment, error) {
	comments := []storage.Comment{}
	top := 0
	token := ""
	for top < limit {
		var resp *youtube.CommentThreadListResponse
		err := c.do(ctx, quota.OpCommentThreadsList, func(ctx context.Context) error {
			var err error
			resp, err = c.service.CommentThreads.List([]string{"snippet"}).
				VideoId(videoID).
				MaxResults(int64(min(maxCommentPage, limit-top))).
				TextFormat("plainText").
				PageToken(token).
				Context(ctx).
				Do()
			return err
		})
		if err != nil {
			return nil, err
		}

		for _, thread := range resp.Items {
			if thread.Snippet == nil || thread.Snippet.TopLevelComment == nil {
				continue
			}
			comments = append(comments, comment(thread.Snippet.TopLevelComment, videoID, ""))
			top++

			if maxReplies > 0 && thread.Snippet.TotalReplyCount > 0 {
				replies, err := c.replies(ctx, videoID, thread.Snippet.TopLevelComment.Id, maxReplies)
				if err != nil {
					return nil, err
				}
				comments = append(comments, replies...)
			}
			if top >= limit {
				break
			}
		}

		token = resp.NextPageToken
		if token == "" {
			break
		}
	}
	return comments, nil
}

// replies fetches one page of replies to parentID.
func (c *Client) replies(ctx context.Context, videoID, parentID string, limit int) ([]storage.Comment, error) {
	var out []storage.Comment
	err := c.do(ctx, quota.OpCommentsList, func(ctx context.Context) error {
		resp, err := c.service.Comments.List([]string{"snippet"}).
			ParentId(parentID).
			MaxResults(int64(min(maxCommentPage, limit))).
			TextFormat("plainText").
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		out = out[:0]
		for _, item := range resp.Items {
			out = append(out, comment(item, videoID, parentID))
		}
		return nil
	})
	return out, err
}

func comment(item *youtube.Comment, videoID, parentID string) storage.Comment {
	c := storage.Comment{CommentID: item.Id, VideoID: videoID, ParentID: parentID}
	if s := item.Snippet; s != nil {
		c.Text = s.TextOriginal
		if c.Text == "" {
			c.Text = s.TextDisplay
		}
		c.AuthorName = s.AuthorDisplayName
		c.LikeCount = s.LikeCount
		if c.ParentID == "" {
			c.ParentID = s.ParentId
		}
		if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			c.PublishedAt = t
		}
	}
	return c
}
