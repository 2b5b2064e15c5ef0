// Package delta compares freshly collected entities with stored snapshots.
package delta

import (
	"sort"
	"time"

	"ytcollect/storage"
)

// VideoDelta partitions a fetch into videos seen before and videos that are new.
type VideoDelta struct {
	New     []storage.Video `json:"new_videos"`
	Updated []storage.Video `json:"updated_videos"`
}

// Apply returns videos in their original order with the annotated copies
// from d substituted by ID.
func (d VideoDelta) Apply(videos []storage.Video) []storage.Video {
	byID := make(map[string]storage.Video, len(d.New)+len(d.Updated))
	for _, v := range d.New {
		byID[v.VideoID] = v
	}
	for _, v := range d.Updated {
		byID[v.VideoID] = v
	}
	out := make([]storage.Video, len(videos))
	for i, v := range videos {
		if a, ok := byID[v.VideoID]; ok {
			out[i] = a
		} else {
			out[i] = v
		}
	}
	return out
}

// ChannelDelta is the change in channel-level counters.
type ChannelDelta struct {
	SubscriberDelta int64 `json:"subscriber_delta"`
	ViewDelta       int64 `json:"view_delta"`
	VideoCountDelta int64 `json:"video_count_delta"`
}

// CommentDelta lists comments not present in the stored snapshot.
type CommentDelta struct {
	NewComments   []storage.Comment `json:"new_comments"`
	VideosWithNew []string          `json:"videos_with_new_comments"`
}

// Engine computes deltas. The zero value is usable and stamps refreshes with time.Now.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an Engine using clock for refresh timestamps; nil means time.Now.
func NewEngine(clock func() time.Time) *Engine {
	return &Engine{now: clock}
}

func (e *Engine) clock() time.Time {
	if e == nil || e.now == nil {
		return time.Now().UTC()
	}
	return e.now()
}

// Videos partitions current against previous (keyed by video ID). Updated
// videos carry view, like and comment deltas and bump RefreshCount; new
// videos get no deltas and a RefreshCount of 1. Inputs are not modified.
func (e *Engine) Videos(current []storage.Video, previous map[string]storage.Video) VideoDelta {
	now := e.clock()
	d := VideoDelta{
		New:     []storage.Video{},
		Updated: []storage.Video{},
	}
	for _, v := range current {
		v.Comments = cloneComments(v.Comments)
		v.Locations = cloneLocations(v.Locations)
		v.LastRefreshed = now

		prev, ok := previous[v.VideoID]
		if !ok {
			v.ViewDelta, v.LikeDelta, v.CommentDelta = nil, nil, nil
			v.RefreshCount = 1
			d.New = append(d.New, v)
			continue
		}
		v.ViewDelta = ptr(v.Views - prev.Views)
		v.LikeDelta = ptr(v.Likes - prev.Likes)
		v.CommentDelta = ptr(v.CommentCount - prev.CommentCount)
		v.RefreshCount = prev.RefreshCount + 1
		d.Updated = append(d.Updated, v)
	}
	return d
}

// Channel compares current counters with the original snapshot.
func (e *Engine) Channel(current, original storage.Channel) ChannelDelta {
	return ChannelDelta{
		SubscriberDelta: current.Subscribers - original.Subscribers,
		ViewDelta:       current.Views - original.Views,
		VideoCountDelta: current.TotalVideos - original.TotalVideos,
	}
}

// Comments finds comments whose IDs are not in previous. Only videos present
// in both current and previous are compared; a video with no stored comment
// set has nothing to diff against.
func (e *Engine) Comments(current map[string][]storage.Comment, previous map[string]map[string]struct{}) CommentDelta {
	d := CommentDelta{
		NewComments:   []storage.Comment{},
		VideosWithNew: []string{},
	}

	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, videoID := range ids {
		seen, ok := previous[videoID]
		if !ok {
			continue
		}
		gained := false
		for _, c := range current[videoID] {
			if _, old := seen[c.CommentID]; old {
				continue
			}
			d.NewComments = append(d.NewComments, c)
			gained = true
		}
		if gained {
			d.VideosWithNew = append(d.VideosWithNew, videoID)
		}
	}
	return d
}

// CommentsByVideo groups the comments embedded in videos by video ID.
func CommentsByVideo(videos []storage.Video) map[string][]storage.Comment {
	out := make(map[string][]storage.Comment, len(videos))
	for _, v := range videos {
		out[v.VideoID] = v.Comments
	}
	return out
}

// Summary condenses the deltas of one run.
type Summary struct {
	NewVideos             int           `json:"new_videos"`
	UpdatedVideos         int           `json:"updated_videos"`
	TotalViewDelta        int64         `json:"total_view_delta"`
	TotalLikeDelta        int64         `json:"total_like_delta"`
	TotalCommentDelta     int64         `json:"total_comment_delta"`
	NewComments           int           `json:"new_comments"`
	VideosWithNewComments int           `json:"videos_with_new_comments"`
	Channel               *ChannelDelta `json:"channel,omitempty"`
}

// Summarize builds a Summary from whichever deltas were produced; nil
// arguments are skipped. It returns nil when all are nil.
func Summarize(v *VideoDelta, c *ChannelDelta, cm *CommentDelta) *Summary {
	if v == nil && c == nil && cm == nil {
		return nil
	}
	s := &Summary{Channel: c}
	if v != nil {
		s.NewVideos = len(v.New)
		s.UpdatedVideos = len(v.Updated)
		for _, u := range v.Updated {
			s.TotalViewDelta += deref(u.ViewDelta)
			s.TotalLikeDelta += deref(u.LikeDelta)
			s.TotalCommentDelta += deref(u.CommentDelta)
		}
	}
	if cm != nil {
		s.NewComments = len(cm.NewComments)
		s.VideosWithNewComments = len(cm.VideosWithNew)
	}
	return s
}

func ptr(n int64) *int64 { return &n }

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func cloneComments(in []storage.Comment) []storage.Comment {
	if in == nil {
		return nil
	}
	return append([]storage.Comment(nil), in...)
}

func cloneLocations(in []storage.Location) []storage.Location {
	if in == nil {
		return nil
	}
	return append([]storage.Location(nil), in...)
}
