package collect

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ytcollect/delta"
	"ytcollect/storage"
)

// rawVideo mirrors the parts of a videos.list or playlistItems.list resource
// the pipeline reads. Counters stay untyped: the API sends them as strings.
type rawVideo struct {
	ID      any `json:"id"`
	Snippet *struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		PublishedAt string `json:"publishedAt"`
		ResourceID  *struct {
			VideoID string `json:"videoId"`
		} `json:"resourceId"`
	} `json:"snippet"`
	ContentDetails *struct {
		VideoID  string `json:"videoId"`
		Duration string `json:"duration"`
	} `json:"contentDetails"`
	Statistics *struct {
		ViewCount     any `json:"viewCount"`
		LikeCount     any `json:"likeCount"`
		DislikeCount  any `json:"dislikeCount"`
		FavoriteCount any `json:"favoriteCount"`
		CommentCount  any `json:"commentCount"`
	} `json:"statistics"`
}

// fixMissingCounters sets nil view, like and comment counters to zero.
func fixMissingCounters(records []VideoRecord) []VideoRecord {
	out := make([]VideoRecord, len(records))
	for i, rec := range records {
		for _, p := range []**int64{&rec.Views, &rec.Likes, &rec.CommentCount} {
			if *p == nil {
				zero := int64(0)
				*p = &zero
			}
		}
		out[i] = rec
	}
	return out
}

// normalize turns a provider record into a storage.Video. Problems that do
// not make the record unusable come back as notes for the debug trace.
func normalize(rec VideoRecord, channelID string) (storage.Video, []string, bool) {
	var notes []string
	v := storage.Video{
		VideoID:       rec.VideoID,
		ChannelID:     channelID,
		Title:         rec.Title,
		Description:   rec.Description,
		Duration:      rec.Duration,
		PublishedAt:   rec.PublishedAt,
		Views:         deref(rec.Views),
		Likes:         deref(rec.Likes),
		CommentCount:  deref(rec.CommentCount),
		DislikeCount:  deref(rec.DislikeCount),
		FavoriteCount: deref(rec.FavoriteCount),
	}

	if len(rec.Raw) > 0 {
		var raw rawVideo
		dec := json.NewDecoder(bytes.NewReader(rec.Raw))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			notes = append(notes, fmt.Sprintf("video %s: raw payload unreadable, using shaped fields: %v", rec.VideoID, err))
		} else {
			notes = append(notes, applyRaw(&v, raw)...)
		}
	}

	v.VideoID = strings.TrimSpace(v.VideoID)
	if v.VideoID == "" {
		notes = append(notes, "skipping video record without id")
		return storage.Video{}, notes, false
	}
	return v, notes, true
}

func applyRaw(v *storage.Video, raw rawVideo) []string {
	var notes []string
	if id, ok := raw.ID.(string); ok && id != "" {
		v.VideoID = id
	}
	if raw.ContentDetails != nil {
		if raw.ContentDetails.VideoID != "" {
			v.VideoID = raw.ContentDetails.VideoID
		}
		if raw.ContentDetails.Duration != "" {
			v.Duration = raw.ContentDetails.Duration
		}
	}
	if s := raw.Snippet; s != nil {
		if s.ResourceID != nil && s.ResourceID.VideoID != "" && v.VideoID == "" {
			v.VideoID = s.ResourceID.VideoID
		}
		if s.Title != "" {
			v.Title = s.Title
		}
		if s.Description != "" {
			v.Description = s.Description
		}
		if t, err := time.Parse(time.RFC3339, s.PublishedAt); err == nil {
			v.PublishedAt = t
		}
	}
	if st := raw.Statistics; st != nil {
		counters := []struct {
			name string
			in   any
			out  *int64
		}{
			{"views", st.ViewCount, &v.Views},
			{"likes", st.LikeCount, &v.Likes},
			{"comment_count", st.CommentCount, &v.CommentCount},
			{"dislike_count", st.DislikeCount, &v.DislikeCount},
			{"favorite_count", st.FavoriteCount, &v.FavoriteCount},
		}
		for _, c := range counters {
			if c.in == nil {
				continue
			}
			n, err := delta.Coerce(c.in)
			if err != nil {
				notes = append(notes, fmt.Sprintf("video %s: %s: %v", v.VideoID, c.name, err))
				continue
			}
			*c.out = n
		}
	}
	return notes
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
