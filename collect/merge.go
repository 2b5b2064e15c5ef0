package collect

import "ytcollect/storage"

// Merge combines a stored snapshot with freshly fetched data and returns a
// new Channel; neither input is modified and the result shares no slices
// with them.
//
// Fresh scalar values win unless empty. Videos only present in stored are
// kept after the fresh ones, without their old deltas. For videos in both, comments are unioned by ID
// (fresh first) and stored locations are kept when the fresh video has none.
func Merge(stored, fresh storage.Channel) storage.Channel {
	out := fresh
	if out.ChannelID == "" {
		out.ChannelID = stored.ChannelID
	}
	if out.Name == "" {
		out.Name = stored.Name
	}
	if out.Description == "" {
		out.Description = stored.Description
	}
	if out.UploadsPlaylistID == "" {
		out.UploadsPlaylistID = stored.UploadsPlaylistID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = stored.CreatedAt
	}
	if out.LastCollectedAt.IsZero() {
		out.LastCollectedAt = stored.LastCollectedAt
	}

	old := stored.VideoIndex()
	seen := make(map[string]bool, len(fresh.Videos))
	out.Videos = make([]storage.Video, 0, len(fresh.Videos)+len(stored.Videos))

	for _, v := range fresh.Videos {
		if seen[v.VideoID] {
			continue
		}
		seen[v.VideoID] = true
		merged := cloneVideo(v)
		if prev, ok := old[v.VideoID]; ok {
			merged.Comments = unionComments(v.Comments, prev.Comments)
			if len(merged.Locations) == 0 {
				merged.Locations = cloneLocations(prev.Locations)
			}
			if merged.Title == "" {
				merged.Title = prev.Title
			}
			if merged.Duration == "" {
				merged.Duration = prev.Duration
			}
			if merged.PublishedAt.IsZero() {
				merged.PublishedAt = prev.PublishedAt
			}
		}
		merged.ChannelID = out.ChannelID
		out.Videos = append(out.Videos, merged)
	}

	for _, v := range stored.Videos {
		if seen[v.VideoID] {
			continue
		}
		seen[v.VideoID] = true
		kept := cloneVideo(v)
		kept.ChannelID = out.ChannelID
		// Deltas belong to the run that computed them.
		kept.ViewDelta, kept.LikeDelta, kept.CommentDelta = nil, nil, nil
		out.Videos = append(out.Videos, kept)
	}
	return out
}

func unionComments(fresh, stored []storage.Comment) []storage.Comment {
	if len(fresh) == 0 && len(stored) == 0 {
		return nil
	}
	out := make([]storage.Comment, 0, len(fresh)+len(stored))
	ids := make(map[string]bool, len(fresh)+len(stored))
	for _, group := range [][]storage.Comment{fresh, stored} {
		for _, c := range group {
			if ids[c.CommentID] {
				continue
			}
			ids[c.CommentID] = true
			out = append(out, c)
		}
	}
	return out
}

func cloneVideo(v storage.Video) storage.Video {
	c := v
	if v.Comments != nil {
		c.Comments = append([]storage.Comment(nil), v.Comments...)
	}
	c.Locations = cloneLocations(v.Locations)
	c.ViewDelta = clonePtr(v.ViewDelta)
	c.LikeDelta = clonePtr(v.LikeDelta)
	c.CommentDelta = clonePtr(v.CommentDelta)
	return c
}

func cloneLocations(in []storage.Location) []storage.Location {
	if in == nil {
		return nil
	}
	return append([]storage.Location(nil), in...)
}

func clonePtr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	n := *p
	return &n
}
