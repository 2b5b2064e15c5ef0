package collect

import (
	"encoding/json"
	"strings"
	"time"

	"ytcollect/delta"
	"ytcollect/storage"
)

// Result accumulates everything one run produced. It is owned by a single
// run until handed to the caller.
type Result struct {
	RunID     string `json:"run_id"`
	ChannelID string `json:"channel_id"`
	// Channel is the freshly fetched channel (api_data), without videos.
	Channel *storage.Channel `json:"api_data,omitempty"`
	// PlaylistID is the validated uploads playlist, empty if stage 2 failed.
	PlaylistID string          `json:"playlist_id,omitempty"`
	Videos     []storage.Video `json:"videos"`

	VideoDelta   *delta.VideoDelta   `json:"video_delta,omitempty"`
	ChannelDelta *delta.ChannelDelta `json:"channel_delta,omitempty"`
	CommentDelta *delta.CommentDelta `json:"comment_delta,omitempty"`
	DeltaSummary *delta.Summary      `json:"delta_summary,omitempty"`

	QuotaUsed       int `json:"quota_used"`
	VideosFetched   int `json:"videos_fetched"`
	CommentsFetched int `json:"comments_fetched"`

	ErrorVideos   string        `json:"error_videos,omitempty"`
	ErrorComments string        `json:"error_comments,omitempty"`
	Errors        []*StageError `json:"-"`
	DebugLogs     []string      `json:"debug_logs"`

	// ResponseData is a serialized copy of the result as of Finalize.
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	// DBData is the snapshot that was stored when the run started.
	DBData *storage.Channel `json:"db_data,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// OK reports whether no stage failed.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// Failed reports whether the given stage recorded an error.
func (r *Result) Failed(stage Stage) bool {
	for _, e := range r.Errors {
		if e.Stage == stage {
			return true
		}
	}
	return false
}

func (r *Result) addVideoError(e *StageError) {
	r.Errors = append(r.Errors, e)
	r.ErrorVideos = joinError(r.ErrorVideos, e.Err.Error())
}

func (r *Result) addCommentError(e *StageError) {
	r.Errors = append(r.Errors, e)
	r.ErrorComments = joinError(r.ErrorComments, e.Err.Error())
}

func joinError(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return strings.Join([]string{existing, msg}, "; ")
}

// snapshot serializes the result without ResponseData and DBData.
func (r *Result) snapshot() (json.RawMessage, error) {
	c := *r
	c.ResponseData = nil
	c.DBData = nil
	return json.Marshal(c)
}

// CommentTotal sums the comments embedded in videos.
func CommentTotal(videos []storage.Video) int {
	n := 0
	for _, v := range videos {
		n += len(v.Comments)
	}
	return n
}
