package collect

import (
	"errors"
	"fmt"
)

// Stage-level failures. They are recorded on the Result, never returned by Run.
var (
	// ErrChannelInfoUnavailable ends the run after stage 1.
	ErrChannelInfoUnavailable = errors.New("channel info unavailable")
	// ErrInvalidUploadsPlaylist ends the run after stage 2; channel data is kept.
	ErrInvalidUploadsPlaylist = errors.New("invalid uploads playlist")
	ErrVideoFetchFailed       = errors.New("video fetch failed")
	ErrCommentFetchFailed     = errors.New("comment fetch failed")
	// ErrEmptyVideoList means comments were requested but no videos exist.
	ErrEmptyVideoList = errors.New("video list is empty")
	// ErrStagePanic wraps a recovered panic.
	ErrStagePanic = errors.New("stage panicked")
)

// ErrInvalidChannelID is returned by Run before any stage starts.
var ErrInvalidChannelID = errors.New("invalid channel id")

// Stage names one step of a run.
type Stage string

const (
	StageResolveChannel  Stage = "resolve_channel"
	StageUploadsPlaylist Stage = "resolve_uploads_playlist"
	StageFetchVideos     Stage = "fetch_videos"
	StageFetchComments   Stage = "fetch_comments"
	StageFinalize        Stage = "finalize"
)

// StageError records which stage failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
