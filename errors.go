package ytcollect

import (
	"ytcollect/channelid"
	"ytcollect/collect"
	"ytcollect/delta"
	"ytcollect/internal/retry"
	"ytcollect/quota"
	"ytcollect/storage"
	"ytcollect/youtube"
)

// Error types and sentinels from the sub-packages, gathered for callers
// that only import the root package.
//
// From collect:
//   - ErrInvalidChannelID: returned by Run before any stage starts
//   - ErrChannelInfoUnavailable, ErrInvalidUploadsPlaylist, ErrVideoFetchFailed,
//     ErrCommentFetchFailed: recorded on Result.Errors as StageError values
//
// From quota, delta and channelid:
//   - ErrQuotaExceeded: the daily budget cannot cover the next call
//   - ErrInvalidMetric: a counter could not be read as an integer
//   - ErrInvalidInput: the input is not a channel ID, URL, handle or name
//
// From youtube:
//   - ErrChannelNotFound, ErrHandleNotFound, ErrMissingCredentials
//
// From storage:
//   - ErrNotFound, ErrStorageCorrupt, ErrLockTimeout
//   - StorageError: operation and entity context for a store failure

type (
	// StageError names the pipeline stage that failed.
	StageError = collect.StageError
	// RetryableError wraps the last error after retries were exhausted.
	RetryableError = retry.RetryableError
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
)

var (
	ErrInvalidChannelID       = collect.ErrInvalidChannelID
	ErrChannelInfoUnavailable = collect.ErrChannelInfoUnavailable
	ErrInvalidUploadsPlaylist = collect.ErrInvalidUploadsPlaylist
	ErrVideoFetchFailed       = collect.ErrVideoFetchFailed
	ErrCommentFetchFailed     = collect.ErrCommentFetchFailed

	ErrQuotaExceeded = quota.ErrQuotaExceeded
	ErrInvalidMetric = delta.ErrInvalidMetric
	ErrInvalidInput  = channelid.ErrInvalid

	ErrChannelNotFound    = youtube.ErrChannelNotFound
	ErrHandleNotFound     = youtube.ErrHandleNotFound
	ErrMissingCredentials = youtube.ErrMissingCredentials

	// Storage errors
	ErrNotFound       = storage.ErrNotFound
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	ErrLockTimeout    = storage.ErrLockTimeout
)

// IsRetryable reports whether err is worth retrying: rate limits and server
// errors are, not-found and client errors are not.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
