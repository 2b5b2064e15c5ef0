// Package quota tracks YouTube Data API quota consumption against a ceiling.
//
// A Tracker is shared by pointer between every pipeline run that draws on the
// same API key. All methods are safe for concurrent use.
package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ytcollect/metrics"
)

// DefaultLimit is the Data API's default daily quota.
const DefaultLimit = 10000

// DefaultResetInterval is the length of one quota period.
const DefaultResetInterval = 24 * time.Hour

// ErrQuotaExceeded is returned by Use when the charge would exceed the
// ceiling, and by Charge once usage has passed it.
var ErrQuotaExceeded = errors.New("quota: exceeded")

// Data API operation names.
const (
	OpChannelsList       = "channels.list"
	OpPlaylistItemsList  = "playlistItems.list"
	OpVideosList         = "videos.list"
	OpCommentThreadsList = "commentThreads.list"
	OpCommentsList       = "comments.list"
	OpSearchList         = "search.list"
)

// costs is the per-call unit cost. Unknown operations cost 1.
var costs = map[string]int{
	OpChannelsList:       1,
	OpPlaylistItemsList:  1,
	OpVideosList:         1,
	OpCommentThreadsList: 1,
	OpCommentsList:       1,
	OpSearchList:         100,
}

// Cost returns the unit cost of a single call to op.
func Cost(op string) int {
	if c, ok := costs[op]; ok {
		return c
	}
	return 1
}

// Tracker counts units used in the current period.
type Tracker struct {
	mu        sync.Mutex
	used      int
	limit     int
	reserve   int
	interval  time.Duration
	lastReset time.Time
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithReserve makes Exhausted report true once fewer than n units remain.
func WithReserve(n int) Option {
	return func(t *Tracker) { t.reserve = n }
}

// WithResetInterval sets the rolling period after which usage returns to zero.
// Zero disables automatic resets.
func WithResetInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger used for reset and exhaustion messages.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker returns a tracker with the given ceiling. A non-positive limit
// uses DefaultLimit.
func NewTracker(limit int, opts ...Option) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	t := &Tracker{
		limit:    limit,
		interval: DefaultResetInterval,
		now:      time.Now,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lastReset = t.now()
	metrics.QuotaLimit.Set(float64(limit))
	metrics.QuotaUsed.Set(0)
	return t
}

// maybeReset starts a new period once the interval has elapsed. Callers hold mu.
func (t *Tracker) maybeReset() {
	if t.interval <= 0 {
		return
	}
	if t.now().Sub(t.lastReset) >= t.interval {
		t.logger.Info().Int("used", t.used).Msg("quota reset (new period)")
		t.used = 0
		t.lastReset = t.now()
		metrics.QuotaUsed.Set(0)
	}
}

// Track charges the cost of one op call and returns the cost. It always
// records the charge: the call has already been made.
func (t *Tracker) Track(op string) int {
	cost := Cost(op)
	metrics.APICallsTotal.WithLabelValues(op).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset()
	t.used += cost
	metrics.QuotaUsed.Set(float64(t.used))
	if t.used > t.limit {
		t.logger.Warn().Int("used", t.used).Int("limit", t.limit).Str("op", op).Msg("quota ceiling passed")
	}
	return cost
}

// Use adds n units if that keeps usage within the ceiling. Otherwise usage
// is left unchanged and the error wraps ErrQuotaExceeded.
func (t *Tracker) Use(n int) error {
	if n < 0 {
		return fmt.Errorf("quota: negative charge %d", n)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset()
	if t.used+n > t.limit {
		return fmt.Errorf("%w: need %d units, %d of %d remaining", ErrQuotaExceeded, n, t.limit-t.used, t.limit)
	}
	t.used += n
	metrics.QuotaUsed.Set(float64(t.used))
	return nil
}

// Charge records n units of work that already happened. Unlike Use it never
// refuses: usage is always increased, and the error wraps ErrQuotaExceeded
// when usage now passes the ceiling.
func (t *Tracker) Charge(n int) error {
	if n < 0 {
		return fmt.Errorf("quota: negative charge %d", n)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset()
	t.used += n
	metrics.QuotaUsed.Set(float64(t.used))
	if t.used > t.limit {
		t.logger.Warn().Int("used", t.used).Int("limit", t.limit).Int("charged", n).Msg("quota ceiling passed")
		return fmt.Errorf("%w: charged %d units, %d of %d used", ErrQuotaExceeded, n, t.used, t.limit)
	}
	return nil
}

// Remaining returns limit minus used, never negative.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset()
	if r := t.limit - t.used; r > 0 {
		return r
	}
	return 0
}

// Used returns the units used in the current period.
func (t *Tracker) Used() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset()
	return t.used
}

// Limit returns the ceiling.
func (t *Tracker) Limit() int {
	return t.limit
}

// Exhausted reports whether remaining quota has fallen below the reserve.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset()
	return t.exhausted()
}

// exhausted is Exhausted without locking. Callers hold mu.
func (t *Tracker) exhausted() bool {
	remaining := t.limit - t.used
	return remaining <= 0 || remaining < t.reserve
}

// Reset zeroes usage and starts a new period.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used = 0
	t.lastReset = t.now()
	metrics.QuotaUsed.Set(0)
}

// Snapshot is a point-in-time view of a Tracker.
type Snapshot struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reserve   int       `json:"reserve"`
	Exhausted bool      `json:"exhausted"`
	ResetsAt  time.Time `json:"resets_at,omitempty"`
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset()
	s := Snapshot{
		Used:    t.used,
		Limit:   t.limit,
		Reserve: t.reserve,
	}
	s.Remaining = t.limit - t.used
	if s.Remaining < 0 {
		s.Remaining = 0
	}
	s.Exhausted = t.exhausted()
	if t.interval > 0 {
		s.ResetsAt = t.lastReset.Add(t.interval)
	}
	return s
}

// EstimateRequest describes a planned collection.
type EstimateRequest struct {
	FetchChannel     bool `json:"fetch_channel"`
	FetchVideos      bool `json:"fetch_videos"`
	FetchComments    bool `json:"fetch_comments"`
	VideoCount       int  `json:"video_count"`
	CommentsPerVideo int  `json:"comments_per_video"`
}

// pageSize is the Data API's maximum page size for list calls.
const pageSize = 50

// Estimate returns the pre-flight cost of a collection: one unit for the
// channel, a listing pass plus a details pass per 50 videos, and one unit
// per 100 comments. A comments-only request still pays for the video pass.
// It is 0 when nothing is requested or VideoCount is 0.
func Estimate(req EstimateRequest) int {
	if req.VideoCount <= 0 || !(req.FetchChannel || req.FetchVideos || req.FetchComments) {
		return 0
	}
	total := 0
	if req.FetchChannel {
		total++
	}
	// Comments are fetched per video, so they need the listing pass too.
	if req.FetchVideos || req.FetchComments {
		total += ceilDiv(req.VideoCount, pageSize) * 2
	}
	if req.FetchComments && req.CommentsPerVideo > 0 {
		total += ceilDiv(req.VideoCount*req.CommentsPerVideo, 100)
	}
	return total
}

// Estimate is the method form of the package-level Estimate.
func (t *Tracker) Estimate(req EstimateRequest) int {
	return Estimate(req)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
