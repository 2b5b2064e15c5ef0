package collect

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ytcollect/delta"
	"ytcollect/metrics"
	"ytcollect/quota"
	"ytcollect/storage"
)

// Options selects what a run fetches.
type Options struct {
	FetchVideos          bool `json:"fetch_videos"`
	FetchComments        bool `json:"fetch_comments"`
	MaxVideos            int  `json:"max_videos"`
	MaxCommentsPerVideo  int  `json:"max_comments_per_video"`
	MaxRepliesPerComment int  `json:"max_replies_per_comment"`
}

// DefaultOptions fetches up to 50 videos and no comments.
func DefaultOptions() Options {
	return Options{
		FetchVideos:          true,
		MaxVideos:            50,
		MaxCommentsPerVideo:  20,
		MaxRepliesPerComment: 0,
	}
}

// Providers groups the data sources a Pipeline draws from.
type Providers struct {
	Channels ChannelProvider
	Videos   VideoProvider
	Comments CommentProvider
}

// Pipeline runs collections. It holds no per-run state and may be shared by
// concurrent runs; only the quota tracker is shared between them.
type Pipeline struct {
	providers Providers
	store     SnapshotStore
	quota     *quota.Tracker
	deltas    *delta.Engine
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore sets the store that supplies the previous snapshot.
func WithStore(s SnapshotStore) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithQuota sets the shared quota tracker.
func WithQuota(t *quota.Tracker) Option {
	return func(p *Pipeline) { p.quota = t }
}

// WithDeltaEngine replaces the default delta engine.
func WithDeltaEngine(e *delta.Engine) Option {
	return func(p *Pipeline) { p.deltas = e }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline returns a Pipeline. Without WithQuota it gets a private
// tracker with the default ceiling.
func NewPipeline(providers Providers, opts ...Option) *Pipeline {
	p := &Pipeline{
		providers: providers,
		logger:    log.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.quota == nil {
		p.quota = quota.NewTracker(quota.DefaultLimit)
	}
	if p.deltas == nil {
		p.deltas = delta.NewEngine(p.now)
	}
	return p
}

// Quota returns the tracker the pipeline charges.
func (p *Pipeline) Quota() *quota.Tracker {
	return p.quota
}

// channelIDPattern accepts canonical IDs and other opaque API identifiers but
// rejects URLs, handles and whitespace.
var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateChannelID checks the precondition Run enforces.
func ValidateChannelID(channelID string) error {
	if !channelIDPattern.MatchString(channelID) {
		return fmt.Errorf("%w: %q", ErrInvalidChannelID, channelID)
	}
	return nil
}

// run is the state of one Run call.
type run struct {
	p       *Pipeline
	ctx     context.Context
	opts    Options
	res     *Result
	stopped bool // set once quota is exhausted; no further API calls
	fetched bool // videos were fetched during this run
	logger  zerolog.Logger
}

// Run collects channelID. The returned error is non-nil only when the
// channel ID fails validation; every stage failure is recorded on the Result.
func (p *Pipeline) Run(ctx context.Context, channelID string, opts Options) (*Result, error) {
	channelID = strings.TrimSpace(channelID)
	if err := ValidateChannelID(channelID); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:     uuid.NewString(),
		ChannelID: channelID,
		Videos:    []storage.Video{},
		DebugLogs: []string{},
		StartedAt: p.now(),
	}
	r := &run{
		p:      p,
		ctx:    ctx,
		opts:   opts,
		res:    res,
		logger: p.logger.With().Str("run_id", res.RunID).Str("channel_id", channelID).Logger(),
	}
	r.debugf("run started: fetch_videos=%t fetch_comments=%t max_videos=%d", opts.FetchVideos, opts.FetchComments, opts.MaxVideos)

	r.loadSnapshot()

	if r.stage(StageResolveChannel, r.resolveChannel) &&
		r.stage(StageUploadsPlaylist, r.resolveUploadsPlaylist) {
		if opts.FetchVideos {
			r.stage(StageFetchVideos, r.fetchVideos)
		}
		if opts.FetchComments {
			r.stage(StageFetchComments, r.fetchComments)
		}
	}
	r.stage(StageFinalize, r.finalize)

	r.observe()
	return res, nil
}

// stage runs fn and converts a returned error or a panic into a stage
// error on the result. It reports whether fn succeeded.
func (r *run) stage(name Stage, fn func() error) (ok bool) {
	r.logger.Debug().Str("stage", string(name)).Msg("stage start")
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("stage", string(name)).Interface("panic", rec).Msg("stage panicked")
			r.fail(name, fmt.Errorf("%w: %v", ErrStagePanic, rec))
			ok = false
		}
	}()

	if err := fn(); err != nil {
		r.fail(name, err)
		return false
	}
	return true
}

func (r *run) fail(name Stage, err error) {
	se := &StageError{Stage: name, Err: err}
	if name == StageFetchComments {
		r.res.addCommentError(se)
	} else {
		r.res.addVideoError(se)
	}
	metrics.StageErrorsTotal.WithLabelValues(string(name)).Inc()
	r.logger.Warn().Str("stage", string(name)).Err(err).Msg("stage failed")
	r.debugf("%s failed: %v", name, err)
}

func (r *run) debugf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.res.DebugLogs = append(r.res.DebugLogs, r.p.now().Format("15:04:05.000")+" "+msg)
	r.logger.Debug().Msg(msg)
}

// loadSnapshot reads the stored snapshot once for the whole run.
func (r *run) loadSnapshot() {
	if r.p.store == nil {
		r.debugf("no store configured, running without previous snapshot")
		return
	}
	snap, err := r.p.store.GetChannel(r.ctx, r.res.ChannelID)
	switch {
	case err == nil && snap != nil:
		r.res.DBData = snap
		r.debugf("loaded stored snapshot with %d videos", len(snap.Videos))
	case err == nil || storage.IsNotFound(err):
		r.debugf("no stored snapshot")
	default:
		r.debugf("reading stored snapshot failed: %v", err)
	}
}

// charge records one API call of op against the tracker.
func (r *run) charge(op string) {
	r.res.QuotaUsed += r.p.quota.Track(op)
}

// spend charges units a provider reports as already spent. They are always
// recorded; passing the ceiling stops every later API stage.
func (r *run) spend(units int) error {
	if units <= 0 {
		return nil
	}
	r.res.QuotaUsed += units
	if err := r.p.quota.Charge(units); err != nil {
		r.stopped = true
		return err
	}
	return nil
}

func (r *run) resolveChannel() error {
	if r.p.providers.Channels == nil {
		return fmt.Errorf("%w: no channel provider", ErrChannelInfoUnavailable)
	}
	info, err := r.p.providers.Channels.Info(r.ctx, r.res.ChannelID)
	r.charge(quota.OpChannelsList)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChannelInfoUnavailable, err)
	}
	if info == nil {
		return ErrChannelInfoUnavailable
	}

	r.res.Channel = &storage.Channel{
		ChannelID:   r.res.ChannelID,
		Name:        info.Title,
		Description: info.Description,
		Subscribers: info.Subscribers,
		Views:       info.Views,
		TotalVideos: info.VideoCount,
	}
	r.debugf("channel %q: %d subscribers, %d views, %d videos", info.Title, info.Subscribers, info.Views, info.VideoCount)
	return nil
}

func (r *run) resolveUploadsPlaylist() error {
	if r.res.DBData != nil {
		cd := r.p.deltas.Channel(*r.res.Channel, *r.res.DBData)
		r.res.ChannelDelta = &cd
		r.debugf("channel delta: subscribers %+d, views %+d, videos %+d", cd.SubscriberDelta, cd.ViewDelta, cd.VideoCountDelta)
	}

	playlistID, err := r.p.providers.Channels.UploadsPlaylistID(r.ctx, r.res.ChannelID)
	r.charge(quota.OpChannelsList)
	if err == nil {
		err = validatePlaylistID(playlistID, r.res.ChannelID)
	}
	if err != nil {
		if r.opts.FetchComments {
			r.res.addCommentError(&StageError{Stage: StageFetchComments, Err: fmt.Errorf("skipped: %w", ErrInvalidUploadsPlaylist)})
		}
		if errors.Is(err, ErrInvalidUploadsPlaylist) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidUploadsPlaylist, err)
	}

	r.res.PlaylistID = playlistID
	r.debugf("uploads playlist %s", playlistID)
	return nil
}

func validatePlaylistID(playlistID, channelID string) error {
	switch {
	case playlistID == "":
		return fmt.Errorf("%w: empty", ErrInvalidUploadsPlaylist)
	case playlistID == channelID:
		return fmt.Errorf("%w: %q equals the channel id", ErrInvalidUploadsPlaylist, playlistID)
	case !strings.HasPrefix(playlistID, "UU"):
		return fmt.Errorf("%w: %q does not start with UU", ErrInvalidUploadsPlaylist, playlistID)
	}
	return nil
}

// plannedVideoCount is the number of videos a fetch is expected to return.
func (r *run) plannedVideoCount() int {
	total := 0
	if r.res.Channel != nil {
		total = int(r.res.Channel.TotalVideos)
	}
	switch {
	case r.opts.MaxVideos > 0 && (total <= 0 || r.opts.MaxVideos < total):
		return r.opts.MaxVideos
	default:
		return total
	}
}

func (r *run) fetchVideos() error {
	if r.stopped {
		return quota.ErrQuotaExceeded
	}

	planned := r.plannedVideoCount()
	estimate := quota.Estimate(quota.EstimateRequest{
		FetchVideos:      true,
		FetchComments:    r.opts.FetchComments,
		VideoCount:       planned,
		CommentsPerVideo: r.opts.MaxCommentsPerVideo,
	})
	if remaining := r.p.quota.Remaining(); estimate > remaining {
		r.stopped = true
		return fmt.Errorf("%w: estimated %d units, %d remaining", quota.ErrQuotaExceeded, estimate, remaining)
	}
	r.debugf("fetching up to %d videos (estimated %d units)", planned, estimate)

	return r.collectVideos()
}

// collectVideos calls the VideoProvider and installs the normalized videos.
func (r *run) collectVideos() error {
	if r.p.providers.Videos == nil {
		return fmt.Errorf("%w: no video provider", ErrVideoFetchFailed)
	}
	batch, err := r.p.providers.Videos.CollectChannelVideos(r.ctx, r.res.PlaylistID, r.opts.MaxVideos)
	if err != nil {
		// Pages fetched before the failure were still billed.
		if batch != nil {
			r.spend(batch.QuotaUsed)
		}
		return fmt.Errorf("%w: %v", ErrVideoFetchFailed, err)
	}
	r.fetched = true
	if batch == nil {
		batch = &VideoBatch{}
	}

	records := fixMissingCounters(batch.Videos)
	videos := make([]storage.Video, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		v, notes, ok := normalize(rec, r.res.ChannelID)
		for _, n := range notes {
			r.debugf("%s", n)
		}
		if !ok || seen[v.VideoID] {
			continue
		}
		seen[v.VideoID] = true
		videos = append(videos, v)
	}

	var previous map[string]storage.Video
	if r.res.DBData != nil {
		previous = r.res.DBData.VideoIndex()
	}
	vd := r.p.deltas.Videos(videos, previous)
	r.res.Videos = vd.Apply(videos)
	if r.res.DBData != nil {
		r.res.VideoDelta = &vd
		r.debugf("video delta: %d new, %d updated", len(vd.New), len(vd.Updated))
	}

	r.res.VideosFetched = batch.VideosFetched
	if r.res.VideosFetched == 0 {
		r.res.VideosFetched = len(r.res.Videos)
	}
	r.debugf("fetched %d videos using %d quota units", r.res.VideosFetched, batch.QuotaUsed)

	return r.spend(batch.QuotaUsed)
}

func (r *run) fetchComments() error {
	if r.stopped {
		return quota.ErrQuotaExceeded
	}
	if r.res.PlaylistID == "" {
		return fmt.Errorf("%w: no uploads playlist", ErrCommentFetchFailed)
	}

	if !r.fetched && !r.res.Failed(StageFetchVideos) {
		r.debugf("comments requested without videos, fetching videos first")
		if err := r.collectVideos(); err != nil {
			r.res.addVideoError(&StageError{Stage: StageFetchVideos, Err: err})
			return err
		}
	}

	if len(r.res.Videos) == 0 {
		return ErrEmptyVideoList
	}
	if r.p.providers.Comments == nil {
		return fmt.Errorf("%w: no comment provider", ErrCommentFetchFailed)
	}

	withComments, err := r.p.providers.Comments.CollectForVideos(r.ctx, r.res.Videos, r.opts.MaxCommentsPerVideo, r.opts.MaxRepliesPerComment)
	if err != nil {
		r.spend(commentQuota(withComments))
		return fmt.Errorf("%w: %v", ErrCommentFetchFailed, err)
	}

	byID := make(map[string][]storage.Comment, len(withComments))
	for _, v := range withComments {
		byID[v.VideoID] = v.Comments
	}
	for i := range r.res.Videos {
		if cs, ok := byID[r.res.Videos[i].VideoID]; ok {
			r.res.Videos[i].Comments = cs
		}
	}
	r.res.CommentsFetched = CommentTotal(r.res.Videos)
	r.debugf("fetched %d comments across %d videos", r.res.CommentsFetched, len(withComments))

	if r.res.DBData != nil {
		cd := r.p.deltas.Comments(delta.CommentsByVideo(r.res.Videos), r.res.DBData.CommentIndex())
		r.res.CommentDelta = &cd
		r.debugf("comment delta: %d new comments on %d videos", len(cd.NewComments), len(cd.VideosWithNew))
	}

	return r.spend(commentQuota(withComments))
}

// commentQuota estimates the calls made by a CommentProvider: one
// commentThreads.list page per started 100 top-level comments on each video
// (at least one), plus one comments.list call per thread with replies.
func commentQuota(videos []storage.Video) int {
	units := 0
	for _, v := range videos {
		top := 0
		parents := make(map[string]bool)
		for _, c := range v.Comments {
			if c.ParentID == "" {
				top++
			} else {
				parents[c.ParentID] = true
			}
		}
		pages := (top + 99) / 100
		if pages == 0 {
			pages = 1
		}
		units += pages*quota.Cost(quota.OpCommentThreadsList) + len(parents)*quota.Cost(quota.OpCommentsList)
	}
	return units
}

func (r *run) finalize() error {
	res := r.res
	res.FinishedAt = r.p.now()
	if res.Videos == nil {
		res.Videos = []storage.Video{}
	}
	res.DeltaSummary = delta.Summarize(res.VideoDelta, res.ChannelDelta, res.CommentDelta)
	r.debugf("run finished: %d videos, %d comments, %d quota units", len(res.Videos), res.CommentsFetched, res.QuotaUsed)

	data, err := res.snapshot()
	if err != nil {
		return fmt.Errorf("serialize response data: %w", err)
	}
	res.ResponseData = data
	return nil
}

func (r *run) observe() {
	outcome := "success"
	switch {
	case r.res.Channel == nil:
		outcome = "failed"
	case !r.res.OK():
		outcome = "partial"
	}
	metrics.CollectionRunsTotal.WithLabelValues(outcome).Inc()
	metrics.CollectionDuration.Observe(r.res.FinishedAt.Sub(r.res.StartedAt).Seconds())
	metrics.VideosFetched.Add(float64(r.res.VideosFetched))
	metrics.CommentsFetched.Add(float64(r.res.CommentsFetched))

	r.logger.Info().
		Str("outcome", outcome).
		Int("videos", r.res.VideosFetched).
		Int("comments", r.res.CommentsFetched).
		Int("quota_used", r.res.QuotaUsed).
		Str("error_videos", r.res.ErrorVideos).
		Str("error_comments", r.res.ErrorComments).
		Msg("collection finished")
}
