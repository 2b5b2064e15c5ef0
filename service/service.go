// Package service ties resolution, collection and persistence together for
// the CLI, the HTTP API and the NATS worker.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ytcollect/channelid"
	"ytcollect/collect"
	"ytcollect/quota"
	"ytcollect/storage"
)

// ErrNeedsResolution is returned for handles and custom names when no
// resolver is configured.
var ErrNeedsResolution = errors.New("service: channel needs resolution")

// Resolver looks up channel IDs for handles, usernames and custom names.
type Resolver interface {
	Resolve(ctx context.Context, input string) (channelid.Resolution, error)
}

// Runner runs one collection.
type Runner interface {
	Run(ctx context.Context, channelID string, opts collect.Options) (*collect.Result, error)
}

// Saver persists a finished result.
type Saver interface {
	Save(ctx context.Context, res *collect.Result, kind storage.Kind) bool
}

// Request asks for one channel to be collected. Channel may be anything
// channelid.Resolve accepts.
type Request struct {
	RequestID string `json:"request_id,omitempty"`
	Channel   string `json:"channel"`
	collect.Options
	// Store overrides the service's default store kind.
	Store storage.Kind `json:"store,omitempty"`
	// DryRun skips persistence.
	DryRun bool `json:"dry_run,omitempty"`
}

// Response is the outcome of Collect.
type Response struct {
	RequestID  string               `json:"request_id"`
	ChannelID  string               `json:"channel_id"`
	Resolution channelid.Resolution `json:"resolution"`
	Result     *collect.Result      `json:"result,omitempty"`
	Saved      bool                 `json:"saved"`
	Store      storage.Kind         `json:"store,omitempty"`
}

// Service runs collections end to end.
type Service struct {
	runner   Runner
	saver    Saver
	resolver Resolver
	quota    *quota.Tracker
	store    storage.Kind
	logger   zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResolver enables lookups for handles and custom names.
func WithResolver(r Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithQuota exposes the shared tracker through Quota.
func WithQuota(t *quota.Tracker) Option {
	return func(s *Service) { s.quota = t }
}

// WithStoreKind sets the default store kind for Save.
func WithStoreKind(k storage.Kind) Option {
	return func(s *Service) { s.store = k }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service. A nil saver disables persistence.
func New(runner Runner, saver Saver, opts ...Option) *Service {
	s := &Service{
		runner: runner,
		saver:  saver,
		store:  storage.KindJSON,
		logger: log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Quota returns the shared tracker, or nil.
func (s *Service) Quota() *quota.Tracker {
	return s.quota
}

// Resolve classifies input and, if needed and possible, looks it up.
func (s *Service) Resolve(ctx context.Context, input string) (channelid.Resolution, error) {
	res := channelid.Resolve(input)
	switch res.Kind {
	case channelid.Invalid:
		return res, res.Err()
	case channelid.Resolved:
		return res, nil
	}
	if s.resolver == nil {
		return res, fmt.Errorf("%w: %s", ErrNeedsResolution, res.Query())
	}
	return s.resolver.Resolve(ctx, input)
}

// Collect resolves req.Channel, runs the pipeline and saves the result.
// Errors are returned only when no run took place; stage failures are on
// the Result, and a failed save is reported through Response.Saved.
func (s *Service) Collect(ctx context.Context, req Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	resp := &Response{RequestID: req.RequestID}
	logger := s.logger.With().Str("request_id", req.RequestID).Logger()

	resolution, err := s.Resolve(ctx, strings.TrimSpace(req.Channel))
	resp.Resolution = resolution
	if err != nil {
		logger.Warn().Err(err).Str("input", req.Channel).Msg("service: resolve failed")
		return resp, err
	}
	resp.ChannelID = resolution.ChannelID

	opts := req.Options
	if opts == (collect.Options{}) {
		opts = collect.DefaultOptions()
	}
	result, err := s.runner.Run(ctx, resolution.ChannelID, opts)
	if err != nil {
		return resp, err
	}
	resp.Result = result

	if req.DryRun || s.saver == nil {
		return resp, nil
	}
	kind := req.Store
	if kind == "" {
		kind = s.store
	}
	resp.Store = kind
	resp.Saved = s.saver.Save(ctx, result, kind)

	logger.Info().
		Str("channel_id", resp.ChannelID).
		Int("videos", result.VideosFetched).
		Int("comments", result.CommentsFetched).
		Int("quota_used", result.QuotaUsed).
		Bool("saved", resp.Saved).
		Msg("service: collection finished")
	return resp, nil
}
