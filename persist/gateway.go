// Package persist hands finished collection results to a Store.
package persist

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ytcollect/collect"
	"ytcollect/metrics"
	"ytcollect/storage"
)

// Saved describes a result that reached a store.
type Saved struct {
	RunID       string       `json:"run_id"`
	ChannelID   string       `json:"channel_id"`
	Store       storage.Kind `json:"store"`
	Videos      int          `json:"videos"`
	NewVideos   int          `json:"new_videos"`
	NewComments int          `json:"new_comments"`
	QuotaUsed   int          `json:"quota_used"`
	SavedAt     time.Time    `json:"saved_at"`
}

// Notifier is told about every successful save. Errors are logged only.
type Notifier interface {
	Notify(ctx context.Context, s Saved) error
}

// Gateway routes results to the store registered for a kind.
type Gateway struct {
	mu       sync.RWMutex
	stores   map[storage.Kind]storage.Store
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithNotifier publishes a Saved event after each successful upsert.
func WithNotifier(n Notifier) Option {
	return func(g *Gateway) { g.notifier = n }
}

// NewGateway returns a Gateway with no stores registered.
func NewGateway(opts ...Option) *Gateway {
	g := &Gateway{
		stores: make(map[storage.Kind]storage.Store),
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register makes store the target for kind, replacing any earlier store.
func (g *Gateway) Register(kind storage.Kind, store storage.Store) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stores[kind] = store
}

// Store returns the store registered for kind.
func (g *Gateway) Store(kind storage.Kind) (storage.Store, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.stores[kind]
	return s, ok
}

// Kinds lists registered kinds in sorted order.
func (g *Gateway) Kinds() []storage.Kind {
	g.mu.RLock()
	defer g.mu.RUnlock()
	kinds := make([]storage.Kind, 0, len(g.stores))
	for k := range g.stores {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Close closes every registered store and returns the first error.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var first error
	for kind, s := range g.stores {
		if err := s.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s store: %w", kind, err)
		}
		delete(g.stores, kind)
	}
	return first
}

// Record builds the channel record Save would write for res: the fresh
// channel and videos merged over the snapshot the run started from.
func Record(res *collect.Result) (storage.Channel, bool) {
	if res == nil || res.Channel == nil {
		return storage.Channel{}, false
	}
	fresh := *res.Channel
	fresh.Videos = res.Videos
	if fresh.ChannelID == "" {
		fresh.ChannelID = res.ChannelID
	}
	if fresh.UploadsPlaylistID == "" {
		fresh.UploadsPlaylistID = res.PlaylistID
	}
	if !res.FinishedAt.IsZero() {
		fresh.LastCollectedAt = res.FinishedAt
	}

	var stored storage.Channel
	if res.DBData != nil {
		stored = *res.DBData
	}
	return collect.Merge(stored, fresh), true
}

// Save writes res to the store registered for kind and reports success.
// Store errors are logged and reported as false; the caller decides whether
// to retry.
func (g *Gateway) Save(ctx context.Context, res *collect.Result, kind storage.Kind) bool {
	logger := g.logger.With().Str("store", string(kind)).Logger()

	store, ok := g.Store(kind)
	if !ok {
		logger.Error().Msg("persist: no store registered")
		return false
	}

	rec, ok := Record(res)
	if !ok {
		logger.Warn().Msg("persist: result has no channel data")
		return false
	}
	logger = logger.With().Str("channel_id", rec.ChannelID).Logger()

	start := g.now()
	if err := store.UpsertChannel(ctx, &rec); err != nil {
		observe(kind, "upsert", "error")
		logger.Error().Err(err).Msg("persist: upsert failed")
		return false
	}
	observe(kind, "upsert", "ok")
	logger.Debug().
		Int("videos", len(rec.Videos)).
		Dur("duration", g.now().Sub(start)).
		Msg("persist: channel saved")

	if g.notifier != nil {
		if err := g.notifier.Notify(ctx, saved(res, rec, kind, g.now())); err != nil {
			logger.Warn().Err(err).Msg("persist: notify failed")
		}
	}
	return true
}

func saved(res *collect.Result, rec storage.Channel, kind storage.Kind, at time.Time) Saved {
	s := Saved{
		RunID:     res.RunID,
		ChannelID: rec.ChannelID,
		Store:     kind,
		Videos:    len(rec.Videos),
		QuotaUsed: res.QuotaUsed,
		SavedAt:   at.UTC(),
	}
	if res.DeltaSummary != nil {
		s.NewVideos = res.DeltaSummary.NewVideos
		s.NewComments = res.DeltaSummary.NewComments
	}
	return s
}

func observe(kind storage.Kind, op, status string) {
	metrics.StoreOperationsTotal.WithLabelValues(string(kind), op, status).Inc()
}
