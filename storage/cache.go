package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ChannelCacheTTL bounds how long a cached snapshot is served.
const ChannelCacheTTL = 15 * time.Minute

// CachedStore puts a Redis cache-aside layer in front of another Store.
// GetChannel reads through the cache; writes and deletes invalidate it.
// With a nil client every call goes straight to the wrapped store.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient connects to redisURL. It returns nil when the URL is empty
// or Redis is unreachable, which disables caching.
func NewRedisClient(ctx context.Context, redisURL string) *redis.Client {
	if redisURL == "" {
		log.Debug().Msg("redis: no URL configured, caching disabled")
		return nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Warn().Err(err).Str("url", redisURL).Msg("redis: invalid URL, caching disabled")
		return nil
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis: connection failed, caching disabled")
		rdb.Close()
		return nil
	}

	log.Info().Msg("redis: connected, caching enabled")
	return rdb
}

// NewCachedStore wraps store. A zero ttl uses ChannelCacheTTL.
func NewCachedStore(store Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = ChannelCacheTTL
	}
	return &CachedStore{Store: store, rdb: rdb, ttl: ttl}
}

func channelKey(channelID string) string {
	return "ytcollect:channel:" + channelID
}

func (c *CachedStore) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, channelKey(channelID)).Bytes()
		switch {
		case err == nil:
			var ch Channel
			if jerr := json.Unmarshal(data, &ch); jerr == nil {
				return &ch, nil
			}
			log.Debug().Str("channel_id", channelID).Msg("redis: dropping undecodable cache entry")
		case err != redis.Nil:
			log.Debug().Err(err).Str("channel_id", channelID).Msg("redis: get failed")
		}
	}

	ch, err := c.Store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, ch)
	return ch, nil
}

func (c *CachedStore) set(ctx context.Context, ch *Channel) {
	if c.rdb == nil {
		return
	}
	b, err := json.Marshal(ch)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, channelKey(ch.ChannelID), b, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("channel_id", ch.ChannelID).Msg("redis: set failed")
	}
}

func (c *CachedStore) invalidate(ctx context.Context, channelID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, channelKey(channelID)).Err(); err != nil {
		log.Debug().Err(err).Str("channel_id", channelID).Msg("redis: delete failed")
	}
}

func (c *CachedStore) UpsertChannel(ctx context.Context, channel *Channel) error {
	if err := c.Store.UpsertChannel(ctx, channel); err != nil {
		return err
	}
	c.invalidate(ctx, channel.ChannelID)
	return nil
}

func (c *CachedStore) DeleteChannel(ctx context.Context, channelID string) error {
	if err := c.Store.DeleteChannel(ctx, channelID); err != nil {
		return err
	}
	c.invalidate(ctx, channelID)
	return nil
}

// Close closes the wrapped store and the Redis client.
func (c *CachedStore) Close() error {
	err := c.Store.Close()
	if c.rdb != nil {
		if rerr := c.rdb.Close(); err == nil {
			err = rerr
		}
	}
	return err
}
