package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	pgMaxRetries    = 5
	pgRetryInterval = 2 * time.Second
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS channels (
	channel_id          TEXT PRIMARY KEY,
	name                TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	subscribers         BIGINT NOT NULL DEFAULT 0,
	views               BIGINT NOT NULL DEFAULT 0,
	total_videos        BIGINT NOT NULL DEFAULT 0,
	uploads_playlist_id TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_collected_at   TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS videos (
	video_id       TEXT PRIMARY KEY,
	channel_id     TEXT NOT NULL REFERENCES channels(channel_id) ON DELETE CASCADE,
	title          TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	views          BIGINT NOT NULL DEFAULT 0,
	likes          BIGINT NOT NULL DEFAULT 0,
	comment_count  BIGINT NOT NULL DEFAULT 0,
	dislike_count  BIGINT NOT NULL DEFAULT 0,
	favorite_count BIGINT NOT NULL DEFAULT 0,
	duration       TEXT NOT NULL DEFAULT '',
	published_at   TIMESTAMPTZ,
	view_delta     BIGINT,
	like_delta     BIGINT,
	comment_delta  BIGINT,
	last_refreshed TIMESTAMPTZ,
	refresh_count  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_videos_channel ON videos(channel_id);
CREATE TABLE IF NOT EXISTS comments (
	comment_id   TEXT PRIMARY KEY,
	video_id     TEXT NOT NULL REFERENCES videos(video_id) ON DELETE CASCADE,
	parent_id    TEXT NOT NULL DEFAULT '',
	text         TEXT NOT NULL DEFAULT '',
	author_name  TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	like_count   BIGINT NOT NULL DEFAULT 0,
	position     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_comments_video ON comments(video_id);
CREATE TABLE IF NOT EXISTS locations (
	id         BIGSERIAL PRIMARY KEY,
	video_id   TEXT NOT NULL REFERENCES videos(video_id) ON DELETE CASCADE,
	type       TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0.0,
	source     TEXT NOT NULL DEFAULT 'auto',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	position   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_locations_video ON locations(video_id);
`

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL, retrying while the database
// comes up, and ensures the schema exists.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", Err: fmt.Errorf("parse database url: %w", err)}
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= pgMaxRetries; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max", pgMaxRetries).Msg("postgres connection attempt failed")
		if attempt == pgMaxRetries {
			return nil, &StorageError{Op: "open", Entity: "store",
				Err: fmt.Errorf("connection failed after %d attempts: %w", pgMaxRetries, err)}
		}
		select {
		case <-ctx.Done():
			return nil, &StorageError{Op: "open", Entity: "store", Err: ctx.Err()}
		case <-time.After(pgRetryInterval):
		}
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, &StorageError{Op: "migrate", Entity: "store", Err: err}
	}
	log.Info().Msg("postgres connected")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (s *PostgresStore) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var (
		ch            Channel
		lastCollected *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT channel_id, name, description, subscribers, views, total_videos,
		        uploads_playlist_id, created_at, updated_at, last_collected_at
		 FROM channels WHERE channel_id = $1`, channelID,
	).Scan(&ch.ChannelID, &ch.Name, &ch.Description, &ch.Subscribers, &ch.Views,
		&ch.TotalVideos, &ch.UploadsPlaylistID, &ch.CreatedAt, &ch.UpdatedAt, &lastCollected)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &StorageError{Op: "read", Entity: "channel", ID: channelID, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "channel", ID: channelID, Err: err}
	}
	ch.LastCollectedAt = timeVal(lastCollected)

	videos, err := s.videos(ctx, channelID)
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "video", ID: channelID, Err: err}
	}
	ch.Videos = videos
	return &ch, nil
}

func (s *PostgresStore) videos(ctx context.Context, channelID string) ([]Video, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT video_id, channel_id, title, description, views, likes, comment_count,
		        dislike_count, favorite_count, duration, published_at,
		        view_delta, like_delta, comment_delta, last_refreshed, refresh_count
		 FROM videos WHERE channel_id = $1 ORDER BY published_at DESC NULLS LAST, video_id`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []Video
	pos := make(map[string]int)
	for rows.Next() {
		var (
			v                    Video
			published, refreshed *time.Time
		)
		if err := rows.Scan(&v.VideoID, &v.ChannelID, &v.Title, &v.Description, &v.Views,
			&v.Likes, &v.CommentCount, &v.DislikeCount, &v.FavoriteCount, &v.Duration,
			&published, &v.ViewDelta, &v.LikeDelta, &v.CommentDelta, &refreshed, &v.RefreshCount); err != nil {
			return nil, err
		}
		v.PublishedAt = timeVal(published)
		v.LastRefreshed = timeVal(refreshed)
		pos[v.VideoID] = len(videos)
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crow, err := s.pool.Query(ctx,
		`SELECT c.comment_id, c.video_id, c.parent_id, c.text, c.author_name, c.published_at, c.like_count
		 FROM comments c JOIN videos v ON v.video_id = c.video_id
		 WHERE v.channel_id = $1 ORDER BY c.video_id, c.position`, channelID)
	if err != nil {
		return nil, err
	}
	defer crow.Close()
	for crow.Next() {
		var (
			c         Comment
			published *time.Time
		)
		if err := crow.Scan(&c.CommentID, &c.VideoID, &c.ParentID, &c.Text, &c.AuthorName,
			&published, &c.LikeCount); err != nil {
			return nil, err
		}
		c.PublishedAt = timeVal(published)
		if i, ok := pos[c.VideoID]; ok {
			videos[i].Comments = append(videos[i].Comments, c)
		}
	}
	if err := crow.Err(); err != nil {
		return nil, err
	}

	lrow, err := s.pool.Query(ctx,
		`SELECT l.video_id, l.type, l.name, l.confidence, l.source, l.created_at
		 FROM locations l JOIN videos v ON v.video_id = l.video_id
		 WHERE v.channel_id = $1 ORDER BY l.video_id, l.position`, channelID)
	if err != nil {
		return nil, err
	}
	defer lrow.Close()
	for lrow.Next() {
		var (
			videoID string
			l       Location
		)
		if err := lrow.Scan(&videoID, &l.Type, &l.Name, &l.Confidence, &l.Source, &l.CreatedAt); err != nil {
			return nil, err
		}
		if i, ok := pos[videoID]; ok {
			videos[i].Locations = append(videos[i].Locations, l)
		}
	}
	return videos, lrow.Err()
}

func (s *PostgresStore) UpsertChannel(ctx context.Context, channel *Channel) error {
	if err := validateChannel(channel); err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", Err: err}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", ID: channel.ChannelID, Err: err}
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	created := channel.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO channels (channel_id, name, description, subscribers, views, total_videos,
		                       uploads_playlist_id, created_at, updated_at, last_collected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (channel_id) DO UPDATE SET
		   name = EXCLUDED.name, description = EXCLUDED.description,
		   subscribers = EXCLUDED.subscribers, views = EXCLUDED.views,
		   total_videos = EXCLUDED.total_videos,
		   uploads_playlist_id = COALESCE(NULLIF(EXCLUDED.uploads_playlist_id, ''), channels.uploads_playlist_id),
		   updated_at = EXCLUDED.updated_at, last_collected_at = EXCLUDED.last_collected_at`,
		channel.ChannelID, channel.Name, channel.Description, channel.Subscribers, channel.Views,
		channel.TotalVideos, channel.UploadsPlaylistID, created, now, timePtr(channel.LastCollectedAt))
	if err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", ID: channel.ChannelID, Err: err}
	}

	for _, v := range channel.Videos {
		if err := pgUpsertVideo(ctx, tx, channel.ChannelID, v); err != nil {
			return &StorageError{Op: "upsert", Entity: "video", ID: v.VideoID, Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", ID: channel.ChannelID, Err: err}
	}
	channel.UpdatedAt = now
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = created
	}
	return nil
}

func pgUpsertVideo(ctx context.Context, tx pgx.Tx, channelID string, v Video) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO videos (video_id, channel_id, title, description, views, likes, comment_count,
		                     dislike_count, favorite_count, duration, published_at,
		                     view_delta, like_delta, comment_delta, last_refreshed, refresh_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (video_id) DO UPDATE SET
		   channel_id = EXCLUDED.channel_id, title = EXCLUDED.title,
		   description = EXCLUDED.description, views = EXCLUDED.views, likes = EXCLUDED.likes,
		   comment_count = EXCLUDED.comment_count, dislike_count = EXCLUDED.dislike_count,
		   favorite_count = EXCLUDED.favorite_count, duration = EXCLUDED.duration,
		   published_at = EXCLUDED.published_at, view_delta = EXCLUDED.view_delta,
		   like_delta = EXCLUDED.like_delta, comment_delta = EXCLUDED.comment_delta,
		   last_refreshed = EXCLUDED.last_refreshed, refresh_count = EXCLUDED.refresh_count`,
		v.VideoID, channelID, v.Title, v.Description, v.Views, v.Likes, v.CommentCount,
		v.DislikeCount, v.FavoriteCount, v.Duration, timePtr(v.PublishedAt),
		v.ViewDelta, v.LikeDelta, v.CommentDelta, timePtr(v.LastRefreshed), v.RefreshCount)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM comments WHERE video_id = $1`, v.VideoID)
	for i, c := range v.Comments {
		batch.Queue(
			`INSERT INTO comments (comment_id, video_id, parent_id, text, author_name, published_at, like_count, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (comment_id) DO UPDATE SET
			   video_id = EXCLUDED.video_id, parent_id = EXCLUDED.parent_id, text = EXCLUDED.text,
			   author_name = EXCLUDED.author_name, published_at = EXCLUDED.published_at,
			   like_count = EXCLUDED.like_count, position = EXCLUDED.position`,
			c.CommentID, v.VideoID, c.ParentID, c.Text, c.AuthorName, timePtr(c.PublishedAt), c.LikeCount, i)
	}
	batch.Queue(`DELETE FROM locations WHERE video_id = $1`, v.VideoID)
	for i, l := range v.Locations {
		source := l.Source
		if source == "" {
			source = DefaultLocationSource
		}
		created := l.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		batch.Queue(
			`INSERT INTO locations (video_id, type, name, confidence, source, created_at, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			v.VideoID, l.Type, l.Name, l.Confidence, source, created, i)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (s *PostgresStore) ListChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT channel_id, name, description, subscribers, views, total_videos,
		        uploads_playlist_id, created_at, updated_at, last_collected_at
		 FROM channels ORDER BY channel_id`)
	if err != nil {
		return nil, &StorageError{Op: "list", Entity: "channel", Err: err}
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		var (
			ch            Channel
			lastCollected *time.Time
		)
		if err := rows.Scan(&ch.ChannelID, &ch.Name, &ch.Description, &ch.Subscribers, &ch.Views,
			&ch.TotalVideos, &ch.UploadsPlaylistID, &ch.CreatedAt, &ch.UpdatedAt, &lastCollected); err != nil {
			return nil, &StorageError{Op: "list", Entity: "channel", Err: err}
		}
		ch.LastCollectedAt = timeVal(lastCollected)
		channels = append(channels, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Entity: "channel", Err: err}
	}
	return channels, nil
}

func (s *PostgresStore) DeleteChannel(ctx context.Context, channelID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE channel_id = $1`, channelID)
	if err != nil {
		return &StorageError{Op: "delete", Entity: "channel", ID: channelID, Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &StorageError{Op: "delete", Entity: "channel", ID: channelID, Err: ErrNotFound}
	}
	return nil
}
