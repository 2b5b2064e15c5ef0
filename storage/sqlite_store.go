package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS channels (
	channel_id          TEXT PRIMARY KEY,
	name                TEXT NOT NULL DEFAULT '',
	description         TEXT NOT NULL DEFAULT '',
	subscribers         INTEGER NOT NULL DEFAULT 0,
	views               INTEGER NOT NULL DEFAULT 0,
	total_videos        INTEGER NOT NULL DEFAULT 0,
	uploads_playlist_id TEXT NOT NULL DEFAULT '',
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL,
	last_collected_at   TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS videos (
	video_id       TEXT PRIMARY KEY,
	channel_id     TEXT NOT NULL REFERENCES channels(channel_id) ON DELETE CASCADE,
	title          TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	views          INTEGER NOT NULL DEFAULT 0,
	likes          INTEGER NOT NULL DEFAULT 0,
	comment_count  INTEGER NOT NULL DEFAULT 0,
	dislike_count  INTEGER NOT NULL DEFAULT 0,
	favorite_count INTEGER NOT NULL DEFAULT 0,
	duration       TEXT NOT NULL DEFAULT '',
	published_at   TEXT NOT NULL DEFAULT '',
	view_delta     INTEGER,
	like_delta     INTEGER,
	comment_delta  INTEGER,
	last_refreshed TEXT NOT NULL DEFAULT '',
	refresh_count  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_videos_channel ON videos(channel_id);
CREATE TABLE IF NOT EXISTS comments (
	comment_id   TEXT PRIMARY KEY,
	video_id     TEXT NOT NULL REFERENCES videos(video_id) ON DELETE CASCADE,
	parent_id    TEXT NOT NULL DEFAULT '',
	text         TEXT NOT NULL DEFAULT '',
	author_name  TEXT NOT NULL DEFAULT '',
	published_at TEXT NOT NULL DEFAULT '',
	like_count   INTEGER NOT NULL DEFAULT 0,
	position     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_comments_video ON comments(video_id);
CREATE TABLE IF NOT EXISTS locations (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	video_id   TEXT NOT NULL REFERENCES videos(video_id) ON DELETE CASCADE,
	type       TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0.0,
	source     TEXT NOT NULL DEFAULT 'auto',
	created_at TEXT NOT NULL DEFAULT '',
	position   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_locations_video ON locations(video_id);
`

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
	}
	db.SetMaxOpenConns(1) // SQLite: single writer
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, &StorageError{Op: "migrate", Entity: "store", ID: path, Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *SQLiteStore) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	var (
		ch                              Channel
		created, updated, lastCollected string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id, name, description, subscribers, views, total_videos,
		        uploads_playlist_id, created_at, updated_at, last_collected_at
		 FROM channels WHERE channel_id = ?`, channelID,
	).Scan(&ch.ChannelID, &ch.Name, &ch.Description, &ch.Subscribers, &ch.Views,
		&ch.TotalVideos, &ch.UploadsPlaylistID, &created, &updated, &lastCollected)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Op: "read", Entity: "channel", ID: channelID, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "channel", ID: channelID, Err: err}
	}
	ch.CreatedAt = parseTime(created)
	ch.UpdatedAt = parseTime(updated)
	ch.LastCollectedAt = parseTime(lastCollected)

	videos, err := s.videos(ctx, channelID)
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "video", ID: channelID, Err: err}
	}
	ch.Videos = videos
	return &ch, nil
}

func (s *SQLiteStore) videos(ctx context.Context, channelID string) ([]Video, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT video_id, channel_id, title, description, views, likes, comment_count,
		        dislike_count, favorite_count, duration, published_at,
		        view_delta, like_delta, comment_delta, last_refreshed, refresh_count
		 FROM videos WHERE channel_id = ? ORDER BY published_at DESC, video_id`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []Video
	pos := make(map[string]int)
	for rows.Next() {
		var (
			v                      Video
			published, refreshed   string
			viewD, likeD, commentD sql.NullInt64
		)
		if err := rows.Scan(&v.VideoID, &v.ChannelID, &v.Title, &v.Description, &v.Views,
			&v.Likes, &v.CommentCount, &v.DislikeCount, &v.FavoriteCount, &v.Duration,
			&published, &viewD, &likeD, &commentD, &refreshed, &v.RefreshCount); err != nil {
			return nil, err
		}
		v.PublishedAt = parseTime(published)
		v.LastRefreshed = parseTime(refreshed)
		v.ViewDelta = nullableInt(viewD)
		v.LikeDelta = nullableInt(likeD)
		v.CommentDelta = nullableInt(commentD)
		pos[v.VideoID] = len(videos)
		videos = append(videos, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	crow, err := s.db.QueryContext(ctx,
		`SELECT c.comment_id, c.video_id, c.parent_id, c.text, c.author_name, c.published_at, c.like_count
		 FROM comments c JOIN videos v ON v.video_id = c.video_id
		 WHERE v.channel_id = ? ORDER BY c.video_id, c.position`, channelID)
	if err != nil {
		return nil, err
	}
	defer crow.Close()
	for crow.Next() {
		var (
			c         Comment
			published string
		)
		if err := crow.Scan(&c.CommentID, &c.VideoID, &c.ParentID, &c.Text, &c.AuthorName,
			&published, &c.LikeCount); err != nil {
			return nil, err
		}
		c.PublishedAt = parseTime(published)
		if i, ok := pos[c.VideoID]; ok {
			videos[i].Comments = append(videos[i].Comments, c)
		}
	}
	if err := crow.Err(); err != nil {
		return nil, err
	}

	lrow, err := s.db.QueryContext(ctx,
		`SELECT l.video_id, l.type, l.name, l.confidence, l.source, l.created_at
		 FROM locations l JOIN videos v ON v.video_id = l.video_id
		 WHERE v.channel_id = ? ORDER BY l.video_id, l.position`, channelID)
	if err != nil {
		return nil, err
	}
	defer lrow.Close()
	for lrow.Next() {
		var (
			videoID, created string
			l                Location
		)
		if err := lrow.Scan(&videoID, &l.Type, &l.Name, &l.Confidence, &l.Source, &created); err != nil {
			return nil, err
		}
		l.CreatedAt = parseTime(created)
		if i, ok := pos[videoID]; ok {
			videos[i].Locations = append(videos[i].Locations, l)
		}
	}
	return videos, lrow.Err()
}

func nullableInt(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func (s *SQLiteStore) UpsertChannel(ctx context.Context, channel *Channel) error {
	if err := validateChannel(channel); err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", ID: channel.ChannelID, Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	created := channel.CreatedAt
	if created.IsZero() {
		created = now
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO channels (channel_id, name, description, subscribers, views, total_videos,
		                       uploads_playlist_id, created_at, updated_at, last_collected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET
		   name = excluded.name, description = excluded.description,
		   subscribers = excluded.subscribers, views = excluded.views,
		   total_videos = excluded.total_videos,
		   uploads_playlist_id = CASE WHEN excluded.uploads_playlist_id = ''
		     THEN channels.uploads_playlist_id ELSE excluded.uploads_playlist_id END,
		   updated_at = excluded.updated_at, last_collected_at = excluded.last_collected_at`,
		channel.ChannelID, channel.Name, channel.Description, channel.Subscribers, channel.Views,
		channel.TotalVideos, channel.UploadsPlaylistID, formatTime(created), formatTime(now),
		formatTime(channel.LastCollectedAt))
	if err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", ID: channel.ChannelID, Err: err}
	}

	for _, v := range channel.Videos {
		if err := sqliteUpsertVideo(ctx, tx, channel.ChannelID, v); err != nil {
			return &StorageError{Op: "upsert", Entity: "video", ID: v.VideoID, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", ID: channel.ChannelID, Err: err}
	}
	channel.UpdatedAt = now
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = created
	}
	return nil
}

func sqliteUpsertVideo(ctx context.Context, tx *sql.Tx, channelID string, v Video) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO videos (video_id, channel_id, title, description, views, likes, comment_count,
		                     dislike_count, favorite_count, duration, published_at,
		                     view_delta, like_delta, comment_delta, last_refreshed, refresh_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(video_id) DO UPDATE SET
		   channel_id = excluded.channel_id, title = excluded.title,
		   description = excluded.description, views = excluded.views, likes = excluded.likes,
		   comment_count = excluded.comment_count, dislike_count = excluded.dislike_count,
		   favorite_count = excluded.favorite_count, duration = excluded.duration,
		   published_at = excluded.published_at, view_delta = excluded.view_delta,
		   like_delta = excluded.like_delta, comment_delta = excluded.comment_delta,
		   last_refreshed = excluded.last_refreshed, refresh_count = excluded.refresh_count`,
		v.VideoID, channelID, v.Title, v.Description, v.Views, v.Likes, v.CommentCount,
		v.DislikeCount, v.FavoriteCount, v.Duration, formatTime(v.PublishedAt),
		v.ViewDelta, v.LikeDelta, v.CommentDelta, formatTime(v.LastRefreshed), v.RefreshCount)
	if err != nil {
		return err
	}

	// Comments and locations are written as the full ordered set.
	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE video_id = ?`, v.VideoID); err != nil {
		return err
	}
	for i, c := range v.Comments {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO comments (comment_id, video_id, parent_id, text, author_name, published_at, like_count, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(comment_id) DO UPDATE SET
			   video_id = excluded.video_id, parent_id = excluded.parent_id, text = excluded.text,
			   author_name = excluded.author_name, published_at = excluded.published_at,
			   like_count = excluded.like_count, position = excluded.position`,
			c.CommentID, v.VideoID, c.ParentID, c.Text, c.AuthorName, formatTime(c.PublishedAt), c.LikeCount, i)
		if err != nil {
			return fmt.Errorf("comment %s: %w", c.CommentID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM locations WHERE video_id = ?`, v.VideoID); err != nil {
		return err
	}
	for i, l := range v.Locations {
		source := l.Source
		if source == "" {
			source = DefaultLocationSource
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO locations (video_id, type, name, confidence, source, created_at, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			v.VideoID, l.Type, l.Name, l.Confidence, source, formatTime(l.CreatedAt), i)
		if err != nil {
			return fmt.Errorf("location %s: %w", l.Name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx,
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
			ch                              Channel
			created, updated, lastCollected string
		)
		if err := rows.Scan(&ch.ChannelID, &ch.Name, &ch.Description, &ch.Subscribers, &ch.Views,
			&ch.TotalVideos, &ch.UploadsPlaylistID, &created, &updated, &lastCollected); err != nil {
			return nil, &StorageError{Op: "list", Entity: "channel", Err: err}
		}
		ch.CreatedAt = parseTime(created)
		ch.UpdatedAt = parseTime(updated)
		ch.LastCollectedAt = parseTime(lastCollected)
		channels = append(channels, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Entity: "channel", Err: err}
	}
	return channels, nil
}

func (s *SQLiteStore) DeleteChannel(ctx context.Context, channelID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE channel_id = ?`, channelID)
	if err != nil {
		return &StorageError{Op: "delete", Entity: "channel", ID: channelID, Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &StorageError{Op: "delete", Entity: "channel", ID: channelID, Err: ErrNotFound}
	}
	return nil
}
