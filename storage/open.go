package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Options selects and configures a backend for Open.
type Options struct {
	Kind Kind
	// Path is the JSON file or SQLite database path. Empty uses DefaultPath.
	Path string
	// PostgresURL is a pgx connection string.
	PostgresURL string
	// MongoURI and MongoDatabase locate the Mongo collection.
	MongoURI      string
	MongoDatabase string
	// RedisURL enables the snapshot cache when non-empty.
	RedisURL string
}

// DefaultPath returns the default local store path for kind:
// ~/.local/share/ytcollect/ytcollect.{json,db}.
func DefaultPath(kind Kind) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	name := "ytcollect.json"
	if kind == KindSQLite {
		name = "ytcollect.db"
	}
	return filepath.Join(home, ".local", "share", "ytcollect", name)
}

// Open creates the store described by opts, wrapped in a CachedStore when
// opts.RedisURL is set and reachable.
func Open(ctx context.Context, opts Options) (Store, error) {
	var (
		store Store
		err   error
	)
	switch opts.Kind {
	case KindJSON, "":
		path := opts.Path
		if path == "" {
			path = DefaultPath(KindJSON)
		}
		store, err = NewJSONStore(path)
	case KindSQLite:
		path := opts.Path
		if path == "" {
			path = DefaultPath(KindSQLite)
		}
		store, err = NewSQLiteStore(path)
	case KindPostgres:
		if opts.PostgresURL == "" {
			return nil, fmt.Errorf("%w: postgres url required", ErrInvalidInput)
		}
		store, err = NewPostgresStore(ctx, opts.PostgresURL)
	case KindMongo:
		if opts.MongoURI == "" {
			return nil, fmt.Errorf("%w: mongo uri required", ErrInvalidInput)
		}
		db := opts.MongoDatabase
		if db == "" {
			db = "ytcollect"
		}
		store, err = NewMongoStore(ctx, opts.MongoURI, db)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, opts.Kind)
	}
	if err != nil {
		return nil, err
	}

	if opts.RedisURL != "" {
		if rdb := NewRedisClient(ctx, opts.RedisURL); rdb != nil {
			return NewCachedStore(store, rdb, 0), nil
		}
	}
	return store, nil
}
