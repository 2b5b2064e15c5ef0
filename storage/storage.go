// Package storage provides the domain model and persistence backends for
// collected YouTube data.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists indicates the entity already exists in storage.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
	// ErrUnsupportedKind indicates an unknown store kind was requested.
	ErrUnsupportedKind = errors.New("storage: unsupported store kind")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract this error type and get operation details:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("read", "upsert", "delete", ...).
	Op string
	// Entity is the entity type ("channel", "video", "comment", "store").
	Entity string
	// ID is the entity ID if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// Kind names a storage backend.
type Kind string

// Supported storage backends.
const (
	KindJSON     Kind = "json"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
	KindMongo    Kind = "mongo"
)

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindJSON, KindSQLite, KindPostgres, KindMongo:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

// Store persists channel snapshots together with their videos, comments and
// locations. A channel is always written as a whole: UpsertChannel replaces
// the stored counters and upserts every video it carries.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetChannel returns the stored snapshot, or an error wrapping ErrNotFound.
	GetChannel(ctx context.Context, channelID string) (*Channel, error)
	// UpsertChannel creates or updates the channel and its videos.
	UpsertChannel(ctx context.Context, channel *Channel) error
	// ListChannels returns every stored channel without videos.
	ListChannels(ctx context.Context) ([]*Channel, error)
	// DeleteChannel removes a channel and everything keyed to it.
	DeleteChannel(ctx context.Context, channelID string) error
	// Close releases any resources held by the store.
	Close() error
}

// validateChannel checks the invariants every backend relies on before writing.
func validateChannel(ch *Channel) error {
	if ch == nil || ch.ChannelID == "" {
		return fmt.Errorf("%w: channel id required", ErrInvalidInput)
	}
	for _, v := range ch.Videos {
		if v.VideoID == "" {
			return fmt.Errorf("%w: video without id in channel %s", ErrInvalidInput, ch.ChannelID)
		}
	}
	return nil
}

// IsNotFound reports whether err means the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
