package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"time"
)

const (
	schemaVersion = "2.0"
	lockTimeout   = 5 * time.Second
)

// JSONStore implements Store using a single JSON file guarded by an
// advisory lock for the lifetime of the store.
type JSONStore struct {
	path string
	lock *FileLock
	data *storeData
	mu   sync.RWMutex
}

// storeData is the top-level JSON structure.
type storeData struct {
	Version   string              `json:"version"`
	UpdatedAt time.Time           `json:"updated_at"`
	Channels  map[string]*Channel `json:"channels"` // stored without videos
	Videos    map[string]*Video   `json:"videos"`
	Indexes   *indexes            `json:"indexes"`
}

// indexes maintains lookup tables for efficient queries.
type indexes struct {
	VideosByChannel map[string][]string `json:"videos_by_channel"` // channel_id -> []video_id
}

// NewJSONStore creates a new JSON file store at the given path.
// If the file exists, it is loaded; otherwise an empty store is created.
func NewJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{
		path: path,
		lock: NewFileLock(path),
	}

	if err := s.lock.Lock(lockTimeout); err != nil {
		return nil, err
	}

	if err := s.load(); err != nil {
		s.lock.Unlock()
		return nil, err
	}

	return s, nil
}

// load reads the JSON file into memory. Creates empty data if file doesn't exist.
func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.data = newStoreData()
			// Save immediately to catch permission errors early
			return s.save()
		}
		return &StorageError{Op: "read", Entity: "store", Err: err}
	}

	s.data = &storeData{}
	if err := json.Unmarshal(data, s.data); err != nil {
		return &StorageError{Op: "read", Entity: "store", Err: ErrStorageCorrupt}
	}

	if s.data.Channels == nil {
		s.data.Channels = make(map[string]*Channel)
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]*Video)
	}
	if s.data.Indexes == nil {
		s.data.Indexes = rebuildIndexes(s.data.Videos)
	}

	return nil
}

// save persists the data to disk atomically.
func (s *JSONStore) save() error {
	s.data.UpdatedAt = time.Now()

	writer, err := NewAtomicWriter(s.path)
	if err != nil {
		return &StorageError{Op: "write", Entity: "store", Err: err}
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		writer.Abort()
		return &StorageError{Op: "write", Entity: "store", Err: err}
	}

	if err := writer.Commit(); err != nil {
		return &StorageError{Op: "write", Entity: "store", Err: err}
	}

	return nil
}

// Close releases resources held by the store.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Unlock()
}

func newStoreData() *storeData {
	return &storeData{
		Version:   schemaVersion,
		UpdatedAt: time.Now(),
		Channels:  make(map[string]*Channel),
		Videos:    make(map[string]*Video),
		Indexes:   &indexes{VideosByChannel: make(map[string][]string)},
	}
}

func rebuildIndexes(videos map[string]*Video) *indexes {
	idx := &indexes{VideosByChannel: make(map[string][]string)}
	for id, v := range videos {
		idx.VideosByChannel[v.ChannelID] = append(idx.VideosByChannel[v.ChannelID], id)
	}
	for _, ids := range idx.VideosByChannel {
		sort.Strings(ids)
	}
	return idx
}

func (s *JSONStore) GetChannel(ctx context.Context, channelID string) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.data.Channels[channelID]
	if !exists {
		return nil, &StorageError{Op: "read", Entity: "channel", ID: channelID, Err: ErrNotFound}
	}

	ch := *stored
	ch.Videos = nil
	for _, id := range s.data.Indexes.VideosByChannel[channelID] {
		video, ok := s.data.Videos[id]
		if !ok {
			return nil, &StorageError{Op: "read", Entity: "video", ID: id, Err: ErrStorageCorrupt}
		}
		ch.Videos = append(ch.Videos, *video)
	}
	return &ch, nil
}

func (s *JSONStore) UpsertChannel(ctx context.Context, channel *Channel) error {
	if err := validateChannel(channel); err != nil {
		return &StorageError{Op: "upsert", Entity: "channel", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	record := *channel
	record.Videos = nil
	if existing, ok := s.data.Channels[channel.ChannelID]; ok {
		if !existing.CreatedAt.IsZero() {
			record.CreatedAt = existing.CreatedAt
		}
		if record.UploadsPlaylistID == "" {
			record.UploadsPlaylistID = existing.UploadsPlaylistID
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	s.data.Channels[channel.ChannelID] = &record

	for i := range channel.Videos {
		video := channel.Videos[i]
		video.ChannelID = channel.ChannelID
		if existing, ok := s.data.Videos[video.VideoID]; ok && existing.ChannelID != channel.ChannelID {
			s.removeFromIndex(existing.ChannelID, video.VideoID)
		}
		if _, ok := s.data.Videos[video.VideoID]; !ok || !s.indexed(channel.ChannelID, video.VideoID) {
			s.data.Indexes.VideosByChannel[channel.ChannelID] = append(
				s.data.Indexes.VideosByChannel[channel.ChannelID], video.VideoID)
		}
		s.data.Videos[video.VideoID] = &video
	}

	channel.CreatedAt = record.CreatedAt
	channel.UpdatedAt = record.UpdatedAt
	return s.save()
}

func (s *JSONStore) indexed(channelID, videoID string) bool {
	for _, id := range s.data.Indexes.VideosByChannel[channelID] {
		if id == videoID {
			return true
		}
	}
	return false
}

func (s *JSONStore) removeFromIndex(channelID, videoID string) {
	ids := s.data.Indexes.VideosByChannel[channelID]
	for i, id := range ids {
		if id == videoID {
			s.data.Indexes.VideosByChannel[channelID] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

func (s *JSONStore) ListChannels(ctx context.Context) ([]*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	channels := make([]*Channel, 0, len(s.data.Channels))
	for _, ch := range s.data.Channels {
		c := *ch
		channels = append(channels, &c)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].ChannelID < channels[j].ChannelID })
	return channels, nil
}

func (s *JSONStore) DeleteChannel(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Channels[channelID]; !exists {
		return &StorageError{Op: "delete", Entity: "channel", ID: channelID, Err: ErrNotFound}
	}

	for _, id := range s.data.Indexes.VideosByChannel[channelID] {
		delete(s.data.Videos, id)
	}
	delete(s.data.Indexes.VideosByChannel, channelID)
	delete(s.data.Channels, channelID)

	return s.save()
}
