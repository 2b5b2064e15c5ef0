package collect

import (
	"context"
	"errors"
	"sync"

	"ytcollect/storage"
)

type fakeChannels struct {
	info       *ChannelInfo
	infoErr    error
	playlist   string
	playlistFn func() string
	calls      int
}

func (f *fakeChannels) Info(ctx context.Context, channelID string) (*ChannelInfo, error) {
	f.calls++
	return f.info, f.infoErr
}

func (f *fakeChannels) UploadsPlaylistID(ctx context.Context, channelID string) (string, error) {
	f.calls++
	if f.playlistFn != nil {
		return f.playlistFn(), nil
	}
	return f.playlist, nil
}

type fakeVideos struct {
	batch      *VideoBatch
	err        error
	panicMsg   string
	calls      int
	playlistID string
	max        int
}

func (f *fakeVideos) CollectChannelVideos(ctx context.Context, playlistID string, maxResults int) (*VideoBatch, error) {
	f.calls++
	f.playlistID = playlistID
	f.max = maxResults
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		// A failing provider may still report the units it spent.
		return f.batch, f.err
	}
	// Hand out a copy so runs cannot share slices.
	b := *f.batch
	b.Videos = append([]VideoRecord(nil), f.batch.Videos...)
	return &b, nil
}

type fakeComments struct {
	byVideo map[string][]storage.Comment
	err     error
	partial []storage.Video
	calls   int
	got     []storage.Video
}

func (f *fakeComments) CollectForVideos(ctx context.Context, videos []storage.Video, maxPerVideo, maxReplies int) ([]storage.Video, error) {
	f.calls++
	f.got = videos
	if f.err != nil {
		return f.partial, f.err
	}
	out := make([]storage.Video, len(videos))
	for i, v := range videos {
		v.Comments = append([]storage.Comment(nil), f.byVideo[v.VideoID]...)
		out[i] = v
	}
	return out, nil
}

type memStore struct {
	mu       sync.Mutex
	channels map[string]storage.Channel
	err      error
}

func newMemStore() *memStore {
	return &memStore{channels: make(map[string]storage.Channel)}
}

func (m *memStore) GetChannel(ctx context.Context, channelID string) (*storage.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, &storage.StorageError{Op: "read", Entity: "channel", ID: channelID, Err: storage.ErrNotFound}
	}
	return &ch, nil
}

func (m *memStore) put(ch storage.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.ChannelID] = ch
}

var errBoom = errors.New("boom: upstream 500")

func i64(n int64) *int64 { return &n }
