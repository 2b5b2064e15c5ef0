package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// testStores returns a constructor per backend that runs without external services.
func testStores() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"json": func(t *testing.T) Store {
			s, err := NewJSONStore(filepath.Join(t.TempDir(), "store.json"))
			if err != nil {
				t.Fatalf("NewJSONStore() error = %v", err)
			}
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore() error = %v", err)
			}
			return s
		},
	}
}

func int64p(n int64) *int64 { return &n }

func sampleChannel() *Channel {
	published := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &Channel{
		ChannelID:         "UC_x5XG1OV2P6uZZ5FSM9Ttw",
		Name:              "Google Developers",
		Subscribers:       1000,
		Views:             50000,
		TotalVideos:       2,
		UploadsPlaylistID: "UU_x5XG1OV2P6uZZ5FSM9Ttw",
		Videos: []Video{
			{
				VideoID:     "dQw4w9WgXcQ",
				Title:       "First",
				Views:       15000,
				Likes:       100,
				Duration:    "PT4M13S",
				PublishedAt: published,
				ViewDelta:   int64p(1000),
				Comments: []Comment{
					{CommentID: "c1", VideoID: "dQw4w9WgXcQ", Text: "hello", AuthorName: "a"},
					{CommentID: "c2", VideoID: "dQw4w9WgXcQ", ParentID: "c1", Text: "reply", AuthorName: "b"},
				},
				Locations:    []Location{NewLocation("city", "Zurich")},
				RefreshCount: 2,
			},
			{
				VideoID:      "9bZkp7q19f0",
				Title:        "Second",
				Views:        10,
				PublishedAt:  published.Add(-time.Hour),
				RefreshCount: 1,
			},
		},
	}
}

func TestStore_UpsertAndGet(t *testing.T) {
	for name, newStore := range testStores() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()
			ctx := context.Background()

			ch := sampleChannel()
			if err := store.UpsertChannel(ctx, ch); err != nil {
				t.Fatalf("UpsertChannel() error = %v", err)
			}
			if ch.CreatedAt.IsZero() || ch.UpdatedAt.IsZero() {
				t.Error("UpsertChannel() did not set timestamps")
			}

			got, err := store.GetChannel(ctx, ch.ChannelID)
			if err != nil {
				t.Fatalf("GetChannel() error = %v", err)
			}
			if got.Name != ch.Name || got.Subscribers != 1000 || got.UploadsPlaylistID != ch.UploadsPlaylistID {
				t.Errorf("GetChannel() = %+v", got)
			}
			if len(got.Videos) != 2 {
				t.Fatalf("len(Videos) = %d, want 2", len(got.Videos))
			}
			idx := got.VideoIndex()
			first := idx["dQw4w9WgXcQ"]
			if first.ChannelID != ch.ChannelID {
				t.Errorf("video ChannelID = %q, want %q", first.ChannelID, ch.ChannelID)
			}
			if first.ViewDelta == nil || *first.ViewDelta != 1000 {
				t.Errorf("ViewDelta = %v, want 1000", first.ViewDelta)
			}
			if first.LikeDelta != nil {
				t.Errorf("LikeDelta = %v, want nil", *first.LikeDelta)
			}
			if len(first.Comments) != 2 || first.Comments[1].ParentID != "c1" {
				t.Errorf("Comments = %+v", first.Comments)
			}
			if len(first.Locations) != 1 || first.Locations[0].Source != DefaultLocationSource {
				t.Errorf("Locations = %+v", first.Locations)
			}
			if !first.PublishedAt.Equal(ch.Videos[0].PublishedAt) {
				t.Errorf("PublishedAt = %v, want %v", first.PublishedAt, ch.Videos[0].PublishedAt)
			}
		})
	}
}

func TestStore_UpsertKeepsUnmentionedVideos(t *testing.T) {
	for name, newStore := range testStores() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()
			ctx := context.Background()

			ch := sampleChannel()
			if err := store.UpsertChannel(ctx, ch); err != nil {
				t.Fatalf("UpsertChannel() error = %v", err)
			}

			update := &Channel{
				ChannelID:   ch.ChannelID,
				Name:        "Renamed",
				Subscribers: 1200,
				Videos:      []Video{{VideoID: "9bZkp7q19f0", Title: "Second", Views: 20}},
			}
			if err := store.UpsertChannel(ctx, update); err != nil {
				t.Fatalf("UpsertChannel() update error = %v", err)
			}

			got, err := store.GetChannel(ctx, ch.ChannelID)
			if err != nil {
				t.Fatalf("GetChannel() error = %v", err)
			}
			if got.Name != "Renamed" || got.Subscribers != 1200 {
				t.Errorf("channel not updated: %+v", got)
			}
			if got.UploadsPlaylistID != ch.UploadsPlaylistID {
				t.Errorf("UploadsPlaylistID = %q, want stored value kept", got.UploadsPlaylistID)
			}
			idx := got.VideoIndex()
			if len(idx) != 2 {
				t.Fatalf("videos = %d, want 2", len(idx))
			}
			if idx["9bZkp7q19f0"].Views != 20 {
				t.Errorf("updated video views = %d, want 20", idx["9bZkp7q19f0"].Views)
			}
			if idx["dQw4w9WgXcQ"].Views != 15000 {
				t.Errorf("untouched video views = %d, want 15000", idx["dQw4w9WgXcQ"].Views)
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	for name, newStore := range testStores() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()
			ctx := context.Background()

			_, err := store.GetChannel(ctx, "UCmissingmissingmissing1")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("GetChannel() error = %v, want ErrNotFound", err)
			}
			var storErr *StorageError
			if !errors.As(err, &storErr) || storErr.Entity != "channel" {
				t.Errorf("GetChannel() error = %v, want *StorageError for channel", err)
			}
			if err := store.DeleteChannel(ctx, "UCmissingmissingmissing1"); !IsNotFound(err) {
				t.Errorf("DeleteChannel() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_ListAndDelete(t *testing.T) {
	for name, newStore := range testStores() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()
			ctx := context.Background()

			a := sampleChannel()
			b := &Channel{ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa", Name: "A"}
			for _, ch := range []*Channel{a, b} {
				if err := store.UpsertChannel(ctx, ch); err != nil {
					t.Fatalf("UpsertChannel(%s) error = %v", ch.ChannelID, err)
				}
			}

			list, err := store.ListChannels(ctx)
			if err != nil {
				t.Fatalf("ListChannels() error = %v", err)
			}
			if len(list) != 2 {
				t.Fatalf("ListChannels() len = %d, want 2", len(list))
			}
			for _, ch := range list {
				if len(ch.Videos) != 0 {
					t.Errorf("ListChannels() returned videos for %s", ch.ChannelID)
				}
			}

			if err := store.DeleteChannel(ctx, a.ChannelID); err != nil {
				t.Fatalf("DeleteChannel() error = %v", err)
			}
			if _, err := store.GetChannel(ctx, a.ChannelID); !IsNotFound(err) {
				t.Errorf("GetChannel() after delete error = %v, want ErrNotFound", err)
			}
			list, _ = store.ListChannels(ctx)
			if len(list) != 1 || list[0].ChannelID != b.ChannelID {
				t.Errorf("ListChannels() after delete = %+v", list)
			}
		})
	}
}

func TestStore_UpsertValidation(t *testing.T) {
	for name, newStore := range testStores() {
		t.Run(name, func(t *testing.T) {
			store := newStore(t)
			defer store.Close()
			ctx := context.Background()

			tests := []struct {
				name string
				ch   *Channel
			}{
				{"nil channel", nil},
				{"empty id", &Channel{Name: "x"}},
				{"video without id", &Channel{ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa", Videos: []Video{{Title: "x"}}}},
			}
			for _, tt := range tests {
				if err := store.UpsertChannel(ctx, tt.ch); !errors.Is(err, ErrInvalidInput) {
					t.Errorf("%s: UpsertChannel() error = %v, want ErrInvalidInput", tt.name, err)
				}
			}
		})
	}
}

func TestStore_CachedStoreWithoutRedis(t *testing.T) {
	inner := testStores()["json"](t)
	store := NewCachedStore(inner, nil, 0)
	defer store.Close()
	ctx := context.Background()

	ch := sampleChannel()
	if err := store.UpsertChannel(ctx, ch); err != nil {
		t.Fatalf("UpsertChannel() error = %v", err)
	}
	got, err := store.GetChannel(ctx, ch.ChannelID)
	if err != nil {
		t.Fatalf("GetChannel() error = %v", err)
	}
	if got.Name != ch.Name {
		t.Errorf("Name = %q, want %q", got.Name, ch.Name)
	}
	if store.ttl != ChannelCacheTTL {
		t.Errorf("ttl = %v, want %v", store.ttl, ChannelCacheTTL)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"json", KindJSON, false},
		{"sqlite", KindSQLite, false},
		{"postgres", KindPostgres, false},
		{"mongo", KindMongo, false},
		{"mysql", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnsupportedKind) {
				t.Errorf("ParseKind(%q) error = %v, want ErrUnsupportedKind", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOpen_RequiresURLs(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Options{Kind: KindPostgres}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Open(postgres) error = %v, want ErrInvalidInput", err)
	}
	if _, err := Open(ctx, Options{Kind: KindMongo}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Open(mongo) error = %v, want ErrInvalidInput", err)
	}
	if _, err := Open(ctx, Options{Kind: "bogus"}); !errors.Is(err, ErrUnsupportedKind) {
		t.Errorf("Open(bogus) error = %v, want ErrUnsupportedKind", err)
	}

	store, err := Open(ctx, Options{Kind: KindSQLite, Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	store.Close()
}
