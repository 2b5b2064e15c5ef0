package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewJSONStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.json")

	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	defer store.Close()

	// File should exist after creation
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("store file was not created")
	}
}

func TestJSONStore_LoadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.json")

	store, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	ctx := context.Background()
	if err := store.UpsertChannel(ctx, sampleChannel()); err != nil {
		t.Fatalf("UpsertChannel() error = %v", err)
	}
	store.Close()

	// Reopen and verify
	store2, err := NewJSONStore(path)
	if err != nil {
		t.Fatalf("NewJSONStore() reopen error = %v", err)
	}
	defer store2.Close()

	loaded, err := store2.GetChannel(ctx, "UC_x5XG1OV2P6uZZ5FSM9Ttw")
	if err != nil {
		t.Fatalf("GetChannel() error = %v", err)
	}
	if loaded.Name != "Google Developers" {
		t.Errorf("loaded channel name = %q, want %q", loaded.Name, "Google Developers")
	}
	if len(loaded.Videos) != 2 {
		t.Errorf("loaded videos = %d, want 2", len(loaded.Videos))
	}
}

func TestJSONStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := NewJSONStore(path)
	if !errors.Is(err, ErrStorageCorrupt) {
		t.Errorf("NewJSONStore() error = %v, want ErrStorageCorrupt", err)
	}
}

func TestJSONStore_LockHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.json")

	lock := NewFileLock(path)
	if err := lock.Lock(time.Second); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer lock.Unlock()

	// A second lock on the same path must time out.
	other := NewFileLock(path)
	if err := other.Lock(50 * time.Millisecond); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("second Lock() error = %v, want ErrLockTimeout", err)
	}
}

func TestJSONStore_VideoMovesChannel(t *testing.T) {
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "test.json"))
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	a := &Channel{ChannelID: "UCaaaaaaaaaaaaaaaaaaaaaa", Videos: []Video{{VideoID: "vid00000001"}}}
	b := &Channel{ChannelID: "UCbbbbbbbbbbbbbbbbbbbbbb", Videos: []Video{{VideoID: "vid00000001"}}}
	if err := store.UpsertChannel(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertChannel(ctx, b); err != nil {
		t.Fatal(err)
	}

	gotA, _ := store.GetChannel(ctx, a.ChannelID)
	gotB, _ := store.GetChannel(ctx, b.ChannelID)
	if len(gotA.Videos) != 0 {
		t.Errorf("channel a videos = %d, want 0", len(gotA.Videos))
	}
	if len(gotB.Videos) != 1 || gotB.Videos[0].ChannelID != b.ChannelID {
		t.Errorf("channel b videos = %+v", gotB.Videos)
	}
}

func TestAtomicWriter_Abort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	w, err := NewAtomicWriter(path)
	if err != nil {
		t.Fatalf("NewAtomicWriter() error = %v", err)
	}
	w.Write([]byte("partial"))
	w.Abort()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("target file exists after Abort()")
	}
}
