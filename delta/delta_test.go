package delta

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"ytcollect/storage"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestEngine_Videos(t *testing.T) {
	e := NewEngine(fixedClock)
	previous := map[string]storage.Video{
		"video123": {VideoID: "video123", Views: 500, Likes: 10, CommentCount: 3, RefreshCount: 2},
	}
	current := []storage.Video{
		{VideoID: "video123", Views: 1000, Likes: 12, CommentCount: 3},
		{VideoID: "video456", Views: 50},
	}

	d := e.Videos(current, previous)

	if len(d.Updated) != 1 || d.Updated[0].VideoID != "video123" {
		t.Fatalf("Updated = %+v, want video123", d.Updated)
	}
	u := d.Updated[0]
	if u.ViewDelta == nil || *u.ViewDelta != 500 {
		t.Errorf("ViewDelta = %v, want 500", u.ViewDelta)
	}
	if *u.LikeDelta != 2 || *u.CommentDelta != 0 {
		t.Errorf("LikeDelta = %d CommentDelta = %d, want 2 and 0", *u.LikeDelta, *u.CommentDelta)
	}
	if u.RefreshCount != 3 || !u.LastRefreshed.Equal(fixedNow) {
		t.Errorf("refresh metadata = %d %v, want 3 %v", u.RefreshCount, u.LastRefreshed, fixedNow)
	}

	if len(d.New) != 1 || d.New[0].VideoID != "video456" {
		t.Fatalf("New = %+v, want video456", d.New)
	}
	n := d.New[0]
	if n.ViewDelta != nil || n.LikeDelta != nil || n.CommentDelta != nil {
		t.Error("new video carries deltas")
	}
	if n.RefreshCount != 1 {
		t.Errorf("new RefreshCount = %d, want 1", n.RefreshCount)
	}

	// Inputs are untouched.
	if current[0].ViewDelta != nil || current[0].RefreshCount != 0 {
		t.Error("Videos() modified its input")
	}
}

func TestEngine_VideosNewNeverUpdated(t *testing.T) {
	e := NewEngine(nil)
	d := e.Videos([]storage.Video{{VideoID: "a"}, {VideoID: "b"}}, nil)
	if len(d.New) != 2 || len(d.Updated) != 0 {
		t.Errorf("New=%d Updated=%d, want 2 and 0", len(d.New), len(d.Updated))
	}
}

func TestEngine_VideosIdempotent(t *testing.T) {
	e := NewEngine(fixedClock)
	videos := []storage.Video{{VideoID: "a", Views: 10, Likes: 2, CommentCount: 1}}
	d := e.Videos(videos, map[string]storage.Video{"a": videos[0]})
	u := d.Updated[0]
	if *u.ViewDelta != 0 || *u.LikeDelta != 0 || *u.CommentDelta != 0 {
		t.Errorf("deltas = %d/%d/%d, want zeros", *u.ViewDelta, *u.LikeDelta, *u.CommentDelta)
	}
}

func TestVideoDelta_Apply(t *testing.T) {
	e := NewEngine(fixedClock)
	videos := []storage.Video{{VideoID: "b", Views: 2}, {VideoID: "a", Views: 5}}
	d := e.Videos(videos, map[string]storage.Video{"a": {VideoID: "a", Views: 1}})
	got := d.Apply(videos)
	if got[0].VideoID != "b" || got[1].VideoID != "a" {
		t.Fatalf("Apply() order = %s,%s", got[0].VideoID, got[1].VideoID)
	}
	if got[1].ViewDelta == nil || *got[1].ViewDelta != 4 {
		t.Errorf("Apply() a.ViewDelta = %v, want 4", got[1].ViewDelta)
	}
}

func TestEngine_Channel(t *testing.T) {
	var e Engine
	got := e.Channel(
		storage.Channel{Subscribers: 1500, Views: 100000, TotalVideos: 12},
		storage.Channel{Subscribers: 1000, Views: 90000, TotalVideos: 14},
	)
	want := ChannelDelta{SubscriberDelta: 500, ViewDelta: 10000, VideoCountDelta: -2}
	if got != want {
		t.Errorf("Channel() = %+v, want %+v", got, want)
	}
}

func TestEngine_Comments(t *testing.T) {
	var e Engine
	current := map[string][]storage.Comment{
		"v1": {{CommentID: "c1"}, {CommentID: "c2"}, {CommentID: "c3"}},
		"v2": {{CommentID: "x1"}},
		"v3": {{CommentID: "y1"}},
	}
	previous := map[string]map[string]struct{}{
		"v1": {"c1": {}},
		"v2": {"x1": {}},
		"v9": {"z": {}},
	}

	d := e.Comments(current, previous)

	if len(d.NewComments) != 2 || d.NewComments[0].CommentID != "c2" || d.NewComments[1].CommentID != "c3" {
		t.Errorf("NewComments = %+v, want c2,c3", d.NewComments)
	}
	if len(d.VideosWithNew) != 1 || d.VideosWithNew[0] != "v1" {
		t.Errorf("VideosWithNew = %v, want [v1]", d.VideosWithNew)
	}
}

func TestSummarize(t *testing.T) {
	if Summarize(nil, nil, nil) != nil {
		t.Error("Summarize(nil, nil, nil) != nil")
	}

	e := NewEngine(fixedClock)
	vd := e.Videos(
		[]storage.Video{{VideoID: "a", Views: 20, Likes: 3}, {VideoID: "b"}},
		map[string]storage.Video{"a": {VideoID: "a", Views: 5, Likes: 1}},
	)
	cd := &ChannelDelta{SubscriberDelta: 7}
	cmd := &CommentDelta{NewComments: []storage.Comment{{CommentID: "c"}}, VideosWithNew: []string{"a"}}

	s := Summarize(&vd, cd, cmd)
	if s.NewVideos != 1 || s.UpdatedVideos != 1 {
		t.Errorf("counts = %d/%d, want 1/1", s.NewVideos, s.UpdatedVideos)
	}
	if s.TotalViewDelta != 15 || s.TotalLikeDelta != 2 {
		t.Errorf("totals = %d/%d, want 15/2", s.TotalViewDelta, s.TotalLikeDelta)
	}
	if s.NewComments != 1 || s.VideosWithNewComments != 1 || s.Channel.SubscriberDelta != 7 {
		t.Errorf("Summary = %+v", s)
	}
}

func TestCoerce(t *testing.T) {
	n := int64(42)
	tests := []struct {
		name    string
		in      any
		want    int64
		wantErr bool
	}{
		{"nil", nil, 0, false},
		{"int", 15000, 15000, false},
		{"int64", int64(-3), -3, false},
		{"uint64", uint64(7), 7, false},
		{"uint64 overflow", uint64(math.MaxUint64), 0, true},
		{"float64", float64(1000), 1000, false},
		{"float64 fraction", 12.9, 12, false},
		{"NaN", math.NaN(), 0, true},
		{"json.Number", json.Number("16000"), 16000, false},
		{"string", "15000", 15000, false},
		{"string with separators", "1,234,567", 1234567, false},
		{"string padded", " 99 ", 99, false},
		{"empty string", "", 0, false},
		{"float string", "1.5e3", 1500, false},
		{"pointer", &n, 42, false},
		{"nil pointer", (*int64)(nil), 0, false},
		{"word", "many", 0, true},
		{"bool", true, 0, true},
		{"map", map[string]any{}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Coerce(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidMetric) {
				t.Errorf("Coerce(%v) error = %v, want ErrInvalidMetric", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Coerce(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	got, err := Diff("1,000", 500)
	if err != nil || got != 500 {
		t.Errorf("Diff() = %d, %v, want 500", got, err)
	}
	if _, err := Diff("n/a", 1); !errors.Is(err, ErrInvalidMetric) {
		t.Errorf("Diff() error = %v, want ErrInvalidMetric", err)
	}
}
