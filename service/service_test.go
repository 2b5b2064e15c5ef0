package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"ytcollect/channelid"
	"ytcollect/collect"
	"ytcollect/storage"
)

const testChannel = "UCabcdefghijklmnopqrstuv"

type fakeRunner struct {
	gotID   string
	gotOpts collect.Options
	err     error
}

func (r *fakeRunner) Run(ctx context.Context, id string, opts collect.Options) (*collect.Result, error) {
	r.gotID, r.gotOpts = id, opts
	if r.err != nil {
		return nil, r.err
	}
	return &collect.Result{
		ChannelID:     id,
		Channel:       &storage.Channel{ChannelID: id, Name: "n"},
		VideosFetched: 3,
		QuotaUsed:     4,
	}, nil
}

type fakeSaver struct {
	ok    bool
	kinds []storage.Kind
}

func (s *fakeSaver) Save(ctx context.Context, res *collect.Result, kind storage.Kind) bool {
	s.kinds = append(s.kinds, kind)
	return s.ok
}

type fakeResolver struct {
	id  string
	err error
}

func (r fakeResolver) Resolve(ctx context.Context, input string) (channelid.Resolution, error) {
	res := channelid.Resolve(input)
	if r.err != nil {
		return res, r.err
	}
	res.Kind, res.ChannelID = channelid.Resolved, r.id
	return res, nil
}

func TestCollect(t *testing.T) {
	runner := &fakeRunner{}
	saver := &fakeSaver{ok: true}
	svc := New(runner, saver, WithStoreKind(storage.KindSQLite), WithLogger(zerolog.Nop()))

	resp, err := svc.Collect(context.Background(), Request{Channel: " https://www.youtube.com/channel/" + testChannel + " "})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.RequestID == "" {
		t.Error("RequestID not generated")
	}
	if resp.ChannelID != testChannel || runner.gotID != testChannel {
		t.Errorf("channel = %q, runner got %q", resp.ChannelID, runner.gotID)
	}
	if runner.gotOpts != collect.DefaultOptions() {
		t.Errorf("zero options should become defaults, got %+v", runner.gotOpts)
	}
	if !resp.Saved || resp.Store != storage.KindSQLite {
		t.Errorf("saved=%v store=%q", resp.Saved, resp.Store)
	}
}

func TestCollect_RequestOverrides(t *testing.T) {
	runner := &fakeRunner{}
	saver := &fakeSaver{ok: false}
	svc := New(runner, saver, WithLogger(zerolog.Nop()))

	opts := collect.Options{FetchComments: true, MaxVideos: 5}
	resp, err := svc.Collect(context.Background(), Request{
		RequestID: "req-7",
		Channel:   testChannel,
		Options:   opts,
		Store:     storage.KindMongo,
	})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.RequestID != "req-7" {
		t.Errorf("RequestID = %q", resp.RequestID)
	}
	if runner.gotOpts != opts {
		t.Errorf("options = %+v, want %+v", runner.gotOpts, opts)
	}
	if resp.Saved {
		t.Error("Saved should mirror the saver")
	}
	if len(saver.kinds) != 1 || saver.kinds[0] != storage.KindMongo {
		t.Errorf("saved kinds = %v", saver.kinds)
	}
}

func TestCollect_DryRun(t *testing.T) {
	saver := &fakeSaver{ok: true}
	svc := New(&fakeRunner{}, saver, WithLogger(zerolog.Nop()))
	resp, err := svc.Collect(context.Background(), Request{Channel: testChannel, DryRun: true})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Saved || len(saver.kinds) != 0 {
		t.Error("dry run must not save")
	}
	if resp.Result == nil {
		t.Error("dry run should still return the result")
	}
}

func TestCollect_ResolveErrors(t *testing.T) {
	errLookup := errors.New("lookup failed")
	tests := []struct {
		name     string
		input    string
		resolver Resolver
		want     error
	}{
		{"invalid", "", nil, channelid.ErrInvalid},
		{"handle without resolver", "@someone", nil, ErrNeedsResolution},
		{"resolver failure", "@someone", fakeResolver{err: errLookup}, errLookup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			opts := []Option{WithLogger(zerolog.Nop())}
			if tt.resolver != nil {
				opts = append(opts, WithResolver(tt.resolver))
			}
			_, err := New(runner, nil, opts...).Collect(context.Background(), Request{Channel: tt.input})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if runner.gotID != "" {
				t.Error("pipeline ran despite resolve failure")
			}
		})
	}
}

func TestCollect_HandleResolved(t *testing.T) {
	runner := &fakeRunner{}
	svc := New(runner, nil, WithResolver(fakeResolver{id: testChannel}), WithLogger(zerolog.Nop()))
	resp, err := svc.Collect(context.Background(), Request{Channel: "@someone"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if runner.gotID != testChannel || resp.Resolution.Form != channelid.FormHandle {
		t.Errorf("runner got %q, resolution %+v", runner.gotID, resp.Resolution)
	}
	if resp.Saved {
		t.Error("nil saver must not report a save")
	}
}

func TestCollect_RunError(t *testing.T) {
	svc := New(&fakeRunner{err: collect.ErrInvalidChannelID}, nil, WithLogger(zerolog.Nop()))
	resp, err := svc.Collect(context.Background(), Request{Channel: testChannel})
	if !errors.Is(err, collect.ErrInvalidChannelID) {
		t.Fatalf("err = %v", err)
	}
	if resp.Result != nil {
		t.Error("no result expected")
	}
}
