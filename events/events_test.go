package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"ytcollect/collect"
	"ytcollect/persist"
	"ytcollect/service"
	"ytcollect/storage"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu         sync.Mutex
	msgs       []published
	handlers   map[string]nats.MsgHandler
	publishErr error
	subErr     error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.msgs = append(c.msgs, published{subject, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if c.subErr != nil {
		return nil, c.subErr
	}
	if c.handlers == nil {
		c.handlers = make(map[string]nats.MsgHandler)
	}
	c.handlers[subject] = cb
	return nil, nil
}

func (c *fakeConn) on(subject string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, m := range c.msgs {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

type fakeCollector struct {
	got  service.Request
	err  error
	wait time.Duration
}

func (f *fakeCollector) Collect(ctx context.Context, req service.Request) (*service.Response, error) {
	f.got = req
	if f.wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.wait):
		}
	}
	if f.err != nil {
		return &service.Response{RequestID: req.RequestID}, f.err
	}
	return &service.Response{
		RequestID: req.RequestID,
		ChannelID: "UCabcdefghijklmnopqrstuv",
		Result:    &collect.Result{VideosFetched: 2},
		Saved:     true,
		Store:     storage.KindJSON,
	}, nil
}

func TestPublisher_Notify(t *testing.T) {
	conn := &fakeConn{}
	p := NewPublisher(conn)
	err := p.Notify(context.Background(), persist.Saved{RunID: "r1", ChannelID: "UC_x", Videos: 3})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	msgs := conn.on(SubjectCollected)
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	var ev CollectedEvent
	if err := json.Unmarshal(msgs[0].data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.RunID != "r1" || ev.ChannelID != "UC_x" || ev.Videos != 3 || ev.Source != "ytcollect" {
		t.Errorf("event = %+v", ev)
	}
}

func TestPublisher_NotifyError(t *testing.T) {
	p := NewPublisher(&fakeConn{publishErr: nats.ErrConnectionClosed})
	if err := p.Notify(context.Background(), persist.Saved{}); !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestWorker_Handle(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		reply     string
		collector *fakeCollector
		wantErr   string
		wantSaved bool
	}{
		{
			name:      "success with reply subject",
			data:      `{"request_id":"q1","channel":"@someone","fetch_videos":true,"max_videos":5}`,
			reply:     "_INBOX.abc",
			collector: &fakeCollector{},
			wantSaved: true,
		},
		{
			name:      "collector error",
			data:      `{"request_id":"q2","channel":"nope"}`,
			collector: &fakeCollector{err: service.ErrNeedsResolution},
			wantErr:   service.ErrNeedsResolution.Error(),
		},
		{
			name:      "malformed",
			data:      `{`,
			collector: &fakeCollector{},
			wantErr:   "malformed request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{}
			w := NewWorker(conn, tt.collector, WithLogger(zerolog.Nop()))
			w.Handle(context.Background(), &nats.Msg{Subject: SubjectCollect, Reply: tt.reply, Data: []byte(tt.data)})

			results := conn.on(SubjectCollectResult)
			if len(results) != 1 {
				t.Fatalf("results = %d, want 1", len(results))
			}
			if tt.reply != "" && len(conn.on(tt.reply)) != 1 {
				t.Error("no reply on the message's reply subject")
			}

			var r struct {
				RequestID string `json:"request_id"`
				Saved     bool   `json:"saved"`
				Error     string `json:"error"`
			}
			if err := json.Unmarshal(results[0].data, &r); err != nil {
				t.Fatal(err)
			}
			if tt.wantErr == "" && r.Error != "" {
				t.Errorf("unexpected error %q", r.Error)
			}
			if tt.wantErr != "" && (r.Error == "" || !strings.Contains(r.Error, tt.wantErr)) {
				t.Errorf("error = %q, want %q", r.Error, tt.wantErr)
			}
			if r.Saved != tt.wantSaved {
				t.Errorf("saved = %v, want %v", r.Saved, tt.wantSaved)
			}
		})
	}
}

func TestWorker_HandleDecodesOptions(t *testing.T) {
	c := &fakeCollector{}
	w := NewWorker(&fakeConn{}, c, WithLogger(zerolog.Nop()))
	w.Handle(context.Background(), &nats.Msg{
		Subject: SubjectCollect,
		Data:    []byte(`{"channel":"UCabcdefghijklmnopqrstuv","fetch_comments":true,"max_comments_per_video":7,"store":"sqlite","dry_run":true}`),
	})
	if !c.got.FetchComments || c.got.MaxCommentsPerVideo != 7 || c.got.Store != storage.KindSQLite || !c.got.DryRun {
		t.Errorf("request = %+v", c.got)
	}
}

func TestWorker_Timeout(t *testing.T) {
	conn := &fakeConn{}
	w := NewWorker(conn, &fakeCollector{wait: time.Second}, WithTimeout(10*time.Millisecond), WithLogger(zerolog.Nop()))
	w.Handle(context.Background(), &nats.Msg{Subject: SubjectCollect, Data: []byte(`{"channel":"x"}`)})

	results := conn.on(SubjectCollectResult)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if !strings.Contains(string(results[0].data), "deadline exceeded") {
		t.Errorf("reply = %s", results[0].data)
	}
}

func TestWorker_StartStop(t *testing.T) {
	conn := &fakeConn{}
	c := &fakeCollector{}
	w := NewWorker(conn, c, WithLogger(zerolog.Nop()))
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h, ok := conn.handlers[SubjectCollect]
	if !ok {
		t.Fatal("not subscribed")
	}
	h(&nats.Msg{Subject: SubjectCollect, Data: []byte(`{"request_id":"via-sub","channel":"x"}`)})
	if c.got.RequestID != "via-sub" {
		t.Errorf("handler did not reach collector: %+v", c.got)
	}
	w.Stop()
	w.Stop()
}

func TestWorker_StartError(t *testing.T) {
	w := NewWorker(&fakeConn{subErr: nats.ErrConnectionClosed}, &fakeCollector{}, WithLogger(zerolog.Nop()))
	if err := w.Start(context.Background()); !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestSubjectLabel(t *testing.T) {
	if got := subjectLabel("_INBOX.xyz.1"); got != "_INBOX" {
		t.Errorf("inbox label = %q", got)
	}
	if got := subjectLabel(SubjectCollected); got != SubjectCollected {
		t.Errorf("label = %q", got)
	}
}
