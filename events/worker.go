package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ytcollect/metrics"
	"ytcollect/service"
)

// Collector runs one collection request.
type Collector interface {
	Collect(ctx context.Context, req service.Request) (*service.Response, error)
}

// Reply is sent for every request: to the message's reply subject when set
// and always on SubjectCollectResult.
type Reply struct {
	*service.Response
	Error string `json:"error,omitempty"`
}

// Worker consumes SubjectCollect and runs each request through a Collector.
// Requests are handled one at a time, so collections never overlap.
type Worker struct {
	conn      Conn
	collector Collector
	timeout   time.Duration
	logger    zerolog.Logger

	mu     sync.Mutex
	sub    *nats.Subscription
	cancel context.CancelFunc
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithTimeout bounds each collection. Zero means no bound.
func WithTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.timeout = d }
}

func WithLogger(l zerolog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

func NewWorker(conn Conn, c Collector, opts ...WorkerOption) *Worker {
	w := &Worker{conn: conn, collector: c, logger: log.Logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start subscribes. Handlers run with a context derived from ctx that Stop
// cancels.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	workerCtx, cancel := context.WithCancel(ctx)
	sub, err := w.conn.Subscribe(SubjectCollect, func(msg *nats.Msg) {
		w.Handle(workerCtx, msg)
	})
	if err != nil {
		cancel()
		return err
	}
	w.sub, w.cancel = sub, cancel
	w.logger.Info().Str("subject", SubjectCollect).Msg("events: worker subscribed")
	return nil
}

// Stop unsubscribes and cancels in-flight work.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		if err := w.sub.Unsubscribe(); err != nil {
			w.logger.Warn().Err(err).Msg("events: unsubscribe failed")
		}
		w.sub = nil
	}
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

// Handle processes one request message.
func (w *Worker) Handle(ctx context.Context, msg *nats.Msg) {
	metrics.NatsMessagesReceived.WithLabelValues(msg.Subject).Inc()

	var req service.Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		w.logger.Warn().Err(err).Msg("events: malformed collect request")
		w.reply(msg, Reply{Error: "malformed request: " + err.Error()})
		return
	}

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	w.logger.Debug().Str("request_id", req.RequestID).Str("channel", req.Channel).Msg("events: collect request")
	resp, err := w.collector.Collect(ctx, req)
	r := Reply{Response: resp}
	if err != nil {
		r.Error = err.Error()
	}
	w.reply(msg, r)
}

func (w *Worker) reply(msg *nats.Msg, r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		w.logger.Error().Err(err).Msg("events: encode reply")
		return
	}
	if msg.Reply != "" {
		if err := publish(w.conn, msg.Reply, data); err != nil {
			w.logger.Warn().Err(err).Msg("events: reply failed")
		}
	}
	if err := publish(w.conn, SubjectCollectResult, data); err != nil {
		w.logger.Warn().Err(err).Msg("events: publish result failed")
	}
}
