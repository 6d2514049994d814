package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-reader/internal/pipeline"
)

const recorderBuffer = 256

type eventPayload struct {
	Source   string  `json:"source,omitempty"`
	Lines    int     `json:"lines,omitempty"`
	Text     string  `json:"text,omitempty"`
	Path     string  `json:"path,omitempty"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration_seconds,omitempty"`
}

// Recorder journals pipeline events. Observe never blocks; events that do
// not fit in the buffer are counted and dropped.
type Recorder struct {
	store   *Store
	log     *slog.Logger
	events  chan pipeline.Event
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewRecorder(store *Store, log *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		log:    log.With(slog.String("component", "eventstore.recorder")),
		events: make(chan pipeline.Event, recorderBuffer),
		done:   make(chan struct{}),
	}
}

func (r *Recorder) Observe(e pipeline.Event) {
	select {
	case r.events <- e:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.log.Warn("event journal backlog full, dropping events", slog.Int64("dropped", n))
		}
	}
}

// Dropped reports how many events were discarded.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Run writes events until ctx is cancelled, then drains what is buffered.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case e := <-r.events:
			r.write(ctx, e)
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case e := <-r.events:
			r.write(ctx, e)
		default:
			return
		}
	}
}

// Done is closed when Run has returned.
func (r *Recorder) Done() <-chan struct{} { return r.done }

func (r *Recorder) write(ctx context.Context, e pipeline.Event) {
	if e.Type == pipeline.EventSubmitted {
		err := r.store.AppendUtterance(ctx, Utterance{
			RequestID: e.RequestID,
			Seq:       e.Seq,
			Source:    string(e.Source),
			Text:      e.Text,
			CreatedAt: e.Timestamp,
		})
		if err != nil {
			r.log.Warn("failed to journal utterance", slog.String("request_id", e.RequestID), slog.String("error", err.Error()))
			return
		}
	}

	if status, ok := statusFor(e.Type); ok {
		if err := r.store.UpdateStatus(ctx, e.RequestID, status, e.Lines, e.Path); err != nil {
			r.log.Warn("failed to update utterance status", slog.String("request_id", e.RequestID), slog.String("error", err.Error()))
		}
	}

	payload, err := json.Marshal(eventPayload{
		Source:   string(e.Source),
		Lines:    e.Lines,
		Text:     e.Text,
		Path:     e.Path,
		Error:    e.Error,
		Duration: e.Duration.Seconds(),
	})
	if err != nil {
		r.log.Warn("failed to marshal event payload", slog.String("error", err.Error()))
		return
	}
	err = r.store.AppendEvent(ctx, Event{
		RequestID: e.RequestID,
		Type:      string(e.Type),
		Line:      e.Line,
		Payload:   payload,
		CreatedAt: e.Timestamp,
	})
	if err != nil {
		r.log.Warn("failed to journal event", slog.String("request_id", e.RequestID), slog.String("type", string(e.Type)), slog.String("error", err.Error()))
	}
}

func statusFor(t pipeline.EventType) (string, bool) {
	switch t {
	case pipeline.EventRejected, pipeline.EventStarted, pipeline.EventAborted,
		pipeline.EventCompleted, pipeline.EventArchived, pipeline.EventDropped:
		return string(t), true
	case pipeline.EventArchiveFailed:
		return "completed", true
	}
	return "", false
}
