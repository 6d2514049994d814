package control

import (
	"log/slog"
	"sync/atomic"

	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/pipeline"
	"github.com/loqalabs/loqa-reader/internal/protocol"
)

// EventPublisher mirrors pipeline events onto reader.event.<type>. NATS
// buffers outgoing messages, so Observe returns without waiting on the
// network.
type EventPublisher struct {
	bus    *bus.Client
	log    *slog.Logger
	failed atomic.Int64
}

func NewEventPublisher(busClient *bus.Client, log *slog.Logger) *EventPublisher {
	return &EventPublisher{
		bus: busClient,
		log: log.With(slog.String("component", "event-publisher")),
	}
}

func (p *EventPublisher) Observe(e pipeline.Event) {
	msg := protocol.UtteranceEvent{
		Type:      string(e.Type),
		RequestID: e.RequestID,
		Seq:       e.Seq,
		Source:    string(e.Source),
		Line:      e.Line,
		Lines:     e.Lines,
		Text:      e.Text,
		Path:      e.Path,
		Error:     e.Error,
		Duration:  e.Duration.Seconds(),
		Timestamp: e.Timestamp,
	}
	if err := p.bus.PublishJSON(protocol.EventSubject(msg.Type), msg); err != nil {
		if n := p.failed.Add(1); n == 1 || n%100 == 0 {
			p.log.Warn("failed to publish pipeline event", slog.String("type", msg.Type), slog.Int64("failures", n), slogError(err))
		}
	}
}

// Failures reports how many events could not be published.
func (p *EventPublisher) Failures() int64 { return p.failed.Load() }
