// Package status reports reader health over the bus and as OpenTelemetry
// gauges.
package status

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/pipeline"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/protocol"
)

type Snapshotter interface {
	Snapshot() pipeline.State
}

type SinkStats interface {
	Stats() playback.Stats
}

// Reporter assembles status reports from the pipeline and the sink.
type Reporter struct {
	nodeID     string
	instanceID string
	started    time.Time
	pipe       Snapshotter
	sink       SinkStats
	clock      func() time.Time
}

// NewReporter builds a reporter. sink may be nil.
func NewReporter(nodeID string, pipe Snapshotter, sink SinkStats) *Reporter {
	return &Reporter{
		nodeID:     nodeID,
		instanceID: uuid.NewString(),
		started:    time.Now().UTC(),
		pipe:       pipe,
		sink:       sink,
		clock:      time.Now,
	}
}

func (r *Reporter) Report() protocol.StatusReport {
	st := r.pipe.Snapshot()
	report := protocol.StatusReport{
		NodeID:      r.nodeID,
		InstanceID:  r.instanceID,
		StartedAt:   r.started,
		QueueDepth:  st.QueueDepth,
		CurrentID:   st.CurrentID,
		CurrentLine: st.CurrentLine,
		TotalLines:  st.TotalLines,
		Paused:      st.Paused,
		Counters: protocol.Counters{
			Submitted:   st.Submitted,
			Completed:   st.Completed,
			Aborted:     st.Aborted,
			Rejected:    st.Rejected,
			Dropped:     st.Dropped,
			Archived:    st.Archived,
			LinesOK:     st.LinesOK,
			LinesFailed: st.LinesFailed,
		},
		Playback:  protocol.PlaybackStatus{Pending: st.SinkPending},
		Timestamp: r.clock().UTC(),
	}
	if r.sink != nil {
		ps := r.sink.Stats()
		report.Playback = protocol.PlaybackStatus{
			SegmentsPlayed:  ps.SegmentsPlayed,
			SegmentsDropped: ps.SegmentsDropped,
			SilenceSeconds:  ps.SilenceWritten.Seconds(),
			Reopens:         ps.Reopens,
			Pending:         ps.Pending,
		}
		if ps.Format.Valid() {
			report.Playback.Format = ps.Format.String()
		}
	}
	return report
}

// Heartbeat publishes the status report on reader.status.<node> at a fixed
// interval and exposes the live queue state as gauges.
type Heartbeat struct {
	cfg      config.NodeConfig
	log      *slog.Logger
	bus      *bus.Client
	reporter *Reporter
	interval time.Duration

	ticker   *time.Ticker
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastSent atomic.Int64

	meter        metric.Meter
	registration metric.Registration
}

func NewHeartbeat(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, reporter *Reporter, log *slog.Logger) *Heartbeat {
	ctx, cancel := context.WithCancel(ctx)
	interval := time.Duration(cfg.HeartbeatInterval) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h := &Heartbeat{
		cfg:      cfg,
		log:      log.With(slog.String("component", "status-heartbeat")),
		bus:      busClient,
		reporter: reporter,
		interval: interval,
		cancel:   cancel,
		meter:    otel.Meter("github.com/loqalabs/loqa-reader/status"),
	}

	if err := h.initMetrics(); err != nil {
		h.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	h.publish()
	h.ticker = time.NewTicker(interval)
	h.wg.Add(1)
	go h.run(ctx)
	return h
}

func (h *Heartbeat) Close() {
	h.cancel()
	if h.ticker != nil {
		h.ticker.Stop()
	}
	h.wg.Wait()
	if h.registration != nil {
		_ = h.registration.Unregister()
	}
}

// Healthy reports whether a heartbeat went out within the last three
// intervals.
func (h *Heartbeat) Healthy() bool {
	last := h.lastSent.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < 3*h.interval
}

func (h *Heartbeat) run(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ticker.C:
			h.publish()
		}
	}
}

func (h *Heartbeat) publish() {
	report := h.reporter.Report()
	if err := h.bus.PublishJSON(protocol.StatusSubject(h.cfg.ID), report); err != nil {
		h.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
		return
	}
	h.lastSent.Store(time.Now().UnixNano())
}

func (h *Heartbeat) initMetrics() error {
	depth, err := h.meter.Int64ObservableGauge("reader.queue.depth", metric.WithDescription("Requests waiting for synthesis"))
	if err != nil {
		return err
	}
	pending, err := h.meter.Int64ObservableGauge("reader.playback.pending", metric.WithDescription("Segments waiting for playback"))
	if err != nil {
		return err
	}
	paused, err := h.meter.Int64ObservableGauge("reader.playback.paused", metric.WithDescription("1 while playback is paused"))
	if err != nil {
		return err
	}
	h.registration, err = h.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		st := h.reporter.pipe.Snapshot()
		obs.ObserveInt64(depth, int64(st.QueueDepth))
		obs.ObserveInt64(pending, int64(st.SinkPending))
		var p int64
		if st.Paused {
			p = 1
		}
		obs.ObserveInt64(paused, p)
		return nil
	}, depth, pending, paused)
	return err
}
