// Package pipeline turns submitted text into queued audio one utterance at a
// time and decides which utterances reach the archive.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/fifo"
	"github.com/loqalabs/loqa-reader/internal/synth"
)

const instrumentationName = "github.com/loqalabs/loqa-reader/pipeline"

// Request is one submitted block of text. It is never mutated after Submit.
type Request struct {
	ID        string
	Text      string
	Source    Source
	Seq       uint64
	Submitted time.Time
}

// Cleaner converts raw text into speakable lines.
type Cleaner interface {
	Clean(text string) ([]string, error)
}

// Sink receives finished segments in order. Enqueue is called with the
// pipeline lock held and must not block or call back into the pipeline.
type Sink interface {
	Enqueue(seg audio.Segment)
	StopImmediate()
	TogglePause() bool
	Paused() bool
	Pending() int
}

// Archiver persists the audio of a completed utterance.
type Archiver interface {
	Archive(ctx context.Context, seg audio.Segment, text string) (string, error)
}

type Deps struct {
	Cleaner  Cleaner
	Synth    synth.Synthesizer
	Sink     Sink
	Archiver Archiver // optional
}

type Options struct {
	// PostPause is the silence inserted between consecutive lines.
	PostPause time.Duration
}

// State is a snapshot for status reporting.
type State struct {
	QueueDepth  int
	CurrentID   string
	CurrentLine int
	TotalLines  int
	Paused      bool
	SinkPending int
	Submitted   uint64
	Completed   uint64
	Aborted     uint64
	Rejected    uint64
	Dropped     uint64
	Archived    uint64
	LinesOK     uint64
	LinesFailed uint64
}

type instruments struct {
	utterances    metric.Int64Counter
	lines         metric.Int64Counter
	lineFailures  metric.Int64Counter
	synthDuration metric.Float64Histogram
}

type counters struct {
	submitted   atomic.Uint64
	completed   atomic.Uint64
	aborted     atomic.Uint64
	rejected    atomic.Uint64
	dropped     atomic.Uint64
	archived    atomic.Uint64
	linesOK     atomic.Uint64
	linesFailed atomic.Uint64
}

// Pipeline owns the intake queue and the single worker that synthesizes
// requests in submission order.
type Pipeline struct {
	deps  Deps
	opts  Options
	log   *slog.Logger
	clock func() time.Time

	queue *fifo.Queue[Request]
	seq   atomic.Uint64

	// mu makes dequeue plus token creation, and the cancel check plus sink
	// hand-off, atomic with respect to ForceStop and SkipCurrent.
	mu          sync.Mutex
	cancel      context.CancelFunc
	currentID   string
	currentLine int
	totalLines  int

	obsMu     sync.RWMutex
	observers []Observer

	stats  counters
	tracer trace.Tracer
	inst   instruments

	done chan struct{}
}

func New(deps Deps, opts Options, log *slog.Logger) *Pipeline {
	p := &Pipeline{
		deps:   deps,
		opts:   opts,
		log:    log.With(slog.String("component", "pipeline")),
		clock:  time.Now,
		queue:  fifo.New[Request](),
		tracer: otel.Tracer(instrumentationName),
		done:   make(chan struct{}),
	}
	inst, err := newInstruments(otel.Meter(instrumentationName))
	if err != nil {
		p.log.Warn("failed to initialize metrics", slogError(err))
		inst, _ = newInstruments(noop.NewMeterProvider().Meter(instrumentationName))
	}
	p.inst = inst
	return p
}

func newInstruments(meter metric.Meter) (instruments, error) {
	var inst instruments
	var err error
	if inst.utterances, err = meter.Int64Counter("reader.utterances", metric.WithDescription("Utterances processed by outcome")); err != nil {
		return inst, err
	}
	if inst.lines, err = meter.Int64Counter("reader.lines", metric.WithDescription("Lines synthesized")); err != nil {
		return inst, err
	}
	if inst.lineFailures, err = meter.Int64Counter("reader.line_failures", metric.WithDescription("Lines skipped after a synthesis error")); err != nil {
		return inst, err
	}
	if inst.synthDuration, err = meter.Float64Histogram("reader.synthesis.duration", metric.WithDescription("Per-line synthesis latency"), metric.WithUnit("s")); err != nil {
		return inst, err
	}
	return inst, nil
}

// AddObserver registers o for lifecycle events. Call before Run.
func (p *Pipeline) AddObserver(o Observer) {
	p.obsMu.Lock()
	p.observers = append(p.observers, o)
	p.obsMu.Unlock()
}

// Submit queues text and returns the request id. It never blocks.
func (p *Pipeline) Submit(text string, source Source) string {
	req := Request{
		ID:        uuid.NewString(),
		Text:      text,
		Source:    source,
		Seq:       p.seq.Add(1),
		Submitted: p.clock(),
	}
	p.stats.submitted.Add(1)
	p.emit(Event{Type: EventSubmitted, RequestID: req.ID, Seq: req.Seq, Source: source, Text: text})

	if depth := p.queue.Push(req); depth > 1 {
		p.log.Info("request queued", slog.String("request_id", req.ID), slog.Int("waiting", depth-1))
	}
	return req.ID
}

// ForceStop drops every pending request, aborts the current one and flushes
// playback. It returns the number of dropped requests.
func (p *Pipeline) ForceStop() int {
	p.mu.Lock()
	dropped := p.queue.Clear()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.deps.Sink.StopImmediate()

	for _, req := range dropped {
		p.stats.dropped.Add(1)
		p.emit(Event{Type: EventDropped, RequestID: req.ID, Seq: req.Seq, Source: req.Source})
	}
	p.log.Info("force stop", slog.Int("dropped", len(dropped)))
	return len(dropped)
}

// SkipCurrent aborts the current request and flushes playback. Pending
// requests are kept. It returns the id of the aborted request, if any.
func (p *Pipeline) SkipCurrent() string {
	p.mu.Lock()
	id := p.currentID
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.deps.Sink.StopImmediate()
	p.log.Info("skip current", slog.String("request_id", id))
	return id
}

// TogglePause pauses or resumes playback and returns the new state.
func (p *Pipeline) TogglePause() bool {
	paused := p.deps.Sink.TogglePause()
	p.log.Info("playback pause toggled", slog.Bool("paused", paused))
	return paused
}

func (p *Pipeline) Snapshot() State {
	p.mu.Lock()
	st := State{
		CurrentID:   p.currentID,
		CurrentLine: p.currentLine,
		TotalLines:  p.totalLines,
	}
	p.mu.Unlock()

	st.QueueDepth = p.queue.Len()
	st.Paused = p.deps.Sink.Paused()
	st.SinkPending = p.deps.Sink.Pending()
	st.Submitted = p.stats.submitted.Load()
	st.Completed = p.stats.completed.Load()
	st.Aborted = p.stats.aborted.Load()
	st.Rejected = p.stats.rejected.Load()
	st.Dropped = p.stats.dropped.Load()
	st.Archived = p.stats.archived.Load()
	st.LinesOK = p.stats.linesOK.Load()
	st.LinesFailed = p.stats.linesFailed.Load()
	return st
}

// Done is closed when Run returns.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Run processes requests until ctx is cancelled. It must be called once.
// Synthesis runs under ctx, so skip and stop never interrupt an in-flight
// backend call.
func (p *Pipeline) Run(ctx context.Context) {
	defer close(p.done)
	p.log.Info("pipeline worker started")
	for {
		req, token, ok := p.next(ctx)
		if !ok {
			p.log.Info("pipeline worker stopped")
			return
		}
		p.process(ctx, req, token)
		p.finish()
	}
}

func (p *Pipeline) next(ctx context.Context) (Request, context.Context, bool) {
	for {
		p.mu.Lock()
		req, ok := p.queue.TryPop()
		var token context.Context
		if ok {
			token, p.cancel = context.WithCancel(context.Background())
			p.currentID = req.ID
			p.currentLine, p.totalLines = 0, 0
		}
		p.mu.Unlock()
		if ok {
			return req, token, true
		}

		select {
		case <-p.queue.Ready():
		case <-ctx.Done():
			return Request{}, nil, false
		}
	}
}

func (p *Pipeline) finish() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = nil
	p.currentID = ""
	p.currentLine, p.totalLines = 0, 0
	p.mu.Unlock()
}

func (p *Pipeline) setProgress(line, total int) {
	p.mu.Lock()
	p.currentLine, p.totalLines = line, total
	p.mu.Unlock()
}

func (p *Pipeline) process(ctx context.Context, req Request, token context.Context) {
	ctx, span := p.tracer.Start(ctx, "pipeline.utterance", trace.WithAttributes(
		attribute.String("request.id", req.ID),
		attribute.String("request.source", string(req.Source)),
	))
	defer span.End()

	log := p.log.With(slog.String("request_id", req.ID))
	base := Event{RequestID: req.ID, Seq: req.Seq, Source: req.Source}
	started := time.Now()

	lines, err := p.deps.Cleaner.Clean(req.Text)
	if err != nil {
		log.Debug("text rejected", slogError(err))
		p.stats.rejected.Add(1)
		p.countUtterance(ctx, span, "rejected")
		p.emit(with(base, EventRejected, func(e *Event) { e.Error = err.Error() }))
		return
	}

	total := len(lines)
	span.SetAttributes(attribute.Int("utterance.lines", total))
	log.Info("synthesis started", slog.Int("lines", total), slog.Int("waiting", p.queue.Len()))
	p.setProgress(0, total)
	p.emit(with(base, EventStarted, func(e *Event) { e.Lines = total }))

	var segments []audio.Segment
	aborted := false
	for i, line := range lines {
		if token.Err() != nil {
			aborted = true
			break
		}
		p.setProgress(i+1, total)

		seg, err := p.synthesizeLine(ctx, base, i+1, total, line)
		if err != nil {
			if ctx.Err() != nil {
				aborted = true
				break
			}
			continue
		}
		if !p.enqueueLine(token, seg, i < total-1, &segments) {
			aborted = true
			break
		}
	}

	elapsed := time.Since(started)
	if aborted {
		log.Info("utterance aborted")
		p.stats.aborted.Add(1)
		p.countUtterance(ctx, span, "aborted")
		p.emit(with(base, EventAborted, func(e *Event) { e.Lines = total; e.Duration = elapsed }))
		return
	}

	log.Info("synthesis completed", slog.Duration("elapsed", elapsed), slog.Int("segments", len(segments)))
	p.stats.completed.Add(1)
	p.countUtterance(ctx, span, "completed")
	p.emit(with(base, EventCompleted, func(e *Event) { e.Lines = total; e.Duration = elapsed }))

	if len(segments) == 0 || p.deps.Archiver == nil {
		return
	}
	p.archive(ctx, log, base, segments, strings.Join(lines, "\n"))
}

// enqueueLine hands a synthesized line and its trailing pause to the sink
// unless the token was cancelled. The check and the hand-off share p.mu with
// ForceStop and SkipCurrent, so a cancel either discards the line here or
// lands before the flush that follows it.
func (p *Pipeline) enqueueLine(token context.Context, seg audio.Segment, pause bool, segments *[]audio.Segment) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if token.Err() != nil {
		return false
	}
	p.deps.Sink.Enqueue(seg)
	*segments = append(*segments, seg)
	if pause && p.opts.PostPause > 0 {
		silence := audio.Silence(seg.Format, p.opts.PostPause)
		p.deps.Sink.Enqueue(silence)
		*segments = append(*segments, silence)
	}
	return true
}

func (p *Pipeline) synthesizeLine(ctx context.Context, base Event, n, total int, line string) (audio.Segment, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.line", trace.WithAttributes(
		attribute.Int("line.index", n),
		attribute.Int("line.runes", len([]rune(line))),
	))
	defer span.End()

	started := time.Now()
	seg, err := p.deps.Synth.Synthesize(ctx, line)
	p.inst.synthDuration.Record(ctx, time.Since(started).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.stats.linesFailed.Add(1)
		p.inst.lineFailures.Add(ctx, 1)
		p.log.Warn("line synthesis failed",
			slog.String("request_id", base.RequestID),
			slog.Int("line", n),
			slog.Int("lines", total),
			slogError(err))
		p.emit(with(base, EventLineFailed, func(e *Event) {
			e.Line, e.Lines, e.Text, e.Error = n, total, line, err.Error()
		}))
		return audio.Segment{}, err
	}

	p.stats.linesOK.Add(1)
	p.inst.lines.Add(ctx, 1)
	p.emit(with(base, EventLineSynthesized, func(e *Event) {
		e.Line, e.Lines, e.Text, e.Duration = n, total, line, seg.Duration()
	}))
	return seg, nil
}

func (p *Pipeline) archive(ctx context.Context, log *slog.Logger, base Event, segments []audio.Segment, text string) {
	merged, err := audio.Concat(segments)
	if err == nil {
		var path string
		path, err = p.deps.Archiver.Archive(ctx, merged, text)
		if err == nil {
			log.Info("utterance archived", slog.String("path", path))
			p.stats.archived.Add(1)
			p.emit(with(base, EventArchived, func(e *Event) { e.Path = path; e.Duration = merged.Duration() }))
			return
		}
	}
	log.Error("archive failed", slogError(err))
	p.emit(with(base, EventArchiveFailed, func(e *Event) { e.Error = err.Error() }))
}

func (p *Pipeline) countUtterance(ctx context.Context, span trace.Span, outcome string) {
	span.SetAttributes(attribute.String("utterance.outcome", outcome))
	p.inst.utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (p *Pipeline) emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = p.clock().UTC()
	}
	p.obsMu.RLock()
	observers := p.observers
	p.obsMu.RUnlock()
	for _, o := range observers {
		o.Observe(e)
	}
}

func with(base Event, typ EventType, fill func(*Event)) Event {
	e := base
	e.Type = typ
	if fill != nil {
		fill(&e)
	}
	return e
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
