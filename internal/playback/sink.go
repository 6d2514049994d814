package playback

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/fifo"
)

const defaultPollInterval = 50 * time.Millisecond

// Options tunes the sink loop.
type Options struct {
	// PollInterval bounds how long the worker waits for a segment and sets
	// the size of every chunk handed to the stream.
	PollInterval time.Duration
}

// Stats is a point-in-time view of the sink counters.
type Stats struct {
	SegmentsPlayed  int64
	SegmentsDropped int64
	SilenceWritten  time.Duration
	Reopens         int64
	Pending         int
	Paused          bool
	Format          audio.Format
}

type queued struct {
	seg   audio.Segment
	epoch uint64
}

// Sink plays queued segments through a single long-lived stream. Idle time
// and pause are filled with silence so the device never underruns.
type Sink struct {
	device Device
	poll   time.Duration
	log    *slog.Logger

	// mu orders enqueue against StopImmediate so each item carries the
	// flush epoch that was current when it was queued.
	mu    sync.Mutex
	queue *fifo.Queue[queued]
	epoch atomic.Uint64

	paused atomic.Bool

	played  atomic.Int64
	dropped atomic.Int64
	silence atomic.Int64
	reopens atomic.Int64
	format  atomic.Value

	// owned by the Run goroutine
	stream     Stream
	silenceSeg audio.Segment

	done chan struct{}
}

func NewSink(device Device, opts Options, log *slog.Logger) *Sink {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Sink{
		device: device,
		poll:   opts.PollInterval,
		log:    log.With(slog.String("component", "playback.sink")),
		queue:  fifo.New[queued](),
		done:   make(chan struct{}),
	}
}

// Enqueue schedules seg for playback. It never blocks.
func (s *Sink) Enqueue(seg audio.Segment) {
	if seg.Empty() || !seg.Format.Valid() {
		return
	}
	s.mu.Lock()
	s.queue.Push(queued{seg: seg, epoch: s.epoch.Load()})
	s.mu.Unlock()
}

// StopImmediate discards queued audio and the remainder of the segment being
// played. The stream stays open.
func (s *Sink) StopImmediate() {
	s.mu.Lock()
	s.epoch.Add(1)
	dropped := s.queue.Clear()
	s.mu.Unlock()
	if len(dropped) > 0 {
		s.dropped.Add(int64(len(dropped)))
	}
}

// TogglePause flips the pause flag and returns the new state.
func (s *Sink) TogglePause() bool {
	for {
		cur := s.paused.Load()
		if s.paused.CompareAndSwap(cur, !cur) {
			return !cur
		}
	}
}

func (s *Sink) Paused() bool { return s.paused.Load() }

func (s *Sink) Pending() int { return s.queue.Len() }

func (s *Sink) Stats() Stats {
	st := Stats{
		SegmentsPlayed:  s.played.Load(),
		SegmentsDropped: s.dropped.Load(),
		SilenceWritten:  time.Duration(s.silence.Load()),
		Reopens:         s.reopens.Load(),
		Pending:         s.queue.Len(),
		Paused:          s.paused.Load(),
	}
	if f, ok := s.format.Load().(audio.Format); ok {
		st.Format = f
	}
	return st
}

// Done is closed once Run has returned and the stream is closed.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Run drives the stream until ctx is cancelled. It must be called once.
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)
	defer s.closeStream()

	s.log.Info("playback sink started", slog.Duration("poll_interval", s.poll))
	for {
		if ctx.Err() != nil {
			s.log.Info("playback sink stopped")
			return
		}

		item, ok := s.queue.Pop(ctx, s.poll)
		if !ok {
			if ctx.Err() == nil && s.stream != nil {
				s.writeSilence()
			}
			continue
		}
		if s.stale(item) {
			s.dropped.Add(1)
			continue
		}
		if err := s.ensureStream(item.seg.Format); err != nil {
			s.log.Error("open playback stream failed", slog.String("format", item.seg.Format.String()), slog.String("error", err.Error()))
			s.dropped.Add(1)
			continue
		}
		if s.play(ctx, item) {
			s.played.Add(1)
		} else {
			s.dropped.Add(1)
		}
	}
}

func (s *Sink) stale(item queued) bool {
	return item.epoch != s.epoch.Load()
}

// play writes item chunk by chunk and reports whether it finished.
func (s *Sink) play(ctx context.Context, item queued) bool {
	chunk := s.stream.Format().FramesFor(s.poll)
	if chunk <= 0 {
		chunk = 1
	}
	frames := item.seg.Frames()
	for from := 0; from < frames; from += chunk {
		for s.paused.Load() {
			if s.stale(item) || ctx.Err() != nil {
				return false
			}
			if !s.writeSilence() {
				return false
			}
		}
		if s.stale(item) || ctx.Err() != nil {
			return false
		}
		part := item.seg.Slice(from, from+chunk)
		if err := s.stream.Write(part.Samples); err != nil {
			s.log.Error("playback write failed", slog.String("error", err.Error()))
			s.closeStream()
			return false
		}
	}
	return true
}

func (s *Sink) ensureStream(format audio.Format) error {
	if s.stream != nil && s.stream.Format() == format {
		return nil
	}
	if s.stream != nil {
		s.log.Info("reopening playback stream", slog.String("from", s.stream.Format().String()), slog.String("to", format.String()))
		s.reopens.Add(1)
	}
	s.closeStream()

	stream, err := s.device.Open(format)
	if err != nil {
		return err
	}
	s.stream = stream
	s.silenceSeg = audio.Silence(format, s.poll)
	s.format.Store(format)
	return nil
}

func (s *Sink) writeSilence() bool {
	if s.stream == nil {
		return false
	}
	if err := s.stream.Write(s.silenceSeg.Samples); err != nil {
		s.log.Error("playback silence write failed", slog.String("error", err.Error()))
		s.closeStream()
		return false
	}
	s.silence.Add(int64(s.silenceSeg.Duration()))
	return true
}

func (s *Sink) closeStream() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		s.log.Warn("close playback stream failed", slog.String("error", err.Error()))
	}
	s.stream = nil
	s.silenceSeg = audio.Segment{}
}
