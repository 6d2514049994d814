package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var mono = audio.Format{SampleRate: 8000, Channels: 1}

// fakeDevice records every write. Writes take a little wall time so a
// paused sink does not spin.
type fakeDevice struct {
	mu        sync.Mutex
	opens     []audio.Format
	closes    int
	writes    [][]float32
	failOpen  error
	failWrite error
}

func (d *fakeDevice) Open(format audio.Format) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOpen != nil {
		return nil, d.failOpen
	}
	d.opens = append(d.opens, format)
	return &fakeStream{dev: d, format: format}, nil
}

func (d *fakeDevice) snapshot() (opens []audio.Format, closes int, writes [][]float32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]audio.Format(nil), d.opens...), d.closes, append([][]float32(nil), d.writes...)
}

// nonSilent returns the concatenation of every write that carries audio.
func (d *fakeDevice) nonSilent() []float32 {
	_, _, writes := d.snapshot()
	var out []float32
	for _, w := range writes {
		for _, v := range w {
			if v != 0 {
				out = append(out, w...)
				break
			}
		}
	}
	return out
}

type fakeStream struct {
	dev    *fakeDevice
	format audio.Format
}

func (s *fakeStream) Format() audio.Format { return s.format }

func (s *fakeStream) Write(samples []float32) error {
	time.Sleep(time.Millisecond)
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.failWrite != nil {
		return s.dev.failWrite
	}
	s.dev.writes = append(s.dev.writes, append([]float32(nil), samples...))
	return nil
}

func (s *fakeStream) Close() error {
	s.dev.mu.Lock()
	s.dev.closes++
	s.dev.mu.Unlock()
	return nil
}

func tone(format audio.Format, d time.Duration, level float32) audio.Segment {
	seg := audio.Silence(format, d)
	for i := range seg.Samples {
		seg.Samples[i] = level
	}
	return seg
}

func startSink(t *testing.T, dev Device) (*Sink, context.CancelFunc) {
	t.Helper()
	sink := NewSink(dev, Options{PollInterval: 10 * time.Millisecond}, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-sink.Done()
	})
	return sink, cancel
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSinkPlaysSegmentsInOrder(t *testing.T) {
	dev := &fakeDevice{}
	sink, _ := startSink(t, dev)

	sink.Enqueue(tone(mono, 30*time.Millisecond, 0.1))
	sink.Enqueue(tone(mono, 30*time.Millisecond, 0.2))
	waitFor(t, func() bool { return sink.Stats().SegmentsPlayed == 2 })

	played := dev.nonSilent()
	if len(played) != 2*mono.FramesFor(30*time.Millisecond) {
		t.Fatalf("unexpected sample count %d", len(played))
	}
	if played[0] != 0.1 || played[len(played)-1] != 0.2 {
		t.Fatalf("segments played out of order")
	}
}

func TestSinkWritesInPollSizedChunks(t *testing.T) {
	dev := &fakeDevice{}
	sink, _ := startSink(t, dev)

	sink.Enqueue(tone(mono, 35*time.Millisecond, 0.5))
	waitFor(t, func() bool { return sink.Stats().SegmentsPlayed == 1 })

	chunk := mono.FramesFor(10 * time.Millisecond)
	_, _, writes := dev.snapshot()
	for _, w := range writes {
		if len(w) > chunk {
			t.Fatalf("write of %d samples exceeds chunk %d", len(w), chunk)
		}
	}
}

func TestSinkKeepsStreamAliveWithSilence(t *testing.T) {
	dev := &fakeDevice{}
	sink, _ := startSink(t, dev)

	sink.Enqueue(tone(mono, 10*time.Millisecond, 0.3))
	waitFor(t, func() bool { return sink.Stats().SilenceWritten >= 50*time.Millisecond })

	opens, closes, _ := dev.snapshot()
	if len(opens) != 1 || closes != 0 {
		t.Fatalf("expected one open stream, got opens=%d closes=%d", len(opens), closes)
	}
}

func TestSinkNoSilenceBeforeFirstSegment(t *testing.T) {
	dev := &fakeDevice{}
	sink, _ := startSink(t, dev)

	time.Sleep(50 * time.Millisecond)
	if sink.Stats().SilenceWritten != 0 {
		t.Fatal("silence written without an open stream")
	}
	if opens, _, _ := dev.snapshot(); len(opens) != 0 {
		t.Fatal("stream opened without audio")
	}
}

func TestSinkStopImmediateFlushesWithoutClosing(t *testing.T) {
	dev := &fakeDevice{}
	sink, _ := startSink(t, dev)

	long := tone(mono, time.Second, 0.4)
	sink.Enqueue(long)
	sink.Enqueue(tone(mono, time.Second, 0.6))
	waitFor(t, func() bool { return len(dev.nonSilent()) > 0 })

	sink.StopImmediate()
	if sink.Pending() != 0 {
		t.Fatal("queue not cleared")
	}
	waitFor(t, func() bool { return sink.Stats().SegmentsDropped >= 2 })

	if got := len(dev.nonSilent()); got >= len(long.Samples) {
		t.Fatalf("flushed segment played to completion (%d samples)", got)
	}
	if _, closes, _ := dev.snapshot(); closes != 0 {
		t.Fatal("flush closed the stream")
	}

	// Audio queued after the stop still plays.
	sink.Enqueue(tone(mono, 20*time.Millisecond, 0.9))
	waitFor(t, func() bool { return sink.Stats().SegmentsPlayed == 1 })
}

func TestSinkPauseWritesSilence(t *testing.T) {
	dev := &fakeDevice{}
	sink, _ := startSink(t, dev)

	sink.Enqueue(tone(mono, 10*time.Millisecond, 0.2))
	waitFor(t, func() bool { return sink.Stats().SegmentsPlayed == 1 })

	if !sink.TogglePause() {
		t.Fatal("expected paused state")
	}
	sink.Enqueue(tone(mono, 20*time.Millisecond, 0.7))
	before := sink.Stats().SilenceWritten
	time.Sleep(60 * time.Millisecond)

	st := sink.Stats()
	if st.SegmentsPlayed != 1 {
		t.Fatal("segment played while paused")
	}
	if st.SilenceWritten <= before {
		t.Fatal("no silence written while paused")
	}

	if sink.TogglePause() {
		t.Fatal("expected resumed state")
	}
	waitFor(t, func() bool { return sink.Stats().SegmentsPlayed == 2 })
}

func TestSinkStopWhilePausedDropsHeldSegment(t *testing.T) {
	dev := &fakeDevice{}
	sink, _ := startSink(t, dev)

	sink.Enqueue(tone(mono, 10*time.Millisecond, 0.2))
	waitFor(t, func() bool { return sink.Stats().SegmentsPlayed == 1 })
	sink.TogglePause()
	sink.Enqueue(tone(mono, 20*time.Millisecond, 0.7))
	time.Sleep(30 * time.Millisecond)

	sink.StopImmediate()
	waitFor(t, func() bool { return sink.Stats().SegmentsDropped == 1 })
	sink.TogglePause()
	time.Sleep(30 * time.Millisecond)
	if sink.Stats().SegmentsPlayed != 1 {
		t.Fatal("flushed segment played after resume")
	}
}

func TestSinkReopensOnFormatChange(t *testing.T) {
	dev := &fakeDevice{}
	sink, _ := startSink(t, dev)

	stereo := audio.Format{SampleRate: 16000, Channels: 2}
	sink.Enqueue(tone(mono, 10*time.Millisecond, 0.1))
	sink.Enqueue(tone(stereo, 10*time.Millisecond, 0.1))
	waitFor(t, func() bool { return sink.Stats().SegmentsPlayed == 2 })

	opens, closes, _ := dev.snapshot()
	if len(opens) != 2 || opens[1] != stereo || closes != 1 {
		t.Fatalf("unexpected reopen sequence opens=%v closes=%d", opens, closes)
	}
	if st := sink.Stats(); st.Reopens != 1 || st.Format != stereo {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestSinkSurvivesDeviceErrors(t *testing.T) {
	dev := &fakeDevice{failOpen: errors.New("no device")}
	sink, _ := startSink(t, dev)

	sink.Enqueue(tone(mono, 10*time.Millisecond, 0.1))
	waitFor(t, func() bool { return sink.Stats().SegmentsDropped == 1 })

	dev.mu.Lock()
	dev.failOpen = nil
	dev.failWrite = errors.New("underrun")
	dev.mu.Unlock()
	sink.Enqueue(tone(mono, 10*time.Millisecond, 0.1))
	waitFor(t, func() bool { return sink.Stats().SegmentsDropped == 2 })
	if _, closes, _ := dev.snapshot(); closes != 1 {
		t.Fatal("broken stream was not closed")
	}

	dev.mu.Lock()
	dev.failWrite = nil
	dev.mu.Unlock()
	sink.Enqueue(tone(mono, 10*time.Millisecond, 0.1))
	waitFor(t, func() bool { return sink.Stats().SegmentsPlayed == 1 })
}

func TestSinkClosesStreamOnShutdown(t *testing.T) {
	dev := &fakeDevice{}
	sink := NewSink(dev, Options{PollInterval: 10 * time.Millisecond}, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)

	sink.Enqueue(tone(mono, 10*time.Millisecond, 0.1))
	waitFor(t, func() bool { return sink.Stats().SegmentsPlayed == 1 })
	cancel()
	<-sink.Done()

	if _, closes, _ := dev.snapshot(); closes != 1 {
		t.Fatalf("expected stream closed once, got %d", closes)
	}
}

func TestNullDevicePacesWrites(t *testing.T) {
	stream, err := NullDevice{}.Open(mono)
	if err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := stream.Write(make([]float32, mono.FramesFor(20*time.Millisecond))); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("null stream did not pace the write")
	}
	_ = stream.Close()
	if err := stream.Write([]float32{0}); !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}
