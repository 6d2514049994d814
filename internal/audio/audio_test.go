package audio

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var mono24k = Format{SampleRate: 24000, Channels: 1}

func ramp(f Format, frames int) Segment {
	samples := make([]float32, frames*f.Channels)
	for i := range samples {
		samples[i] = 0.5
	}
	return Segment{Format: f, Samples: samples}
}

func TestSilenceDuration(t *testing.T) {
	seg := Silence(Format{SampleRate: 48000, Channels: 2}, 50*time.Millisecond)
	if seg.Frames() != 2400 {
		t.Fatalf("expected 2400 frames, got %d", seg.Frames())
	}
	if len(seg.Samples) != 4800 {
		t.Fatalf("expected 4800 samples, got %d", len(seg.Samples))
	}
	if seg.Duration() != 50*time.Millisecond {
		t.Fatalf("unexpected duration %s", seg.Duration())
	}
}

func TestConcatPreservesOrder(t *testing.T) {
	a := Segment{Format: mono24k, Samples: []float32{1, 2}}
	b := Segment{Format: mono24k, Samples: []float32{3}}
	c := Segment{Format: mono24k, Samples: []float32{4, 5}}
	out, err := Concat([]Segment{a, b, c})
	if err != nil {
		t.Fatalf("concat: %v", err)
	}
	want := []float32{1, 2, 3, 4, 5}
	for i, v := range want {
		if out.Samples[i] != v {
			t.Fatalf("sample %d: want %v got %v", i, v, out.Samples[i])
		}
	}
	a.Samples[0] = 99
	if out.Samples[0] != 1 {
		t.Fatal("concat must not alias inputs")
	}
}

func TestConcatFormatMismatch(t *testing.T) {
	_, err := Concat([]Segment{
		{Format: mono24k, Samples: []float32{1}},
		{Format: Format{SampleRate: 44100, Channels: 1}, Samples: []float32{1}},
	})
	if !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected format mismatch, got %v", err)
	}
}

func TestFadeEdges(t *testing.T) {
	seg := ramp(Format{SampleRate: 1000, Channels: 2}, 100)
	out := Fade(seg, 20*time.Millisecond)

	if out.Samples[0] != 0 || out.Samples[1] != 0 {
		t.Fatalf("expected silent first frame, got %v %v", out.Samples[0], out.Samples[1])
	}
	last := len(out.Samples) - 1
	if out.Samples[last] != 0 {
		t.Fatalf("expected silent last frame, got %v", out.Samples[last])
	}
	mid := 50 * 2
	if out.Samples[mid] != 0.5 {
		t.Fatalf("middle should be untouched, got %v", out.Samples[mid])
	}
	if seg.Samples[0] != 0.5 {
		t.Fatal("fade must not mutate its input")
	}
}

func TestFadeSkipsShortSegments(t *testing.T) {
	seg := ramp(Format{SampleRate: 1000, Channels: 1}, 39)
	out := Fade(seg, 20*time.Millisecond)
	for i, v := range out.Samples {
		if v != 0.5 {
			t.Fatalf("sample %d changed on short segment: %v", i, v)
		}
	}
}

func TestSlice(t *testing.T) {
	seg := Segment{Format: Format{SampleRate: 10, Channels: 2}, Samples: []float32{1, 1, 2, 2, 3, 3}}
	part := seg.Slice(1, 5)
	if part.Frames() != 2 || part.Samples[0] != 2 {
		t.Fatalf("unexpected slice %+v", part)
	}
	if !seg.Slice(3, 3).Empty() {
		t.Fatal("expected empty slice")
	}
}

func TestRingWriteRead(t *testing.T) {
	r := NewRing(4)
	if n := r.Write([]float32{1, 2, 3, 4, 5}); n != 4 {
		t.Fatalf("expected 4 written, got %d", n)
	}
	if r.Free() != 0 {
		t.Fatalf("expected full ring")
	}
	dst := make([]float32, 3)
	if n := r.Read(dst); n != 3 || dst[2] != 3 {
		t.Fatalf("unexpected read %d %v", n, dst)
	}
	select {
	case <-r.Space():
	default:
		t.Fatal("expected space signal after read")
	}
	r.Write([]float32{6, 7})
	dst = make([]float32, 5)
	if n := r.Read(dst); n != 3 {
		t.Fatalf("expected 3 samples, got %d", n)
	}
	want := []float32{4, 6, 7, 0, 0}
	for i, v := range want {
		if dst[i] != v {
			t.Fatalf("index %d: want %v got %v", i, v, dst[i])
		}
	}
}

func TestRingReset(t *testing.T) {
	r := NewRing(8)
	r.Write([]float32{1, 2, 3})
	r.Reset()
	if r.Available() != 0 || r.Free() != 8 {
		t.Fatalf("expected empty ring after reset")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	format := Format{SampleRate: 24000, Channels: 1}
	samples := make([]float32, 2400)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/24000))
	}
	if err := EncodeWAV(f, Segment{Format: format, Samples: samples}, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	seg, err := DecodeWAV(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seg.Format != format {
		t.Fatalf("unexpected format %s", seg.Format)
	}
	if seg.Frames() != 2400 {
		t.Fatalf("expected 2400 frames, got %d", seg.Frames())
	}
	for i := range samples {
		if d := math.Abs(float64(seg.Samples[i] - samples[i])); d > 1e-3 {
			t.Fatalf("sample %d drift %v", i, d)
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV(bytes.NewReader([]byte("not a wav file at all"))); !errors.Is(err, ErrInvalidWAV) {
		t.Fatalf("expected ErrInvalidWAV, got %v", err)
	}
}
