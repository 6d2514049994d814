// Package audio holds the PCM value types shared by synthesis, playback and
// archiving.
package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrFormatMismatch is returned when segments with different formats are joined.
var ErrFormatMismatch = errors.New("audio format mismatch")

// Format identifies the stream layout a segment must be played with.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.Channels)
}

// FramesFor returns the number of frames spanning d.
func (f Format) FramesFor(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// Segment is interleaved float32 PCM in [-1, 1]. Segments are treated as
// immutable once produced; helpers here always return fresh slices.
type Segment struct {
	Format  Format
	Samples []float32
}

// Frames returns the frame count.
func (s Segment) Frames() int {
	if s.Format.Channels <= 0 {
		return 0
	}
	return len(s.Samples) / s.Format.Channels
}

// Duration returns the playback length.
func (s Segment) Duration() time.Duration {
	if s.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.Frames()) * time.Second / time.Duration(s.Format.SampleRate)
}

func (s Segment) Empty() bool { return len(s.Samples) == 0 }

// Silence returns a zeroed segment of duration d.
func Silence(f Format, d time.Duration) Segment {
	frames := f.FramesFor(d)
	if frames < 0 {
		frames = 0
	}
	return Segment{Format: f, Samples: make([]float32, frames*f.Channels)}
}

// Concat joins segments in order. All segments must share a format.
func Concat(segments []Segment) (Segment, error) {
	if len(segments) == 0 {
		return Segment{}, nil
	}
	format := segments[0].Format
	total := 0
	for _, seg := range segments {
		if seg.Format != format {
			return Segment{}, fmt.Errorf("%w: %s vs %s", ErrFormatMismatch, format, seg.Format)
		}
		total += len(seg.Samples)
	}
	out := make([]float32, 0, total)
	for _, seg := range segments {
		out = append(out, seg.Samples...)
	}
	return Segment{Format: format, Samples: out}, nil
}

// Fade applies a linear fade-in and fade-out of length d. Segments shorter
// than twice the fade are returned unchanged.
func Fade(s Segment, d time.Duration) Segment {
	fadeFrames := s.Format.FramesFor(d)
	frames := s.Frames()
	if fadeFrames <= 0 || frames < 2*fadeFrames {
		return s
	}
	ch := s.Format.Channels
	out := make([]float32, len(s.Samples))
	copy(out, s.Samples)
	for i := 0; i < fadeFrames; i++ {
		gain := float32(i) / float32(fadeFrames)
		head := i * ch
		tail := (frames - 1 - i) * ch
		for c := 0; c < ch; c++ {
			out[head+c] *= gain
			out[tail+c] *= gain
		}
	}
	return Segment{Format: s.Format, Samples: out}
}

// Slice returns frames [from, to) of s sharing the backing array.
func (s Segment) Slice(from, to int) Segment {
	frames := s.Frames()
	if from < 0 {
		from = 0
	}
	if to > frames {
		to = frames
	}
	if from >= to {
		return Segment{Format: s.Format}
	}
	ch := s.Format.Channels
	return Segment{Format: s.Format, Samples: s.Samples[from*ch : to*ch]}
}
