package synth

import (
	"context"
	"math"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

type mockSynth struct {
	format  audio.Format
	perRune time.Duration
	latency time.Duration
}

// NewMock returns a synthesizer that renders a quiet tone whose length
// follows the line length. It is used when no engine is available.
func NewMock(format audio.Format, perRune, latency time.Duration) Synthesizer {
	return &mockSynth{format: format, perRune: perRune, latency: latency}
}

func (m *mockSynth) Synthesize(ctx context.Context, line string) (audio.Segment, error) {
	if line == "" {
		return audio.Segment{}, ErrEmptyText
	}
	if m.latency > 0 {
		select {
		case <-ctx.Done():
			return audio.Segment{}, ctx.Err()
		case <-time.After(m.latency):
		}
	}
	d := time.Duration(utf8.RuneCountInString(line)) * m.perRune
	seg := audio.Silence(m.format, d)
	ch := m.format.Channels
	for i := 0; i < seg.Frames(); i++ {
		v := float32(0.1 * math.Sin(2*math.Pi*220*float64(i)/float64(m.format.SampleRate)))
		for c := 0; c < ch; c++ {
			seg.Samples[i*ch+c] = v
		}
	}
	return audio.Fade(seg, 10*time.Millisecond), nil
}
