// Package playback owns the output stream and keeps it fed while text is
// still being synthesized.
package playback

import (
	"errors"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

// ErrStreamClosed is returned by Write after Close.
var ErrStreamClosed = errors.New("playback stream closed")

// Device opens output streams. Only one stream is open at a time.
type Device interface {
	Open(format audio.Format) (Stream, error)
}

// Stream accepts interleaved float32 frames in its format. Write may block
// while the device drains earlier audio.
type Stream interface {
	Format() audio.Format
	Write(samples []float32) error
	Close() error
}

// NullDevice discards audio in real time. It keeps the sink's pacing intact
// on hosts without a sound card.
type NullDevice struct{}

func (NullDevice) Open(format audio.Format) (Stream, error) {
	if !format.Valid() {
		return nil, errors.New("invalid audio format")
	}
	return &nullStream{format: format}, nil
}

type nullStream struct {
	format audio.Format
	closed bool
}

func (s *nullStream) Format() audio.Format { return s.format }

func (s *nullStream) Write(samples []float32) error {
	if s.closed {
		return ErrStreamClosed
	}
	frames := len(samples) / s.format.Channels
	time.Sleep(time.Duration(frames) * time.Second / time.Duration(s.format.SampleRate))
	return nil
}

func (s *nullStream) Close() error {
	s.closed = true
	return nil
}
