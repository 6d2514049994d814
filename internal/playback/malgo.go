package playback

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

const maxWriteWait = 2 * time.Second

// MalgoDevice plays through the system default output using miniaudio.
type MalgoDevice struct {
	buffer time.Duration
	log    *slog.Logger
}

// NewMalgoDevice returns a device whose streams buffer up to buffer of audio
// ahead of the hardware.
func NewMalgoDevice(buffer time.Duration, log *slog.Logger) *MalgoDevice {
	if buffer <= 0 {
		buffer = 200 * time.Millisecond
	}
	return &MalgoDevice{buffer: buffer, log: log.With(slog.String("component", "playback.malgo"))}
}

func (d *MalgoDevice) Open(format audio.Format) (Stream, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("open malgo stream: invalid format %s", format)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	ring := audio.NewRing(format.FramesFor(d.buffer) * format.Channels)
	stream := &malgoStream{format: format, ring: ring, malgoCtx: ctx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)

	var callbacks malgo.DeviceCallbacks
	callbacks.Data = stream.fill

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	stream.device = device

	d.log.Info("playback stream opened", slog.String("format", format.String()), slog.Duration("buffer", d.buffer))
	return stream, nil
}

type malgoStream struct {
	format   audio.Format
	ring     *audio.Ring
	device   *malgo.Device
	malgoCtx *malgo.AllocatedContext

	mu      sync.Mutex
	closed  bool
	scratch []float32
}

func (s *malgoStream) Format() audio.Format { return s.format }

// fill runs on the audio thread and must not block.
func (s *malgoStream) fill(pOutput, _ []byte, frames uint32) {
	n := int(frames) * s.format.Channels
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	buf := s.scratch[:n]
	s.ring.Read(buf)
	for i, v := range buf {
		binary.LittleEndian.PutUint32(pOutput[i*4:], math.Float32bits(v))
	}
}

// Write blocks until every sample has been handed to the ring or the device
// has stalled for maxWriteWait.
func (s *malgoStream) Write(samples []float32) error {
	for len(samples) > 0 {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return ErrStreamClosed
		}

		n := s.ring.Write(samples)
		samples = samples[n:]
		if len(samples) == 0 {
			return nil
		}
		select {
		case <-s.ring.Space():
		case <-time.After(maxWriteWait):
			return errors.New("playback device stalled")
		}
	}
	return nil
}

func (s *malgoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	if s.device != nil {
		err = s.device.Stop()
		s.device.Uninit()
	}
	_ = s.malgoCtx.Uninit()
	s.malgoCtx.Free()
	return err
}
