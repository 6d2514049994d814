package audio

import (
	"errors"
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned for payloads that are not PCM WAV.
var ErrInvalidWAV = errors.New("invalid wav payload")

const pcmFormat = 1

// DecodeWAV reads an integer PCM WAV stream into a normalised segment.
func DecodeWAV(r io.ReadSeeker) (Segment, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Segment{}, ErrInvalidWAV
	}
	if dec.WavAudioFormat != pcmFormat {
		return Segment{}, fmt.Errorf("%w: unsupported format tag %d", ErrInvalidWAV, dec.WavAudioFormat)
	}
	if dec.BitDepth == 0 || dec.BitDepth > 32 {
		return Segment{}, fmt.Errorf("%w: bit depth %d", ErrInvalidWAV, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Segment{}, fmt.Errorf("decode pcm: %w", err)
	}

	format := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
	if !format.Valid() {
		return Segment{}, fmt.Errorf("%w: format %s", ErrInvalidWAV, format)
	}

	var scale float64
	var offset float64
	if dec.BitDepth == 8 {
		// 8-bit WAV is unsigned.
		scale, offset = 128, 128
	} else {
		scale = float64(int64(1) << (dec.BitDepth - 1))
	}
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32((float64(v) - offset) / scale)
	}
	return Segment{Format: format, Samples: samples}, nil
}

// EncodeWAV writes seg as 16-bit PCM. meta may be nil.
func EncodeWAV(w io.WriteSeeker, seg Segment, meta *wav.Metadata) error {
	if !seg.Format.Valid() {
		return fmt.Errorf("%w: format %s", ErrInvalidWAV, seg.Format)
	}
	data := make([]int, len(seg.Samples))
	for i, s := range seg.Samples {
		v := math.Round(float64(s) * math.MaxInt16)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		data[i] = int(v)
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: seg.Format.Channels, SampleRate: seg.Format.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, seg.Format.SampleRate, 16, seg.Format.Channels, pcmFormat)
	enc.Metadata = meta
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
