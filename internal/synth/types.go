// Package synth converts single lines of text into PCM segments using a
// VOICEVOX compatible engine.
package synth

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-reader/internal/audio"
)

var (
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrQueryFailed     = errors.New("audio_query failed")
	ErrSynthesisFailed = errors.New("synthesis failed")
	ErrInvalidAudio    = errors.New("engine returned invalid audio")
)

// Synthesizer is the contract the task pipeline consumes. Implementations
// must be safe to call repeatedly from one goroutine.
type Synthesizer interface {
	Synthesize(ctx context.Context, line string) (audio.Segment, error)
}

// Speaker is one voice exposed by the engine.
type Speaker struct {
	Name   string  `json:"name"`
	UUID   string  `json:"speaker_uuid"`
	Styles []Style `json:"styles"`
}

// Style is a selectable voice style; its ID is the "speaker" query value.
type Style struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}
