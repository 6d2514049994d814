package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/input"
	"github.com/loqalabs/loqa-reader/internal/pipeline"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/sanitize"
	"github.com/loqalabs/loqa-reader/internal/synth"
)

var mockFormat = audio.Format{SampleRate: 24000, Channels: 1}

const (
	mockPerRune = 80 * time.Millisecond
	mockLatency = 50 * time.Millisecond
)

func newSanitizer(cfg config.SanitizerConfig) *sanitize.Sanitizer {
	dict := make([]sanitize.Replacement, 0, len(cfg.Dictionary))
	for _, e := range cfg.Dictionary {
		dict = append(dict, sanitize.Replacement{Term: e.Term, Reading: e.Reading})
	}
	return sanitize.New(sanitize.Options{
		Dictionary:      dict,
		RequireHiragana: cfg.RequireHiragana,
		MinLength:       cfg.MinLength,
		SplitSentences:  cfg.SplitSentences,
	})
}

func newSynthesizer(ctx context.Context, cfg config.EngineConfig, log *slog.Logger) synth.Synthesizer {
	if cfg.Mode == "mock" {
		log.Info("using mock synthesizer")
		return synth.NewMock(mockFormat, mockPerRune, mockLatency)
	}
	client := synth.NewClient(synth.OptionsFromConfig(cfg), log)
	// The engine is often started after the reader; lines fail individually
	// until it is reachable.
	if !client.CheckConnection(ctx) {
		log.Warn("synthesis engine not reachable", slog.String("url", cfg.BaseURL()))
	}
	return client
}

func newDevice(cfg config.PlaybackConfig, log *slog.Logger) (playback.Device, error) {
	switch cfg.Backend {
	case "malgo", "":
		return playback.NewMalgoDevice(time.Duration(cfg.BufferMS)*time.Millisecond, log), nil
	case "null":
		return playback.NullDevice{}, nil
	default:
		return nil, fmt.Errorf("unknown playback backend %q", cfg.Backend)
	}
}

func hotkeyBindings(cfg config.HotkeyConfig, p *pipeline.Pipeline) []input.Binding {
	return []input.Binding{
		{Name: "stop", Combo: cfg.Stop, Action: func() { p.ForceStop() }},
		{Name: "skip", Combo: cfg.Skip, Action: func() { p.SkipCurrent() }},
		{Name: "pause", Combo: cfg.Pause, Action: func() { p.TogglePause() }},
	}
}
