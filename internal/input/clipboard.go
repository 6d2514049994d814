// Package input turns clipboard changes and global hotkeys into pipeline
// commands.
package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-reader/internal/pipeline"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	readTimeout         = 2 * time.Second
)

// Reader returns the current clipboard text.
type Reader interface {
	Read(ctx context.Context) (string, error)
}

// Target is the part of the pipeline the watcher drives.
type Target interface {
	Submit(text string, source pipeline.Source) string
	ForceStop() int
}

// CommandReader reads the clipboard by running an external command and
// capturing its stdout.
type CommandReader struct {
	cmd []string
}

func NewCommandReader(command string) (*CommandReader, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse clipboard command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("clipboard command empty")
	}
	return &CommandReader{cmd: args}, nil
}

func (c *CommandReader) Read(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, c.cmd[0], c.cmd[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("run %s: %w", c.cmd[0], err)
	}
	return string(out), nil
}

type WatcherOptions struct {
	PollInterval time.Duration
	// StopCommand, when copied, force-stops instead of being read aloud.
	StopCommand string
}

// Watcher polls the clipboard and submits every new non-blank text.
type Watcher struct {
	reader   Reader
	target   Target
	interval time.Duration
	stop     string
	log      *slog.Logger
	last     string
}

func NewWatcher(reader Reader, target Target, opts WatcherOptions, log *slog.Logger) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Watcher{
		reader:   reader,
		target:   target,
		interval: opts.PollInterval,
		stop:     strings.TrimSpace(opts.StopCommand),
		log:      log.With(slog.String("component", "clipboard-watcher")),
	}
}

// Run polls until ctx is cancelled. Whatever is on the clipboard when Run
// starts is treated as already read.
func (w *Watcher) Run(ctx context.Context) {
	if text, err := w.reader.Read(ctx); err == nil {
		w.last = text
	}
	w.log.Info("clipboard watcher started", slog.Duration("interval", w.interval), slog.String("stop_command", w.stop))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Watcher) poll(ctx context.Context) {
	text, err := w.reader.Read(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Debug("clipboard read failed", slog.String("error", err.Error()))
		}
		return
	}
	if text == w.last || strings.TrimSpace(text) == "" {
		return
	}
	w.last = text

	if w.stop != "" && strings.TrimSpace(text) == w.stop {
		dropped := w.target.ForceStop()
		w.log.Info("stop command received", slog.Int("dropped", dropped))
		return
	}
	id := w.target.Submit(text, pipeline.SourceClipboard)
	w.log.Info("clipboard text submitted", slog.String("request_id", id), slog.Int("runes", len([]rune(text))))
}
