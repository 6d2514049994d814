package pipeline

import (
	"time"
)

// Source names where a request came from.
type Source string

const (
	SourceClipboard Source = "clipboard"
	SourceBus       Source = "bus"
	SourceAPI       Source = "api"
	SourceHotkey    Source = "hotkey"
)

// EventType enumerates utterance lifecycle transitions.
type EventType string

const (
	EventSubmitted       EventType = "submitted"
	EventRejected        EventType = "rejected"
	EventStarted         EventType = "started"
	EventLineSynthesized EventType = "line_synthesized"
	EventLineFailed      EventType = "line_failed"
	EventAborted         EventType = "aborted"
	EventCompleted       EventType = "completed"
	EventArchived        EventType = "archived"
	EventArchiveFailed   EventType = "archive_failed"
	EventDropped         EventType = "dropped"
)

// Event describes one lifecycle transition. Line is 1-based and only set on
// line events.
type Event struct {
	Type      EventType
	RequestID string
	Seq       uint64
	Source    Source
	Line      int
	Lines     int
	Text      string
	Path      string
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// Observer receives events on the worker goroutine, except submitted and
// dropped which arrive on the caller's goroutine. Implementations must not
// block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
