package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/pipeline"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	if cfg.RetentionMode == "" {
		cfg.RetentionMode = "persistent"
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.AppendUtterance(ctx, Utterance{RequestID: "r1"}); err != nil {
		t.Fatalf("ephemeral append should be a no-op: %v", err)
	}
	if got, err := es.RecentUtterances(ctx, 10); err != nil || got != nil {
		t.Fatalf("expected nothing from ephemeral store, got %v %v", got, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openTestStore(t, config.EventStoreConfig{})
	ctx := context.Background()

	if err := es.AppendUtterance(ctx, Utterance{RequestID: "req-123", Seq: 1, Source: "clipboard", Text: "こんにちは"}); err != nil {
		t.Fatalf("append utterance: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RequestID: "req-123", Type: "started", Payload: []byte(`{"lines":2}`)}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RequestID: "req-123", Type: "line_synthesized", Line: 1}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListUtteranceEvents(ctx, "req-123", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if string(events[0].Payload) != `{"lines":2}` {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}
	if events[1].Type != "line_synthesized" || events[1].Line != 1 {
		t.Fatalf("unexpected second event %+v", events[1])
	}

	if err := es.UpdateStatus(ctx, "req-123", "archived", 2, "/tmp/a.wav"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	recent, err := es.RecentUtterances(ctx, 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected one utterance, got %d", len(recent))
	}
	u := recent[0]
	if u.Status != "archived" || u.Lines != 2 || u.ArchivePath != "/tmp/a.wav" || u.Text != "こんにちは" {
		t.Fatalf("unexpected utterance %+v", u)
	}

	// A later status without lines or path keeps both.
	if err := es.UpdateStatus(ctx, "req-123", "completed", 0, ""); err != nil {
		t.Fatalf("update status: %v", err)
	}
	recent, _ = es.RecentUtterances(ctx, 5)
	if recent[0].Lines != 2 || recent[0].ArchivePath != "/tmp/a.wav" {
		t.Fatalf("status update clobbered fields: %+v", recent[0])
	}
}

func TestAppendUtteranceIsIdempotent(t *testing.T) {
	es := openTestStore(t, config.EventStoreConfig{})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := es.AppendUtterance(ctx, Utterance{RequestID: "dup", Seq: 7}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	recent, err := es.RecentUtterances(ctx, 10)
	if err != nil || len(recent) != 1 {
		t.Fatalf("expected one row, got %d (%v)", len(recent), err)
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	es := openTestStore(t, config.EventStoreConfig{RetentionDays: 1, MaxUtterances: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendUtterance(ctx, Utterance{RequestID: "old", Seq: 1}); err != nil {
		t.Fatalf("append utterance: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{RequestID: "old", Type: "started"}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for i, id := range []string{"newer", "newest"} {
		if err := es.AppendUtterance(ctx, Utterance{RequestID: id, Seq: uint64(i + 2)}); err != nil {
			t.Fatalf("append utterance: %v", err)
		}
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListUtteranceEvents(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected events of the old utterance to cascade")
	}
	recent, err := es.RecentUtterances(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].RequestID != "newest" {
		t.Fatalf("expected only the newest utterance, got %+v", recent)
	}
}

func TestRecorderJournalsLifecycle(t *testing.T) {
	es := openTestStore(t, config.EventStoreConfig{})
	rec := NewRecorder(es, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go rec.Run(ctx)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []pipeline.Event{
		{Type: pipeline.EventSubmitted, RequestID: "r1", Seq: 1, Source: pipeline.SourceBus, Text: "よみあげ", Timestamp: now},
		{Type: pipeline.EventStarted, RequestID: "r1", Lines: 1, Timestamp: now.Add(time.Millisecond)},
		{Type: pipeline.EventLineSynthesized, RequestID: "r1", Line: 1, Lines: 1, Text: "よみあげ", Duration: time.Second, Timestamp: now.Add(2 * time.Millisecond)},
		{Type: pipeline.EventCompleted, RequestID: "r1", Lines: 1, Timestamp: now.Add(3 * time.Millisecond)},
		{Type: pipeline.EventArchived, RequestID: "r1", Path: "/out/r1.wav", Timestamp: now.Add(4 * time.Millisecond)},
	}
	for _, e := range events {
		rec.Observe(e)
	}
	cancel()
	<-rec.Done()

	journal, err := es.ListUtteranceEvents(context.Background(), "r1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(journal) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(journal))
	}
	if journal[2].Type != "line_synthesized" || journal[2].Line != 1 {
		t.Fatalf("unexpected line event %+v", journal[2])
	}

	recent, err := es.RecentUtterances(context.Background(), 1)
	if err != nil || len(recent) != 1 {
		t.Fatalf("recent: %v %v", recent, err)
	}
	if recent[0].Status != "archived" || recent[0].ArchivePath != "/out/r1.wav" || recent[0].Source != "bus" {
		t.Fatalf("unexpected utterance %+v", recent[0])
	}
	if rec.Dropped() != 0 {
		t.Fatalf("unexpected drops %d", rec.Dropped())
	}
}

func TestRecorderNeverBlocks(t *testing.T) {
	es := openTestStore(t, config.EventStoreConfig{})
	rec := NewRecorder(es, newLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < recorderBuffer+10; i++ {
			rec.Observe(pipeline.Event{Type: pipeline.EventLineFailed, RequestID: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Observe blocked without a running recorder")
	}
	if rec.Dropped() != 10 {
		t.Fatalf("expected 10 dropped events, got %d", rec.Dropped())
	}
}
