// Package control exposes the reader pipeline on the message bus.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/eventstore"
	"github.com/loqalabs/loqa-reader/internal/pipeline"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/nats-io/nats.go"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
	historyTimeout      = 5 * time.Second
)

var (
	errEmptyText = errors.New("empty text")
	errClosed    = errors.New("control service closed")
)

// Controller is the subset of the pipeline the bus may drive.
type Controller interface {
	Submit(text string, source pipeline.Source) string
	ForceStop() int
	SkipCurrent() string
	TogglePause() bool
}

type Reporter interface {
	Report() protocol.StatusReport
}

// History lists journaled utterances, newest first.
type History interface {
	RecentUtterances(ctx context.Context, limit int) ([]eventstore.Utterance, error)
}

// Service answers requests on the reader.control.* subjects.
type Service struct {
	bus      *bus.Client
	ctrl     Controller
	reporter Reporter
	history  History
	subs     []*nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	// mu orders wg.Add in handlers against Close; Drain is asynchronous, so
	// callbacks can still arrive while Close waits.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewService wires ctrl to the bus. reporter and history may be nil, in
// which case the matching subjects answer with an error.
func NewService(parent context.Context, busClient *bus.Client, ctrl Controller, reporter Reporter, history History, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:      busClient,
		ctrl:     ctrl,
		reporter: reporter,
		history:  history,
		ctx:      ctx,
		cancel:   cancel,
		logger:   log.With(slog.String("component", "control-service")),
	}
}

func (s *Service) Start() error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectControlSubmit, s.handleSubmit},
		{protocol.SubjectControlStop, s.handleStop},
		{protocol.SubjectControlSkip, s.handleSkip},
		{protocol.SubjectControlPause, s.handlePause},
		{protocol.SubjectControlStatus, s.handleStatus},
		{protocol.SubjectControlHistory, s.handleHistory},
	}
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			s.drain()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.logger.Info("control subjects subscribed", slog.Int("subjects", len(s.subs)))
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.drain()
	s.wg.Wait()
}

func (s *Service) drain() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) Healthy() bool { return len(s.subs) > 0 && s.bus.Healthy() }

func (s *Service) handleSubmit(msg *nats.Msg) {
	// Any body that decodes as JSON is a SubmitRequest, so "null" and "{}"
	// carry no text and are rejected as empty.
	var req protocol.SubmitRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		// Plain text bodies are accepted as-is.
		req = protocol.SubmitRequest{Text: string(msg.Data)}
	}
	if strings.TrimSpace(req.Text) == "" {
		s.reply(msg, protocol.ControlReply{Error: errEmptyText.Error()})
		return
	}
	id := s.ctrl.Submit(req.Text, sourceOf(req.Source))
	s.logger.Debug("submit received", slog.String("request_id", id), slog.Int("runes", len([]rune(req.Text))))
	s.reply(msg, protocol.ControlReply{OK: true, ID: id})
}

func (s *Service) handleStop(msg *nats.Msg) {
	dropped := s.ctrl.ForceStop()
	s.reply(msg, protocol.ControlReply{OK: true, Dropped: dropped})
}

func (s *Service) handleSkip(msg *nats.Msg) {
	id := s.ctrl.SkipCurrent()
	s.reply(msg, protocol.ControlReply{OK: true, ID: id})
}

func (s *Service) handlePause(msg *nats.Msg) {
	paused := s.ctrl.TogglePause()
	s.reply(msg, protocol.ControlReply{OK: true, Paused: paused})
}

func (s *Service) handleStatus(msg *nats.Msg) {
	if s.reporter == nil {
		s.reply(msg, protocol.ControlReply{Error: "status unavailable"})
		return
	}
	s.reply(msg, s.reporter.Report())
}

func (s *Service) handleHistory(msg *nats.Msg) {
	if s.history == nil {
		s.reply(msg, protocol.HistoryReply{Error: "history unavailable"})
		return
	}
	var req protocol.HistoryRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.reply(msg, protocol.HistoryReply{Error: fmt.Sprintf("invalid request: %v", err)})
			return
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.reply(msg, protocol.HistoryReply{Error: errClosed.Error()})
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, historyTimeout)
		defer cancel()

		rows, err := s.history.RecentUtterances(ctx, limit)
		if err != nil {
			s.logger.Warn("history query failed", slogError(err))
			s.reply(msg, protocol.HistoryReply{Error: err.Error()})
			return
		}
		out := protocol.HistoryReply{Utterances: make([]protocol.UtteranceSummary, 0, len(rows))}
		for _, u := range rows {
			out.Utterances = append(out.Utterances, protocol.UtteranceSummary{
				RequestID:   u.RequestID,
				Seq:         u.Seq,
				Source:      u.Source,
				Status:      u.Status,
				Lines:       u.Lines,
				Text:        u.Text,
				ArchivePath: u.ArchivePath,
				CreatedAt:   u.CreatedAt,
			})
		}
		s.reply(msg, out)
	}()
}

func (s *Service) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal control reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send control reply", slog.String("subject", msg.Subject), slogError(err))
	}
}

func sourceOf(name string) pipeline.Source {
	switch src := pipeline.Source(name); src {
	case pipeline.SourceClipboard, pipeline.SourceAPI, pipeline.SourceHotkey, pipeline.SourceBus:
		return src
	}
	return pipeline.SourceBus
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
