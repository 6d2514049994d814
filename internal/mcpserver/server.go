// Package mcpserver exposes the reader's control surface as MCP tools so an
// assistant can have text read aloud.
package mcpserver

import (
	"context"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/loqalabs/loqa-reader/internal/protocol"
)

// Reader is the subset of the control client the tools forward to.
type Reader interface {
	Submit(ctx context.Context, text, source string) (protocol.ControlReply, error)
	Stop(ctx context.Context) (protocol.ControlReply, error)
	Skip(ctx context.Context) (protocol.ControlReply, error)
	TogglePause(ctx context.Context) (protocol.ControlReply, error)
	Status(ctx context.Context) (protocol.StatusReport, error)
	History(ctx context.Context, limit int) ([]protocol.UtteranceSummary, error)
}

type Config struct {
	Name    string
	Version string
}

type Server struct {
	cfg    Config
	reader Reader
	log    *slog.Logger
	mcp    *sdk.Server
}

func NewServer(cfg Config, reader Reader, log *slog.Logger) *Server {
	if cfg.Name == "" {
		cfg.Name = "loqa-reader"
	}
	s := &Server{
		cfg:    cfg,
		reader: reader,
		log:    log.With(slog.String("component", "mcp-server")),
	}
	s.mcp = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("serving mcp over stdio", slog.String("version", s.cfg.Version))
	return s.mcp.Run(ctx, &sdk.StdioTransport{})
}

// Connect serves a single session over t.
func (s *Server) Connect(ctx context.Context, t sdk.Transport) (*sdk.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "speak",
		Description: "Read Japanese text aloud. The request is queued behind anything already being read.",
	}, s.handleSpeak)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "stop",
		Description: "Stop reading immediately and drop every queued request",
	}, s.handleStop)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "skip",
		Description: "Abort the request being read and continue with the next one",
	}, s.handleSkip)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "pause",
		Description: "Toggle pause; while paused the speaker plays silence",
	}, s.handlePause)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "status",
		Description: "Report the reader's queue, playback state and counters",
	}, s.handleStatus)

	sdk.AddTool(s.mcp, &sdk.Tool{
		Name:        "history",
		Description: "List recently read requests, newest first",
	}, s.handleHistory)
}
