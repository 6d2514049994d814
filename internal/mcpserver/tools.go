package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const sourceMCP = "mcp"

type SpeakArgs struct {
	Text string `json:"text" jsonschema:"Text to read aloud"`
}

type HistoryArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of requests to list (default 20)"`
}

type NoArgs struct{}

func (s *Server) handleSpeak(ctx context.Context, _ *sdk.CallToolRequest, args SpeakArgs) (*sdk.CallToolResult, any, error) {
	if strings.TrimSpace(args.Text) == "" {
		return toolError("text is empty"), nil, nil
	}
	reply, err := s.reader.Submit(ctx, args.Text, sourceMCP)
	if err != nil {
		return s.failed("speak", err), nil, nil
	}
	return text(fmt.Sprintf("Queued request %s.", reply.ID)), nil, nil
}

func (s *Server) handleStop(ctx context.Context, _ *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, any, error) {
	reply, err := s.reader.Stop(ctx)
	if err != nil {
		return s.failed("stop", err), nil, nil
	}
	return text(fmt.Sprintf("Stopped. %d pending request(s) dropped.", reply.Dropped)), nil, nil
}

func (s *Server) handleSkip(ctx context.Context, _ *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, any, error) {
	reply, err := s.reader.Skip(ctx)
	if err != nil {
		return s.failed("skip", err), nil, nil
	}
	if reply.ID == "" {
		return text("Nothing is being read."), nil, nil
	}
	return text(fmt.Sprintf("Skipped request %s.", reply.ID)), nil, nil
}

func (s *Server) handlePause(ctx context.Context, _ *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, any, error) {
	reply, err := s.reader.TogglePause(ctx)
	if err != nil {
		return s.failed("pause", err), nil, nil
	}
	if reply.Paused {
		return text("Paused."), nil, nil
	}
	return text("Resumed."), nil, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, any, error) {
	report, err := s.reader.Status(ctx)
	if err != nil {
		return s.failed("status", err), nil, nil
	}
	return jsonResult(report)
}

func (s *Server) handleHistory(ctx context.Context, _ *sdk.CallToolRequest, args HistoryArgs) (*sdk.CallToolResult, any, error) {
	rows, err := s.reader.History(ctx, args.Limit)
	if err != nil {
		return s.failed("history", err), nil, nil
	}
	return jsonResult(rows)
}

// failed reports a forwarding error to the model as a tool error rather than
// a protocol error, so the assistant can tell the user the reader is down.
func (s *Server) failed(tool string, err error) *sdk.CallToolResult {
	s.log.Warn("tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
	return toolError(err.Error())
}

func text(msg string) *sdk.CallToolResult {
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: msg}}}
}

func toolError(msg string) *sdk.CallToolResult {
	return &sdk.CallToolResult{
		IsError: true,
		Content: []sdk.Content{&sdk.TextContent{Text: msg}},
	}
}

func jsonResult(v any) (*sdk.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return text(string(data)), nil, nil
}
