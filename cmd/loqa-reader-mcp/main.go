package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/control"
	"github.com/loqalabs/loqa-reader/internal/mcpserver"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the reader configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("loqa-reader-mcp v%s\n", version)
		return
	}

	// stdout carries the MCP stream; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(configPath, logger); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := bus.ConnectNamed(ctx, "loqa-reader-mcp", cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	reader := control.NewClient(client.Conn(), client.RequestTimeout())
	srv := mcpserver.NewServer(mcpserver.Config{Name: "loqa-reader", Version: version}, reader, logger)
	return srv.Run(ctx)
}
