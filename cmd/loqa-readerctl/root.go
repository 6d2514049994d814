package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/control"
)

type globalOptions struct {
	configPath string
	servers    []string
	timeout    time.Duration
	jsonOutput bool
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "loqa-readerctl",
		Short:         "Control a running loqa-reader over NATS",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Reader configuration file")
	flags.StringSliceVar(&opts.servers, "servers", nil, "NATS server URLs (overrides the config)")
	flags.DurationVar(&opts.timeout, "timeout", 3*time.Second, "Request timeout")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print replies as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log connection details to stderr")

	cmd.AddCommand(
		newSubmitCommand(opts),
		newStopCommand(opts),
		newSkipCommand(opts),
		newPauseCommand(opts),
		newStatusCommand(opts),
		newHistoryCommand(opts),
		newSpeakersCommand(opts),
		newCheckCommand(opts),
	)
	return cmd
}

func (o *globalOptions) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func (o *globalOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if len(o.servers) > 0 {
		cfg.Bus.Servers = o.servers
	}
	return cfg, nil
}

// withClient connects to the reader's bus and runs fn with a control client.
func (o *globalOptions) withClient(ctx context.Context, fn func(context.Context, *control.Client) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	log := o.logger()
	client, err := bus.ConnectNamed(ctx, "loqa-readerctl", cfg.Bus, log)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return fn(ctx, control.NewClient(client.Conn(), o.timeout))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
