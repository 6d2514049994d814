package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-reader/internal/control"
	"github.com/loqalabs/loqa-reader/internal/protocol"
)

func newSubmitCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "submit [text|-]",
		Short: "Queue text to be read aloud",
		Example: `loqa-readerctl submit "こんにちは"
pbpaste | loqa-readerctl submit -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return opts.withClient(cmd.Context(), func(ctx context.Context, cli *control.Client) error {
				reply, err := cli.Submit(ctx, text, "api")
				if err != nil {
					return err
				}
				return printReply(cmd, opts, reply, "queued "+reply.ID)
			})
		},
	}
}

func newStopCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop playback and drop every queued request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd.Context(), func(ctx context.Context, cli *control.Client) error {
				reply, err := cli.Stop(ctx)
				if err != nil {
					return err
				}
				return printReply(cmd, opts, reply, fmt.Sprintf("stopped, %d pending request(s) dropped", reply.Dropped))
			})
		},
	}
}

func newSkipCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Abort the utterance being read and continue with the next one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd.Context(), func(ctx context.Context, cli *control.Client) error {
				reply, err := cli.Skip(ctx)
				if err != nil {
					return err
				}
				msg := "nothing to skip"
				if reply.ID != "" {
					msg = "skipped " + reply.ID
				}
				return printReply(cmd, opts, reply, msg)
			})
		},
	}
}

func newPauseCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "pause",
		Aliases: []string{"resume"},
		Short:   "Toggle playback pause",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd.Context(), func(ctx context.Context, cli *control.Client) error {
				reply, err := cli.TogglePause(ctx)
				if err != nil {
					return err
				}
				msg := "resumed"
				if reply.Paused {
					msg = "paused"
				}
				return printReply(cmd, opts, reply, msg)
			})
		},
	}
}

func printReply(cmd *cobra.Command, opts *globalOptions, reply protocol.ControlReply, human string) error {
	if opts.jsonOutput {
		return printJSON(cmd.OutOrStdout(), reply)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), human)
	return err
}

// readText takes the text from the single argument, or from stdin when the
// argument is "-" or missing.
func readText(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		if strings.TrimSpace(args[0]) == "" {
			return "", errors.New("text is empty")
		}
		return args[0], nil
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", errors.New("no text on stdin")
	}
	return string(data), nil
}
