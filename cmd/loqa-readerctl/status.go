package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-reader/internal/control"
	"github.com/loqalabs/loqa-reader/internal/protocol"
)

func newStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, playback and counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd.Context(), func(ctx context.Context, cli *control.Client) error {
				report, err := cli.Status(ctx)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), report)
				}
				return writeStatus(cmd, report)
			})
		},
	}
}

func writeStatus(cmd *cobra.Command, r protocol.StatusReport) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "node\t%s\n", r.NodeID)
	fmt.Fprintf(w, "uptime\t%s\n", r.Timestamp.Sub(r.StartedAt).Truncate(time.Second))
	if r.CurrentID != "" {
		fmt.Fprintf(w, "reading\t%s (line %d/%d)\n", r.CurrentID, r.CurrentLine, r.TotalLines)
	} else {
		fmt.Fprintf(w, "reading\t-\n")
	}
	fmt.Fprintf(w, "queued\t%d\n", r.QueueDepth)
	fmt.Fprintf(w, "paused\t%t\n", r.Paused)
	fmt.Fprintf(w, "playback\t%s, %d pending, %d played, %.1fs silence\n",
		orDash(r.Playback.Format), r.Playback.Pending, r.Playback.SegmentsPlayed, r.Playback.SilenceSeconds)
	c := r.Counters
	fmt.Fprintf(w, "utterances\t%d submitted, %d completed, %d aborted, %d rejected, %d dropped, %d archived\n",
		c.Submitted, c.Completed, c.Aborted, c.Rejected, c.Dropped, c.Archived)
	fmt.Fprintf(w, "lines\t%d ok, %d failed\n", c.LinesOK, c.LinesFailed)
	return w.Flush()
}

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently journaled utterances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(cmd.Context(), func(ctx context.Context, cli *control.Client) error {
				rows, err := cli.History(ctx, limit)
				if err != nil {
					return err
				}
				if opts.jsonOutput {
					return printJSON(cmd.OutOrStdout(), rows)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tSTATUS\tSOURCE\tLINES\tTEXT")
				for _, u := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
						u.CreatedAt.Local().Format("01-02 15:04:05"), u.Status, u.Source, u.Lines, preview(u.Text, 32))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of utterances to show")
	return cmd
}

func preview(text string, max int) string {
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' || r == '\r' || r == '\t' {
			runes[i] = ' '
		}
	}
	if len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return string(runes)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
