package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-reader/internal/synth"
)

func newSpeakersCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "speakers",
		Short: "List the voices the synthesis engine offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			client := synth.NewClient(synth.OptionsFromConfig(cfg.Engine), opts.logger())
			speakers, err := client.Speakers(cmd.Context())
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), speakers)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSPEAKER\tSTYLE")
			for _, sp := range speakers {
				for _, st := range sp.Styles {
					marker := ""
					if st.ID == cfg.Engine.SpeakerID {
						marker = " *"
					}
					fmt.Fprintf(w, "%d\t%s\t%s%s\n", st.ID, sp.Name, st.Name, marker)
				}
			}
			return w.Flush()
		},
	}
}

func newCheckCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the synthesis engine is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			client := synth.NewClient(synth.OptionsFromConfig(cfg.Engine), opts.logger())
			if !client.CheckConnection(cmd.Context()) {
				return fmt.Errorf("engine at %s is not reachable", cfg.Engine.BaseURL())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "engine at %s is reachable\n", cfg.Engine.BaseURL())
			return nil
		},
	}
}
