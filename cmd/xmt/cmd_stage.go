package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"xmt/internal/config"
	"xmt/internal/engine"
	"xmt/internal/journal"
	"xmt/internal/logging"
	"xmt/internal/stage"
)

// newStageCmds creates one subcommand per registered stage.
func newStageCmds() []*cobra.Command {
	reg := stage.Default()
	var cmds []*cobra.Command
	for _, name := range reg.Names() {
		desc, err := reg.Lookup(name)
		if err != nil {
			panic(err)
		}
		cmds = append(cmds, newStageCmd(reg, desc))
	}
	return cmds
}

func newStageCmd(reg *stage.Registry, desc stage.Descriptor) *cobra.Command {
	var jobs int
	cmd := &cobra.Command{
		Use:   desc.Name + " [flags] PROFILE...",
		Short: fmt.Sprintf("Run the %s stage (%s -> %s, %s)", desc.Name, desc.Input.Table, desc.ResultTable(), desc.InfoTable()),
		Long: fmt.Sprintf(`Runs the processor in %s mode over the %s column of each profile's %s
table. Previous %s and %s tables are replaced. Flags given here are
persisted to the profile's run.conf and apply to later runs.`,
			desc.Role, desc.Input.Column, desc.Input.Table, desc.InfoTable(), desc.ResultTable()),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := expandArgs(args)
			if err != nil {
				return err
			}
			resolver := config.NewResolver(logging.For(logger, logging.CategoryConfig))
			resolver.LookPath = lookPath
			recorder := journal.NewRecorder(logger)
			defer recorder.Close()
			e := engine.New(
				engine.WithRegistry(reg),
				engine.WithResolver(resolver),
				engine.WithLauncher(launcher),
				engine.WithRecorder(recorder),
				engine.WithLogger(logger),
			)

			outcomes, runErr := e.Run(cmd.Context(), desc.Name, profiles, config.CollectFlags(cmd.Flags()), jobs)
			out := cmd.OutOrStdout()
			for _, o := range outcomes {
				if o.Err != nil {
					fmt.Fprintf(out, "%s: failed\n", o.Profile)
					continue
				}
				s := o.Summary
				fmt.Fprintf(out, "%s: %d inputs, %d results, %d timed out, %d malformed (%s)\n",
					o.Profile, s.Inputs, s.Results, s.TimedOut, s.Malformed, s.Duration.Round(time.Millisecond))
			}
			return runErr
		},
	}
	config.BindStageFlags(cmd.Flags(), desc)
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "number of profiles to process in parallel")
	return cmd
}
