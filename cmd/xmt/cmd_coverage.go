package main

import (
	"github.com/spf13/cobra"

	"xmt/internal/coverage"
	"xmt/internal/logging"
	"xmt/internal/profile"
)

func newCoverageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coverage PROFILE...",
		Short: "Report how many items reached each stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := expandArgs(args)
			if err != nil {
				return err
			}
			log := logging.For(logger, logging.CategoryCoverage)
			out := cmd.OutOrStdout()

			var total coverage.Stats
			for _, path := range profiles {
				p, err := profile.Open(path, profile.WithLogger(logging.For(logger, logging.CategoryProfile)))
				if err != nil {
					return err
				}
				stats, err := coverage.Compute(p, log)
				if err != nil {
					return err
				}
				if err := coverage.Format(out, path, stats); err != nil {
					return err
				}
				total.Add(stats)
			}
			if len(profiles) > 1 {
				return coverage.Format(out, "Summary", total)
			}
			return nil
		},
	}
}
