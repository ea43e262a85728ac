package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"xmt/internal/journal"
)

func newHistoryCmd() *cobra.Command {
	var (
		profilePath string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "history WORKSPACE",
		Short: "List past stage runs recorded in a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if _, err := os.Stat(journal.Path(dir)); errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%s: no runs recorded", dir)
			}
			store, err := journal.Open(dir, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			q := journal.Query{Limit: limit}
			if profilePath != "" {
				q.Profile = filepath.Clean(profilePath)
			}
			entries, err := store.Entries(cmd.Context(), q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %-9s %s  ", e.Started.Format("2006-01-02 15:04:05"), e.Stage, e.Profile)
				if e.Failed() {
					fmt.Fprintf(out, "failed: %s\n", e.Error)
					continue
				}
				fmt.Fprintf(out, "%d inputs, %d results, %d timed out, %d malformed (%s)\n",
					e.Inputs, e.Results, e.TimedOut, e.Malformed, e.Duration)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&profilePath, "profile", "p", "", "only show runs of this profile")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show (0 for all)")
	return cmd
}
