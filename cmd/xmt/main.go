// Command xmt runs grammar-based machine translation experiments: it
// imports item sets into a workspace, drives an external processor through
// the parse, transfer, generate and rephrase stages, and reports coverage.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xmt/internal/logging"
	"xmt/internal/processor"
)

var (
	// Global flags
	verbosity int
	logJSON   bool
	logOff    []string
	envFile   string

	// Logger
	logger *zap.Logger

	// launcher and lookPath are replaced in tests.
	launcher processor.Launcher = processor.ExecLauncher
	lookPath                    = exec.LookPath
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "xmt",
	Short: "Grammar-based machine translation experiment manager",
	Long: `xmt manages workspaces of translation profiles and runs an external
grammar processor over them, one stage at a time:

  xmt init WS items.txt --parse="-g erg.dat"
  xmt parse WS/items.txt
  xmt transfer WS/items.txt
  xmt generate WS/items.txt
  xmt coverage WS/items.txt
  xmt history WS

Each stage reads its input table, records one diagnostics row per input and
the ranked results, and persists the configuration it ran with to run.conf.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
			return err
		}
		var err error
		logger, err = logging.New(logging.Options{
			Verbosity:  verbosity,
			JSON:       logJSON,
			Categories: disabledCategories(logOff),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// loadEnvFile applies a dotenv file. A missing default file is not an error.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func disabledCategories(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = false
	}
	return out
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase logging verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")
	rootCmd.PersistentFlags().StringSliceVar(&logOff, "log-off", nil, "silence log categories (engine, processor, profile, config, workspace, coverage, journal)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with XMT_* overrides")

	rootCmd.AddCommand(newInitCmd())
	for _, cmd := range newStageCmds() {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newCoverageCmd())
	rootCmd.AddCommand(newHistoryCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
