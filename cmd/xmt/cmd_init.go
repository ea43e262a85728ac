package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"xmt/internal/config"
	"xmt/internal/logging"
	"xmt/internal/stage"
	"xmt/internal/workspace"
)

func newInitCmd() *cobra.Command {
	var (
		grammar    string
		executable string
		stageOpts  = map[string]*string{}
	)
	reg := stage.Default()

	cmd := &cobra.Command{
		Use:   "init DIR [ITEM...]",
		Short: "Create or update a workspace and import item sets",
		Long: `Creates DIR if needed and merges its default.conf: built-in defaults fill
missing keys, then -g and --processor-executable set workspace-wide values and
each --<stage> option string sets that stage's values.

Each ITEM becomes a new profile under DIR. An ITEM is either a bitext file with
one "source<TAB>reference" pair per line, or an existing profile whose items
(and system output, when present) are copied.`,
		Example: `  xmt init ws data/*.txt --processor-executable ~/bin/ace \
      --parse="-g erg.dat -n 5" --transfer="-g ja-en.dat" --generate="-g jacy.dat"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults := config.Flags{}
			if cmd.Flags().Changed(config.KeyGrammar) {
				defaults[config.KeyGrammar] = grammar
			}
			if cmd.Flags().Changed(config.KeyExecutable) {
				defaults[config.KeyExecutable] = executable
			}

			stages := map[string]config.Flags{}
			for _, name := range reg.Names() {
				if !cmd.Flags().Changed(name) {
					continue
				}
				desc, err := reg.Lookup(name)
				if err != nil {
					return err
				}
				flags, err := config.ParseOptionString(desc, *stageOpts[name])
				if err != nil {
					return err
				}
				stages[name] = flags
			}

			items, err := expandArgs(args[1:])
			if err != nil {
				return err
			}
			created, err := workspace.Init(args[0], workspace.Options{
				Defaults: defaults,
				Stages:   stages,
				Items:    items,
				Registry: reg,
				Logger:   logging.For(logger, logging.CategoryWorkspace),
			})
			for _, path := range created {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&grammar, config.KeyGrammar, "g", "", "workspace-wide grammar image")
	cmd.Flags().StringVar(&executable, config.KeyExecutable, "", "path to the processor binary")
	for _, name := range reg.Names() {
		stageOpts[name] = cmd.Flags().String(name, "", fmt.Sprintf("options for the %s stage, e.g. \"-g GRAMMAR -n 5\"", name))
	}
	return cmd
}
