package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortressi/reliable/config"
)

// app is the state shared by subcommands once the root has loaded config.
type app struct {
	configFile string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "reliablectl",
		Short:         "Inspect and maintain idempotency records and saga journals",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configFile)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (YAML); RELIABLE_* env vars override it")

	root.AddCommand(
		newGetCmd(a),
		newDeleteCmd(a),
		newPurgeCmd(a),
		newMigrateCmd(a),
		newJournalCmd(a),
		newDemoCmd(a),
	)
	return root
}
