package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Remove staging areas left behind by crashed workers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		actions := reapStaging(cfg, log)
		out := cmd.OutOrStdout()
		for _, a := range actions {
			fmt.Fprintf(out, "removed %s (idle %s)\n", a.Name, a.Age)
		}
		fmt.Fprintf(out, "%d stale staging area(s) removed from %s\n", len(actions), cfg.StagingDir)
		return nil
	},
}

func init() {
	reapCmd.Flags().Duration("older-than", time.Hour, "remove areas idle for longer than this")
	_ = viper.BindPFlag("staging_stale_after", reapCmd.Flags().Lookup("older-than"))
	rootCmd.AddCommand(reapCmd)
}
