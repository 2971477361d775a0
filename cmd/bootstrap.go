package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/visitsync/internal/ui"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Prepare the destination with calibration structure and reference catalogs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w, err := openWorker(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		if err := w.engine.Bootstrap(cmd.Context()); err != nil {
			return err
		}
		n, err := w.dst.DatasetCount(cmd.Context())
		if err != nil {
			return err
		}
		ui.New(cmd.OutOrStdout()).Bootstrapped(w.cfg.DestRoot, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}
