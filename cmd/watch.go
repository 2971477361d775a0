package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papapumpkin/visitsync/internal/ingest"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest new objects as they appear in the image bucket",
	Long: `Watch follows the image bucket directory tree and ingests each new object
once it has stopped changing. Dotfiles are ignored so uploads can be staged
under a hidden name and renamed into place. Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := openIngester(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		w, err := ingest.NewWatcher(env.cfg.ImageBucket, env.log)
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()

		env.log.Info("watching image bucket", zap.String("dir", env.cfg.ImageBucket))
		err = ingest.Run(ctx, w, env.ing)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
