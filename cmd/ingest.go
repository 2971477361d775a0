package cmd

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papapumpkin/visitsync/internal/config"
	"github.com/papapumpkin/visitsync/internal/ingest"
	"github.com/papapumpkin/visitsync/internal/registry"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <object-key>...",
	Short: "Register raw exposures from the image bucket",
	Long: `Ingest copies objects from the image bucket into the destination as raw
datasets in run <instrument>/raw/all. Keys look like
<instrument>/<detector>/<group>/<snap>/<filter>.<ext>.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := openIngester(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		for _, key := range args {
			ref, err := env.ing.Ingest(ctx, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s %s\n", key, ref.Run, ref.DataID)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("image-bucket", "", "image bucket directory")
	_ = viper.BindPFlag("image_bucket", rootCmd.PersistentFlags().Lookup("image-bucket"))
	rootCmd.AddCommand(ingestCmd)
}

type ingestEnv struct {
	cfg config.Config
	log *zap.Logger
	dst *registry.Registry
	ing *ingest.Ingester
}

func (e *ingestEnv) Close() {
	e.dst.Close()
	_ = e.log.Sync()
}

// openIngester opens the destination and an ingester over the configured
// image bucket.
func openIngester(ctx context.Context) (*ingestEnv, error) {
	cfg, log, dst, err := openDestination(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.ImageBucket == "" {
		dst.Close()
		return nil, fmt.Errorf("image bucket required: use --image-bucket or set VISITSYNC_IMAGE_BUCKET")
	}
	return &ingestEnv{
		cfg: cfg,
		log: log,
		dst: dst,
		ing: ingest.New(osfs.New(cfg.ImageBucket), dst, cfg.Instrument, log),
	}, nil
}

func openDestination(ctx context.Context) (config.Config, *zap.Logger, *registry.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	dst, err := registry.Open(ctx, cfg.DestRoot, registry.Options{Logger: log.Named("destination")})
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("open destination: %w", err)
	}
	return cfg, log, dst, nil
}
