// Package cmd provides CLI commands for visitsync.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/papapumpkin/visitsync/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "visitsync",
	Short: "Selective dataset sync for per-visit processing",
	Long: `visitsync keeps a small local data catalog supplied with exactly the
calibration and reference datasets that incoming visits need, copying them
from a large read-only source catalog.`,
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default .visitsync.yaml)")
	pf.BoolP("verbose", "v", false, "verbose output")
	pf.Bool("log-json", false, "log as JSON")
	pf.String("source-repo", "", "source catalog root (read-only)")
	pf.String("dest-root", "", "destination catalog root (default $TMPDIR/visitsync-<dest-id>)")
	pf.String("dest-id", "", "destination identity (default pid-<pid>)")
	pf.String("instrument", "", "instrument name")
	pf.String("staging-dir", "", "directory for transfer staging areas")
	pf.String("journal", "", "append a JSONL event journal to this file")

	_ = viper.BindPFlag("verbose", pf.Lookup("verbose"))
	_ = viper.BindPFlag("log_json", pf.Lookup("log-json"))
	_ = viper.BindPFlag("source_repo", pf.Lookup("source-repo"))
	_ = viper.BindPFlag("dest_root", pf.Lookup("dest-root"))
	_ = viper.BindPFlag("dest_id", pf.Lookup("dest-id"))
	_ = viper.BindPFlag("instrument", pf.Lookup("instrument"))
	_ = viper.BindPFlag("staging_dir", pf.Lookup("staging-dir"))
	_ = viper.BindPFlag("journal", pf.Lookup("journal"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".visitsync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("VISITSYNC")
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}

// loadConfig loads and validates the configuration and fills in the
// per-process destination identity.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.DestID == "" {
		cfg.DestID = fmt.Sprintf("pid-%d", os.Getpid())
	}
	if cfg.DestRoot == "" {
		cfg.DestRoot = filepath.Join(os.TempDir(), "visitsync-"+cfg.DestID)
	}
	return cfg, nil
}

// newLogger builds the process logger: development output with --verbose,
// production otherwise, JSON encoding with --log-json.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Verbose {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if cfg.LogJSON {
		zc.Encoding = "json"
	}
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
