package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/papapumpkin/visitsync/internal/catalog"
	"github.com/papapumpkin/visitsync/internal/engine"
)

// Config holds all runtime configuration for a visitsync worker.
// Values are populated from .visitsync.yaml, VISITSYNC_* env vars, and CLI flags.
type Config struct {
	SourceRepo       string        `mapstructure:"source_repo"`
	DestRoot         string        `mapstructure:"dest_root"`
	DestID           string        `mapstructure:"dest_id"`
	Instrument       string        `mapstructure:"instrument"`
	CalibCollection  string        `mapstructure:"calib_collection"`
	RefcatCollection string        `mapstructure:"refcat_collection"`
	RefcatTypes      []string      `mapstructure:"refcat_types"`
	HTM7             []int         `mapstructure:"htm7"`
	ImageBucket      string        `mapstructure:"image_bucket"`
	StagingDir       string        `mapstructure:"staging_dir"`
	StagingStale     time.Duration `mapstructure:"staging_stale_after"`
	ExportTransfer   string        `mapstructure:"export_transfer"`
	ImportTransfer   string        `mapstructure:"import_transfer"`
	Validity         string        `mapstructure:"validity"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	Journal          string        `mapstructure:"journal"`
	Verbose          bool          `mapstructure:"verbose"`
	LogJSON          bool          `mapstructure:"log_json"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags. An empty
// calib_collection becomes "<instrument>/calib".
func Load() (Config, error) {
	viper.SetDefault("source_repo", "")
	viper.SetDefault("dest_root", "")
	viper.SetDefault("dest_id", "")
	viper.SetDefault("instrument", "HSC")
	viper.SetDefault("calib_collection", "")
	viper.SetDefault("refcat_collection", "refcats/DM-28636")
	viper.SetDefault("refcat_types", []string{"gaia_dr2_20200414", "ps1_pv3_3pi_20170110"})
	viper.SetDefault("htm7", []int{})
	viper.SetDefault("image_bucket", "")
	viper.SetDefault("staging_dir", os.TempDir())
	viper.SetDefault("staging_stale_after", time.Hour)
	viper.SetDefault("export_transfer", string(catalog.Copy))
	viper.SetDefault("import_transfer", string(catalog.Hardlink))
	viper.SetDefault("validity", string(engine.ValidityNow))
	viper.SetDefault("retry_backoff", 500*time.Millisecond)
	viper.SetDefault("journal", "")
	viper.SetDefault("verbose", false)
	viper.SetDefault("log_json", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}
	if cfg.CalibCollection == "" && cfg.Instrument != "" {
		cfg.CalibCollection = cfg.Instrument + "/calib"
	}
	return cfg, nil
}

// Validate reports every enumerated setting with an unknown value.
func (c Config) Validate() error {
	var errs []error
	if c.Instrument == "" {
		errs = append(errs, errors.New("instrument must be set"))
	}
	if _, err := catalog.ParseTransferMode(c.ExportTransfer); err != nil {
		errs = append(errs, fmt.Errorf("export_transfer: %w", err))
	}
	if _, err := catalog.ParseTransferMode(c.ImportTransfer); err != nil {
		errs = append(errs, fmt.Errorf("import_transfer: %w", err))
	}
	if _, err := engine.ParseValidityPolicy(c.Validity); err != nil {
		errs = append(errs, fmt.Errorf("validity: %w", err))
	}
	if c.StagingStale < 0 {
		errs = append(errs, fmt.Errorf("staging_stale_after %s is negative", c.StagingStale))
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry_backoff %s is negative", c.RetryBackoff))
	}
	return errors.Join(errs...)
}

// Engine converts the configuration into engine settings.
func (c Config) Engine() (engine.Config, error) {
	if err := c.Validate(); err != nil {
		return engine.Config{}, err
	}
	export, _ := catalog.ParseTransferMode(c.ExportTransfer)
	imp, _ := catalog.ParseTransferMode(c.ImportTransfer)
	validity, _ := engine.ParseValidityPolicy(c.Validity)
	return engine.Config{
		CalibCollection:  c.CalibCollection,
		RefcatCollection: c.RefcatCollection,
		RefcatTypes:      c.RefcatTypes,
		HTM7:             c.HTM7,
		ExportTransfer:   export,
		ImportTransfer:   imp,
		Validity:         validity,
		RetryBackoff:     c.RetryBackoff,
	}, nil
}
