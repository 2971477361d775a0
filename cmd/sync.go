package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/papapumpkin/visitsync/internal/config"
	"github.com/papapumpkin/visitsync/internal/ui"
	"github.com/papapumpkin/visitsync/internal/visit"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the calibrations one visit needs into the destination",
	Long: `Sync bootstraps the destination if needed, then resolves the calibration
datasets valid for the visit, skips those already present, and imports the
rest. The visit comes from --visit FILE or from the individual flags.`,
	RunE: runSync,
}

func init() {
	addVisitFlags(syncCmd.Flags())
	rootCmd.AddCommand(syncCmd)
}

// addVisitFlags registers the flags that describe a visit.
func addVisitFlags(fs *pflag.FlagSet) {
	fs.String("visit", "", "YAML file describing the visit")
	fs.Int("detector", -1, "detector number (required without --visit)")
	fs.String("filter", "", "physical filter")
	fs.String("group", "", "group id")
	fs.String("kind", "", "visit kind (BIAS, DARK, FLAT)")
	fs.String("timestamp", "", "visit time, RFC 3339 (default now)")
	fs.IntSlice("snaps", nil, "snap numbers")
}

// visitFromFlags builds the visit from --visit or the individual flags.
func visitFromFlags(fs *pflag.FlagSet, cfg config.Config) (visit.Visit, error) {
	if path, _ := fs.GetString("visit"); path != "" {
		return visit.Load(path)
	}

	detector, _ := fs.GetInt("detector")
	filter, _ := fs.GetString("filter")
	group, _ := fs.GetString("group")
	kindName, _ := fs.GetString("kind")
	stamp, _ := fs.GetString("timestamp")
	snaps, _ := fs.GetIntSlice("snaps")

	kind, err := visit.ParseKind(kindName)
	if err != nil {
		return visit.Visit{}, err
	}
	ts := time.Now().UTC()
	if stamp != "" {
		if ts, err = time.Parse(time.RFC3339, stamp); err != nil {
			return visit.Visit{}, fmt.Errorf("--timestamp: %w", err)
		}
	}
	if !fs.Changed("detector") {
		return visit.Visit{}, errors.New("--detector is required without --visit")
	}
	v := visit.Visit{
		Instrument:     cfg.Instrument,
		Detector:       detector,
		PhysicalFilter: filter,
		Group:          group,
		Kind:           kind,
		Timestamp:      ts,
		Snaps:          snaps,
	}
	return v, v.Validate()
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	w, err := openWorker(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	v, err := visitFromFlags(cmd.Flags(), w.cfg)
	if err != nil {
		return err
	}
	if err := w.engine.Bootstrap(ctx); err != nil {
		return err
	}
	res, err := w.engine.SyncVisit(ctx, v)
	if err != nil {
		return err
	}

	ui.New(cmd.OutOrStdout()).VisitSynced(res)
	return nil
}
