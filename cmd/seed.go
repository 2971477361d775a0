package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/visitsync/internal/registry"
	"github.com/papapumpkin/visitsync/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.toml>",
	Short: "Create or extend a catalog from a TOML description",
	Long: `Seed reads a TOML description of dataset types, collections, datasets
and certifications and writes it into the registry at --repo. Seeding the
same description twice changes nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().String("repo", "", "registry root to write (required)")
	_ = seedCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	repo, _ := cmd.Flags().GetString("repo")

	f, err := seed.Load(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	r, err := registry.Open(ctx, repo, registry.Options{Logger: log})
	if err != nil {
		return err
	}
	defer r.Close()

	refs, err := seed.Apply(ctx, r, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d dataset types, %d collections, %d datasets into %s\n",
		len(f.DatasetTypes), len(f.Collections), len(refs), repo)
	return nil
}
