package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/visitsync/internal/registry"
	"github.com/papapumpkin/visitsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List the collections and datasets in a catalog",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().String("repo", "", "registry root (default the destination)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	printer := ui.New(cmd.OutOrStdout())

	repo, _ := cmd.Flags().GetString("repo")
	if repo == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		repo = cfg.DestRoot
	}

	r, err := registry.Open(ctx, repo, registry.Options{ReadOnly: true})
	if err != nil {
		printer.Error(err.Error())
		return err
	}
	defer r.Close()

	colls, err := r.Collections(ctx)
	if err != nil {
		return err
	}
	refs, err := r.Datasets(ctx, "")
	if err != nil {
		return err
	}
	printer.Info(repo)
	printer.Collections(colls)
	printer.Datasets(refs)
	return nil
}
