package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Print the pipeline invocation for a visit",
	Long: `Pipeline prints the pipetask command that processes the visit against
the destination repository. The pipeline definition is chosen by the visit
kind. Nothing is executed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		v, err := visitFromFlags(cmd.Flags(), cfg)
		if err != nil {
			return err
		}
		args, err := v.PipelineArgs(cfg.DestRoot)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(args, " "))
		return nil
	},
}

func init() {
	addVisitFlags(pipelineCmd.Flags())
	rootCmd.AddCommand(pipelineCmd)
}
