package cmd

import (
	"github.com/spf13/cobra"

	"github.com/brensch/jusosync/internal/inspector"
)

var inspectLimit int

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize staged rows per dataset and processing date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return inspector.Inspect(cmd.Context(), dbConn, dbDialect, appConfig.Datasets, inspectLimit, cmd.OutOrStdout(), getLogger())
	},
}

func init() {
	inspectCmd.Flags().IntVarP(&inspectLimit, "limit", "n", 14, "Number of processing dates to show per dataset")
}
