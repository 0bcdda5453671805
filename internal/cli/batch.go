package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var batchLimit int

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Monitor stored transactions that have no risk score yet",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Batch(cmd.Context(), batchLimit)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processed: %d\nsuspicious: %d\nalerts: %d\nerrors: %d\n",
			res.Processed, res.Suspicious, res.AlertsGenerated, res.Errors)
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "Maximum number of transactions to monitor")
}
