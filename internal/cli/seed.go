package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var seedRulesCmd = &cobra.Command{
	Use:   "seed-rules",
	Short: "Create the sample AML rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := getApp().SeedRules(cmd.Context())
		out := cmd.OutOrStdout()
		for _, r := range results {
			if r.Created {
				fmt.Fprintf(out, "Created rule: %s\n", r.Name)
			} else {
				fmt.Fprintf(out, "Rule already exists: %s\n", r.Name)
			}
		}
		return err
	},
}
