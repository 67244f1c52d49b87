package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aiverify-foundation/moonshot-sub003/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}
