package main

import (
	"fmt"

	"github.com/jingkaihe/hookgate/pkg/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Long:  `Print the version information of hookgate in JSON format.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := version.Get()
		if short, _ := cmd.Flags().GetBool("short"); short {
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return nil
		}
		json, err := info.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), json)
		return nil
	},
}

func init() {
	versionCmd.Flags().Bool("short", false, "Print a single line")
}
