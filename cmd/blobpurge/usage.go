package main

import (
	"fmt"

	"github.com/lucasew/blobpurge/internal/usage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Prints the disk space used by the blob directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString("blob-dir")
		used, err := usage.Probe{}.Measure(cmd.Context(), dir)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", used, dir)
		return err
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
}
