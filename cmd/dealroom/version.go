package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/dealroom"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dealroom",
		// The version needs no configuration.
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dealroom version %s\n", dealroom.Version)
		},
	}
}
