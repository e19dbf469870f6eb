package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "approval",
		Short:         "Inspect submissions and replicate approved data against a live platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newItemsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReplicateCmd())
	cmd.AddCommand(newSchemaCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
