package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDirsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dirs",
		Short: "Creates today's delivery directories without fetching",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			n, err := appInstance.PrecreateDirs(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d directories ensured\n", n)
			return err
		},
	}
}
