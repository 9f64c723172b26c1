package cli

import (
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single fetch cycle and print the stored quotes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Poll(cmd.Context())
	},
}
