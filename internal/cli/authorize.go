package cli

import (
	"github.com/spf13/cobra"

	"fx-market-data/internal/app"
)

var (
	authorizeCode  string
	authorizeState string
)

var authorizeCmd = &cobra.Command{
	Use:   "authorize",
	Short: "Begin or complete the OAuth authorization flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AuthorizeOptions{
			Code:  authorizeCode,
			State: authorizeState,
		}

		return getApp().Authorize(cmd.Context(), opts)
	},
}

func init() {
	authorizeCmd.Flags().StringVar(&authorizeCode, "code", "", "Authorization code returned by the venue")
	authorizeCmd.Flags().StringVar(&authorizeState, "state", "", "State value printed when the flow began")
}
