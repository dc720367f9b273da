package cli

import (
	"github.com/spf13/cobra"

	"fx-market-data/internal/app"
)

var (
	showHistory int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display cached quotes and ingestion health",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			History: showHistory,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showHistory, "history", 0, "Also print the last N ticks per symbol")
}
