package cli

import (
	"github.com/spf13/cobra"

	"fx-market-data/internal/app"
)

var (
	exportSymbol    string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export cached tick history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Symbol:    exportSymbol,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportSymbol, "symbol", "", "Symbol to export, e.g. EUR-USD")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
