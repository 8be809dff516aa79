package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/facelinker/internal/app"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		stores, err := app.OpenStores(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer stores.Close()

		stats, err := stores.Meta.Stats(cmd.Context())
		if err != nil {
			return err
		}
		for _, key := range []string{"users", "events", "identities", "occurrences"} {
			fmt.Printf("%-12s %d\n", key+":", stats[key])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
