package cmd

import (
	"github.com/spf13/cobra"

	"github.com/jianshu93/annsolo/internal/search"
)

func newIndexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Rebuild the per-charge ANN indices for the library",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cfg.BruteForce = false

			engine, err := search.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer engine.Close()
			return engine.RebuildIndices(cmd.Context())
		},
	}
}
