package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newGenerateCmd forces a crawl and persists the result regardless of cache age.
func newGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Crawl the origin and rewrite the cached catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			snapshot, err := app.Snapshots().Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("generate catalog: %w", err)
			}
			app.Logger().Info("catalog generated",
				zap.Int("categories", len(snapshot.Categories)),
				zap.Int("topics", len(snapshot.Topics)),
			)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "generated %d topics across %d categories\n",
				len(snapshot.Topics), len(snapshot.Categories))
			return err
		},
	}
}
