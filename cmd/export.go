package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/quizbowl-topic-catalog/internal/cache"
	"github.com/JakeFAU/quizbowl-topic-catalog/internal/catalog"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

func newExportCmd() *cobra.Command {
	var (
		format  string
		output  string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Print the catalog as JSON or YAML",
		Long: `Prints the cached catalog, crawling first when it is missing or stale.
--refresh forces a crawl.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var snapshot catalog.Snapshot
			if refresh {
				snapshot, err = app.Snapshots().Refresh(cmd.Context())
			} else {
				snapshot, err = app.Snapshots().Get(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("load catalog: %w", err)
			}

			data, err := render(snapshot, format)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return writeAll(cmd.OutOrStdout(), data)
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", FormatJSON, "output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "crawl even if the cached catalog is fresh")
	return cmd
}

func render(snapshot catalog.Snapshot, format string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		data, err := cache.Encode(snapshot)
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case FormatYAML:
		data, err := yaml.Marshal(snapshot.Normalize())
		if err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
}

func writeAll(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
