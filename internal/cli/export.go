package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rootsploit/voyage/internal/config"
	"github.com/rootsploit/voyage/internal/export"
	"github.com/rootsploit/voyage/internal/storage"
)

func newExportCmd(v *viper.Viper, configFile *string) *cobra.Command {
	var (
		format string
		output string
	)

	exportCmd := &cobra.Command{
		Use:   "export <scan-id>",
		Short: "Export the found subdomains of a scan",
		Long: `Export the found subdomains of a scan to stdout or a file.

Available formats:
  - text: one host per line
  - csv:  subdomain,domain rows with a header
  - json: an array of {host, subdomain, domain, source}

Examples:
  voyage export v_0123456789abcdef0123456789abcdef
  voyage export v_0123456789abcdef0123456789abcdef -f csv -o found.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			cfg, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(store *storage.Store) error {
				if _, err := store.GetScan(cmd.Context(), args[0]); err != nil {
					return err
				}
				if output == "" {
					results, err := store.FoundResults(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return export.Write(cmd.OutOrStdout(), f, results)
				}
				n, err := export.ToFile(cmd.Context(), store, args[0], output, f)
				if err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "[+] Exported %d subdomains to %s\n", n, output)
				return nil
			})
		},
	}

	exportCmd.Flags().StringVarP(&format, "format", "f", string(export.FormatText), "Export format: text, csv, json")
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return exportCmd
}

// withStore opens the configured database for the duration of fn
func withStore(ctx context.Context, cfg *config.Config, fn func(*storage.Store) error) error {
	store, err := storage.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath(), err)
	}
	defer store.Close()
	return fn(store)
}
