// Package cli implements the voyage command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rootsploit/voyage/internal/config"
	"github.com/rootsploit/voyage/internal/version"
)

// Execute runs the command line against os.Args
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// NewRootCmd builds the command tree. The root command runs a scan.
func NewRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "voyage",
		Short: "Stateful subdomain enumeration toolkit",
		Long: `voyage - stateful, resumable subdomain enumeration.

Combines passive intelligence sources with active DNS and HTTP probing of a
wordlist. Progress is stored in SQLite: rerunning the same command resumes
the scan where it stopped.

Examples:
  voyage -d example.com -w words.txt
  voyage -d example.com -w words.txt -o found.csv --output-format csv
  voyage -d example.com --disable-active-enum
  voyage -d example.com -w words.txt --observer server --listen 127.0.0.1:8787`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFiles()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v, configFile)
			if err != nil {
				return err
			}
			return runScan(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.InOrStdin())
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ~/.voyage/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory holding the voyage database")
	_ = v.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))

	addScanFlags(rootCmd, v)

	rootCmd.AddCommand(newExportCmd(v, &configFile))
	rootCmd.AddCommand(newScansCmd(v, &configFile))
	rootCmd.AddCommand(newConfigCmd(v, &configFile))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func printBanner(w io.Writer) {
	red := color.New(color.FgRed, color.Bold)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)
	white := color.New(color.FgWhite, color.Bold)
	gray := color.New(color.FgHiBlack)

	red.Fprint(w, `
 _    ______  __  _____   ____________
| |  / / __ \/ / / /   | / ____/ ____/
| | / / / / / /_/ / /| |/ / __/ __/
| |/ / /_/ /\__, / ___ / /_/ / /___
|___/\____//____/_/  |_\____/_____/
`)
	fmt.Fprintln(w)
	cyan.Fprint(w, "  Stateful subdomain enumeration toolkit")
	gray.Fprintf(w, "  v%s\n", version.Version)
	fmt.Fprintln(w)
	yellow.Fprint(w, "  [*] ")
	white.Fprintln(w, "Passive sources | DNS lookups | HTTP/HTTPS probing")
	yellow.Fprint(w, "  [*] ")
	white.Fprintln(w, "Resumable scans | Pause with p, quit with q")
	fmt.Fprintln(w)
}
