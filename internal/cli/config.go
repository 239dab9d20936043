package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rootsploit/voyage/internal/config"
)

func newConfigCmd(v *viper.Viper, configFile *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the voyage configuration file",
		Long: `Manage the voyage configuration file.

Settings are resolved in this order: command-line flags, VOYAGE_* environment
variables (also read from .env and .env.local), the config file, then defaults.

Commands:
  show  - Print the effective configuration
  init  - Create a template config file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			color.New(color.FgCyan, color.Bold).Fprintln(out, "[+] voyage configuration")
			fmt.Fprintln(out)
			fmt.Fprint(out, string(data))
			fmt.Fprintln(out)
			color.New(color.FgHiBlack).Fprintf(out, "Database: %s\n", cfg.DatabasePath())
			return nil
		},
	}

	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a template config file",
		Long: `Creates a template configuration file at the --config path
(default ~/.voyage/config.yaml) if it does not already exist.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configFile
			if path == "" {
				path = config.DefaultConfigFile()
			}
			if err := config.WriteTemplate(path, config.DefaultConfig()); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "[+] Created: %s\n", path)
			return nil
		},
	}

	configCmd.AddCommand(configShowCmd, configInitCmd)
	return configCmd
}
