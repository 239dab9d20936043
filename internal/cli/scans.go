package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rootsploit/voyage/internal/config"
	"github.com/rootsploit/voyage/internal/storage"
)

func newScansCmd(v *viper.Viper, configFile *string) *cobra.Command {
	scansCmd := &cobra.Command{
		Use:   "scans",
		Short: "List, inspect and delete stored scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored scans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(store *storage.Store) error {
				scans, err := store.ListScans(cmd.Context(), limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(scans) == 0 {
					fmt.Fprintln(out, "No scans found.")
					return nil
				}

				tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSTATUS\tFOUND\tNOT FOUND\tTOTAL\tUPDATED")
				for _, s := range scans {
					counts := storage.Counts{}
					if s.Status != storage.StatusScanCreated {
						if c, err := store.Counts(cmd.Context(), s.ID); err == nil {
							counts = c
						}
					}
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", s.ID, s.Status,
						counts.Found, counts.NotFound, counts.Total, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of scans to list")

	var logLimit int
	showCmd := &cobra.Command{
		Use:   "show <scan-id>",
		Short: "Show a scan's configuration, progress and recent logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(store *storage.Store) error {
				scan, err := store.GetScan(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				cyan := color.New(color.FgCyan, color.Bold)
				cyan.Fprintf(out, "[+] Scan %s\n", scan.ID)
				fmt.Fprintf(out, "    Status:  %s\n", scan.Status)
				fmt.Fprintf(out, "    Created: %s\n", scan.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				fmt.Fprintf(out, "    Config:  %s\n", scan.Config)

				if scan.Status != storage.StatusScanCreated {
					counts, err := store.Counts(cmd.Context(), scan.ID)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "    Progress: %d found, %d not found, %d scanning, %d queued of %d\n",
						counts.Found, counts.NotFound, counts.Scanning, counts.Queued, counts.Total)
				}

				logs, err := store.RecentLogs(cmd.Context(), scan.ID, storage.LevelDebug, logLimit)
				if err != nil {
					return err
				}
				if len(logs) > 0 {
					fmt.Fprintln(out)
					cyan.Fprintln(out, "[+] Recent logs")
					for i := len(logs) - 1; i >= 0; i-- {
						l := logs[i]
						fmt.Fprintf(out, "    %s %-5s %s\n", l.CreatedAt.Local().Format("15:04:05"), l.Level, l.Description)
					}
				}
				return nil
			})
		},
	}
	showCmd.Flags().IntVar(&logLimit, "logs", 20, "Number of recent log entries to show")

	deleteCmd := &cobra.Command{
		Use:   "delete <scan-id>",
		Short: "Delete a scan with its queue and logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *configFile)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), cfg, func(store *storage.Store) error {
				if err := store.DeleteScan(cmd.Context(), args[0]); err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "[+] Deleted scan %s\n", args[0])
				return nil
			})
		},
	}

	scansCmd.AddCommand(listCmd, showCmd, deleteCmd)
	return scansCmd
}
