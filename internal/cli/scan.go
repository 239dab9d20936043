package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rootsploit/voyage/internal/config"
	"github.com/rootsploit/voyage/internal/logger"
	"github.com/rootsploit/voyage/internal/metrics"
	"github.com/rootsploit/voyage/internal/observer"
	"github.com/rootsploit/voyage/internal/runner"
	"github.com/rootsploit/voyage/internal/server"
	"github.com/rootsploit/voyage/internal/storage"
	"github.com/rootsploit/voyage/internal/subdomain"
	"github.com/rootsploit/voyage/internal/technique"
)

// scanFlags maps each scan flag to its configuration key
var scanFlags = map[string]string{
	"domain":                    "domains",
	"wordlist-path":             "wordlist",
	"interval":                  "interval",
	"tasks":                     "workers",
	"batch-size":                "batch_size",
	"request-timeout":           "request_timeout",
	"max-retries":               "max_retries",
	"fresh-start":               "fresh_start",
	"recreate-database":         "recreate_database",
	"active-random-user-agent":  "active_random_user_agent",
	"passive-random-user-agent": "passive_random_user_agent",
	"active-user-agent":         "active_user_agent",
	"passive-user-agent":        "passive_user_agent",
	"no-banner":                 "no_banner",
	"launch-delay":              "launch_delay",
	"log-level":                 "log_level",
	"console-log-level":         "console_log_level",
	"output-format":             "output_format",
	"output-path":               "output",
	"exclude-passive-source":    "exclude_sources",
	"exclude-active-technique":  "exclude_techniques",
	"http-probing-port":         "http_ports",
	"https-probing-port":        "https_ports",
	"resolver":                  "resolvers",
	"observer":                  "observer",
	"listen":                    "listen",
	"stop-workers-on-quit":      "stop_workers_on_quit",
}

func addScanFlags(cmd *cobra.Command, v *viper.Viper) {
	d := config.DefaultConfig()
	f := cmd.Flags()

	// Targets
	f.StringSliceP("domain", "d", nil, "Domain to target (repeatable or comma separated)")
	f.StringP("wordlist-path", "w", "", "Wordlist used for active enumeration")

	// Enumeration modes
	f.Bool("disable-passive-enum", false, "Disable passive subdomain enumeration")
	f.Bool("disable-active-enum", false, "Disable active subdomain enumeration")
	f.StringSlice("exclude-passive-source", nil, "Passive sources to skip (crt.sh, hackertarget, alienvault, rapiddns)")
	f.StringSlice("exclude-active-technique", nil, "Active techniques to skip (ipv4_lookup, ipv6_lookup, http_probing, https_probing)")

	// Performance
	f.DurationP("interval", "i", d.Interval, "Delay before each claim, per task (e.g. 250ms)")
	f.IntP("tasks", "t", d.Workers, "Number of concurrent tasks")
	f.Int("batch-size", d.BatchSize, "Candidates claimed per task at once")
	f.Duration("request-timeout", d.RequestTimeout, "Timeout of each DNS or HTTP request")
	f.Int("max-retries", d.MaxRetries, "Requeue a candidate up to N times after a timeout or error")

	// Probing
	f.IntSlice("http-probing-port", d.HTTPPorts, "Ports used for HTTP probing")
	f.IntSlice("https-probing-port", d.HTTPSPorts, "Ports used for HTTPS probing")
	f.StringP("active-user-agent", "a", d.ActiveUserAgent, "User agent for active enumeration")
	f.StringP("passive-user-agent", "p", d.PassiveUserAgent, "User agent for passive enumeration")
	f.Bool("active-random-user-agent", false, "Randomize the user agent for active enumeration")
	f.Bool("passive-random-user-agent", false, "Randomize the user agent for passive enumeration")
	f.StringSlice("resolver", nil, "DNS resolver host[:port] (default: system resolvers)")

	// State
	f.Bool("fresh-start", false, "Restart the matching scan from scratch")
	f.Bool("recreate-database", false, "Delete the database before starting")

	// Logging and output
	f.String("log-level", d.LogLevel, "Minimum persisted log level: debug, info, warn, error")
	f.String("console-log-level", d.ConsoleLogLevel, "Minimum level of diagnostic logs on stderr")
	f.StringP("output-path", "o", "", "Write found subdomains to this file on completion")
	f.String("output-format", d.OutputFormat, "Output format: text, csv, json")

	// Observer
	f.String("observer", d.Observer, "Progress display: console, server, none")
	f.String("listen", d.ListenAddr, "Listen address of the server observer")
	f.Bool("stop-workers-on-quit", false, "Stop workers when the observer quits")
	f.Duration("launch-delay", 0, "Wait before starting (e.g. 5s)")
	f.Bool("no-banner", false, "Disable banner display on startup")

	for name, key := range scanFlags {
		_ = v.BindPFlag(key, f.Lookup(name))
	}
}

// loadConfig merges flags, environment and config file, then validates
func loadConfig(cmd *cobra.Command, v *viper.Viper, configFile string) (*config.Config, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if off, _ := flags.GetBool("disable-passive-enum"); off {
		cfg.PassiveEnabled = false
	}
	if off, _ := flags.GetBool("disable-active-enum"); off {
		cfg.ActiveEnabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runScan(ctx context.Context, cfg *config.Config, stdout io.Writer, stdin io.Reader) error {
	if !cfg.NoBanner {
		printBanner(stdout)
	}

	if cfg.LaunchDelay > 0 {
		color.New(color.FgYellow).Fprintf(stdout, "[*] Starting in %s\n", cfg.LaunchDelay)
		select {
		case <-time.After(cfg.LaunchDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log, err := logger.New(logger.Config{Level: cfg.ConsoleLogLevel, Development: true})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := runner.Options{
		Store:    store,
		Scanner:  technique.Build(cfg, m.ObserveProbe),
		Logger:   log,
		Metrics:  m,
		Reporter: runner.NewColorReporter(stdout),
	}
	if cfg.PassiveEnabled {
		opts.Passive = subdomain.Build(cfg)
	}

	r, err := runner.New(cfg, opts)
	if err != nil {
		return err
	}
	scan, err := r.Prepare(ctx)
	if err != nil {
		return err
	}
	color.New(color.FgCyan).Fprintf(stdout, "[*] Scan %s\n", scan.ID)

	var obs runner.Observer
	switch cfg.Observer {
	case config.ObserverServer:
		obs = server.New(server.Config{Addr: cfg.ListenAddr}, server.Deps{
			Store:    store,
			ScanID:   scan.ID,
			Gatherer: reg,
			Logger:   log,
		})
	case config.ObserverNone:
		obs = observer.None{}
	default:
		obs = observer.NewConsole(stdin, stdout)
	}

	if err := r.Run(ctx, obs); err != nil {
		return err
	}
	if cfg.OutputPath != "" && r.Tracker().Snapshot().Completed {
		color.New(color.FgGreen).Fprintf(stdout, "[+] Results written to %s\n", cfg.OutputPath)
	}
	return nil
}

// openStore prepares the data directory and opens the database, deleting
// it first when asked to.
func openStore(ctx context.Context, cfg *config.Config) (*storage.Store, error) {
	path := cfg.DatabasePath()
	if cfg.RecreateDatabase {
		if err := storage.Remove(path); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return storage.Open(ctx, path)
}
