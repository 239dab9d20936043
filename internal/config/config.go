package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rootsploit/voyage/internal/version"
)

// Observer modes
const (
	ObserverConsole = "console"
	ObserverServer  = "server"
	ObserverNone    = "none"
)

// Output formats
const (
	FormatText = "text"
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var (
	ErrNoDomains      = errors.New("at least one domain is required")
	ErrNothingEnabled = errors.New("passive and active enumeration are both disabled")
	ErrNoWordlist     = errors.New("a wordlist is required for active enumeration")
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Config holds all configuration options for voyage
type Config struct {
	// Targets
	Domains      []string `mapstructure:"domains" yaml:"domains"`
	WordlistPath string   `mapstructure:"wordlist" yaml:"wordlist"`

	// Enumeration modes
	PassiveEnabled    bool     `mapstructure:"passive" yaml:"passive"`
	ActiveEnabled     bool     `mapstructure:"active" yaml:"active"`
	ExcludeSources    []string `mapstructure:"exclude_sources" yaml:"exclude_sources"`
	ExcludeTechniques []string `mapstructure:"exclude_techniques" yaml:"exclude_techniques"`

	// Performance
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	BatchSize      int           `mapstructure:"batch_size" yaml:"batch_size"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`               // sleep between claims, per worker
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // per DNS/HTTP request
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`

	// Probing
	HTTPPorts        []int    `mapstructure:"http_ports" yaml:"http_ports"`
	HTTPSPorts       []int    `mapstructure:"https_ports" yaml:"https_ports"`
	ActiveUserAgent  string   `mapstructure:"active_user_agent" yaml:"active_user_agent"`
	PassiveUserAgent string   `mapstructure:"passive_user_agent" yaml:"passive_user_agent"`
	ActiveRandomUA   bool     `mapstructure:"active_random_user_agent" yaml:"active_random_user_agent"`
	PassiveRandomUA  bool     `mapstructure:"passive_random_user_agent" yaml:"passive_random_user_agent"`
	Resolvers        []string `mapstructure:"resolvers" yaml:"resolvers,omitempty"`

	// State
	DataDir          string `mapstructure:"data_dir" yaml:"data_dir"`
	FreshStart       bool   `mapstructure:"fresh_start" yaml:"-"`
	RecreateDatabase bool   `mapstructure:"recreate_database" yaml:"-"`

	// Logging
	LogLevel        string `mapstructure:"log_level" yaml:"log_level"`                 // minimum persisted scan log level
	ConsoleLogLevel string `mapstructure:"console_log_level" yaml:"console_log_level"` // zap level on stderr

	// Output
	OutputPath   string `mapstructure:"output" yaml:"output,omitempty"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`

	// Observer
	Observer          string        `mapstructure:"observer" yaml:"observer"`
	ListenAddr        string        `mapstructure:"listen" yaml:"listen"`
	StopWorkersOnQuit bool          `mapstructure:"stop_workers_on_quit" yaml:"stop_workers_on_quit"`
	LaunchDelay       time.Duration `mapstructure:"launch_delay" yaml:"launch_delay"`
	NoBanner          bool          `mapstructure:"no_banner" yaml:"no_banner"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		PassiveEnabled:   true,
		ActiveEnabled:    true,
		Workers:          2,
		BatchSize:        1,
		RequestTimeout:   10 * time.Second,
		HTTPPorts:        []int{80},
		HTTPSPorts:       []int{443},
		ActiveUserAgent:  version.UserAgent(),
		PassiveUserAgent: version.UserAgent(),
		DataDir:          DefaultDataDir(),
		LogLevel:         "debug",
		ConsoleLogLevel:  "warn",
		OutputFormat:     FormatText,
		Observer:         ObserverConsole,
		ListenAddr:       "127.0.0.1:8787",
	}
}

// DefaultDataDir returns the per-user directory holding the voyage database
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		// Fallback if the config directory cannot be determined
		return filepath.Join(".", ".voyage")
	}
	return filepath.Join(dir, "voyage")
}

// DatabasePath returns the SQLite file location inside DataDir
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "voyage.db")
}

// Normalize canonicalizes domain and exclusion lists so equivalent
// invocations produce the same fingerprint.
func (c *Config) Normalize() {
	c.Domains = normalizeList(c.Domains, func(s string) string {
		return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".")
	})
	c.ExcludeSources = normalizeList(c.ExcludeSources, strings.ToLower)
	c.ExcludeTechniques = normalizeList(c.ExcludeTechniques, strings.ToLower)
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.OutputFormat = strings.ToLower(c.OutputFormat)
	c.Observer = strings.ToLower(c.Observer)
}

func normalizeList(in []string, fn func(string) string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, item := range in {
		// Flags may arrive comma separated inside one value
		for _, part := range strings.Split(item, ",") {
			v := fn(strings.TrimSpace(part))
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Validate reports the first configuration problem that makes a scan impossible
func (c *Config) Validate() error {
	if len(c.Domains) == 0 {
		return ErrNoDomains
	}
	if !c.PassiveEnabled && !c.ActiveEnabled {
		return ErrNothingEnabled
	}
	if c.ActiveEnabled && strings.TrimSpace(c.WordlistPath) == "" {
		return ErrNoWordlist
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.Interval < 0 {
		return fmt.Errorf("interval cannot be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	for _, p := range append(append([]int{}, c.HTTPPorts...), c.HTTPSPorts...) {
		if p < 1 || p > 65535 {
			return fmt.Errorf("invalid probe port %d", p)
		}
	}
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	switch c.OutputFormat {
	case FormatText, FormatCSV, FormatJSON:
	default:
		return fmt.Errorf("unknown output format %q", c.OutputFormat)
	}
	switch c.Observer {
	case ObserverConsole, ObserverServer, ObserverNone:
	default:
		return fmt.Errorf("unknown observer %q", c.Observer)
	}
	return nil
}

// Fingerprint holds the fields that change which candidates a scan produces.
// Two configurations with equal fingerprints resume the same scan.
type Fingerprint struct {
	Domains        []string `json:"domains"`
	WordlistHash   string   `json:"wordlist_hash"`
	Passive        bool     `json:"passive"`
	Active         bool     `json:"active"`
	ExcludeSources []string `json:"exclude_sources"`
}

// Fingerprint builds the content-addressed identity of this configuration.
// Call Normalize first.
func (c *Config) Fingerprint(wordlistHash string) Fingerprint {
	return Fingerprint{
		Domains:        append([]string{}, c.Domains...),
		WordlistHash:   wordlistHash,
		Passive:        c.PassiveEnabled,
		Active:         c.ActiveEnabled,
		ExcludeSources: append([]string{}, c.ExcludeSources...),
	}
}

// Excluded reports whether name appears in list (case-insensitive)
func Excluded(list []string, name string) bool {
	for _, item := range list {
		if strings.EqualFold(item, name) {
			return true
		}
	}
	return false
}
