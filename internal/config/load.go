package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every configuration key read from the environment
// (e.g. VOYAGE_WORKERS=8).
const EnvPrefix = "VOYAGE"

// DefaultConfigFile returns ~/.voyage/config.yaml
func DefaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".voyage", "config.yaml")
	}
	return filepath.Join(home, ".voyage", "config.yaml")
}

// NewViper returns a viper instance preloaded with defaults and the
// environment binding. Callers bind their flags before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("domains", d.Domains)
	v.SetDefault("wordlist", d.WordlistPath)
	v.SetDefault("passive", d.PassiveEnabled)
	v.SetDefault("active", d.ActiveEnabled)
	v.SetDefault("exclude_sources", d.ExcludeSources)
	v.SetDefault("exclude_techniques", d.ExcludeTechniques)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("http_ports", d.HTTPPorts)
	v.SetDefault("https_ports", d.HTTPSPorts)
	v.SetDefault("active_user_agent", d.ActiveUserAgent)
	v.SetDefault("passive_user_agent", d.PassiveUserAgent)
	v.SetDefault("active_random_user_agent", d.ActiveRandomUA)
	v.SetDefault("passive_random_user_agent", d.PassiveRandomUA)
	v.SetDefault("resolvers", d.Resolvers)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("fresh_start", d.FreshStart)
	v.SetDefault("recreate_database", d.RecreateDatabase)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("console_log_level", d.ConsoleLogLevel)
	v.SetDefault("output", d.OutputPath)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("observer", d.Observer)
	v.SetDefault("listen", d.ListenAddr)
	v.SetDefault("stop_workers_on_quit", d.StopWorkersOnQuit)
	v.SetDefault("launch_delay", d.LaunchDelay)
	v.SetDefault("no_banner", d.NoBanner)
	return v
}

// Load reads an optional YAML config file into v and decodes the merged
// result (flags > env > file > defaults). A missing default config file is
// not an error; a missing explicitly named file is.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	explicit := configFile != ""
	if !explicit {
		configFile = DefaultConfigFile()
	}
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// WriteTemplate writes cfg as YAML to path, refusing to overwrite an existing file
func WriteTemplate(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	header := "# voyage configuration\n# Values here are overridden by VOYAGE_* environment variables and command-line flags.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0600)
}

// Marshal renders cfg as YAML
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
