package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env files into the process environment in priority order:
//  1. VOYAGE_ENV_FILE (if set, loads only this file)
//  2. .env.local (overrides .env)
//  3. .env
//
// Variables already present in the environment are never overwritten.
// Missing files are ignored.
func LoadEnvFiles() error {
	if envFile := os.Getenv(EnvPrefix + "_ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}
