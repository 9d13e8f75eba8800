// Package config loads daemon and CLI settings from flags, the environment and a .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"staking-ledger/internal/domain"
)

// DefaultProgramID is used when STAKING_PROGRAM_ID is unset.
const DefaultProgramID = "Stake11111111111111111111111111111111111111"

// Environment keys.
const (
	EnvProgramID     = "STAKING_PROGRAM_ID"
	EnvPostgresDSN   = "POSTGRES_DSN"
	EnvClickHouseDSN = "CLICKHOUSE_DSN"
	EnvHTTPAddr      = "HTTP_ADDR"
	EnvPoolsFile     = "POOLS_FILE"
)

// Config holds settings shared by the daemon and the CLI.
type Config struct {
	ProgramID       domain.Pubkey
	PostgresDSN     string
	ClickHouseDSN   string
	HTTPAddr        string
	PoolsFile       string
	UseMemory       bool
	ShutdownTimeout time.Duration
}

// Flags are the parsed command-line values.
type Flags struct {
	programID string
	cfg       Config
}

// RegisterFlags defines the flags on fs, using environment values as defaults.
// Call Config after fs.Parse.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	v := &Flags{}
	fs.StringVar(&v.programID, "program-id", envOr(EnvProgramID, DefaultProgramID), "Program id that pool addresses derive from (base58)")
	fs.StringVar(&v.cfg.PostgresDSN, "postgres-dsn", os.Getenv(EnvPostgresDSN), "PostgreSQL connection string")
	fs.StringVar(&v.cfg.ClickHouseDSN, "clickhouse-dsn", os.Getenv(EnvClickHouseDSN), "ClickHouse connection string (optional event journal)")
	fs.StringVar(&v.cfg.HTTPAddr, "http-addr", envOr(EnvHTTPAddr, ":8080"), "HTTP listen address")
	fs.StringVar(&v.cfg.PoolsFile, "pools-file", os.Getenv(EnvPoolsFile), "YAML file with pools and balances to seed")
	fs.BoolVar(&v.cfg.UseMemory, "use-memory", false, "Use in-memory storage instead of PostgreSQL")
	fs.DurationVar(&v.cfg.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	return v
}

// Config validates the parsed flags and returns the configuration.
func (v *Flags) Config() (*Config, error) {
	cfg := v.cfg

	pid, err := domain.ParsePubkey(strings.TrimSpace(v.programID))
	if err != nil {
		return nil, fmt.Errorf("--program-id: %w", err)
	}
	cfg.ProgramID = pid

	if !cfg.UseMemory && cfg.PostgresDSN == "" {
		return nil, errors.New("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, errors.New("--shutdown-timeout must be positive")
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoadEnvFile sets variables from a KEY=VALUE file. Existing variables are not overridden.
// A missing file is not an error.
func LoadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("set %s: %w", key, err)
			}
		}
	}
	return nil
}
