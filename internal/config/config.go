// Package config provides functionality for managing configuration options
// for the application using command-line flags, a JSON config file and
// environment variables.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendFile     = "file"
	BackendMemory   = "memory"
)

// ErrInvalidOptions is returned when the merged options fail validation.
var ErrInvalidOptions = errors.New("invalid configuration")

// Duration is a time.Duration that reads and writes as "90s", "1m" and so
// on in JSON and environment values.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Options holds the configuration values for the application.
type Options struct {
	// Addr defines the server's listening address (ip:port).
	Addr string `json:"addr" env:"SERVER_ADDRESS" validate:"required"`

	// Backend selects where token records are kept.
	Backend     string `json:"backend" env:"STORE_BACKEND" validate:"oneof=postgres sqlite file memory"`
	DatabaseDSN string `json:"database_dsn" env:"DATABASE_DSN" validate:"required_if=Backend postgres"`
	SQLitePath  string `json:"sqlite_path" env:"SQLITE_PATH" validate:"required_if=Backend sqlite"`
	FilePath    string `json:"file_path" env:"STORE_FILE" validate:"required_if=Backend file"`

	// MasterKey is the input keying material for record sealing.
	MasterKey string `json:"master_key" env:"MASTER_KEY" validate:"required"`
	// PresencePINHash is a bcrypt hash. Locked tokens are available only
	// when it is set.
	PresencePINHash string `json:"presence_pin_hash" env:"PRESENCE_PIN_HASH"`

	// LegacyPath points at a flat store written by older builds.
	LegacyPath        string   `json:"legacy_path" env:"LEGACY_PATH"`
	MigrationInterval Duration `json:"migration_interval" env:"MIGRATION_INTERVAL" validate:"gte=0"`

	TLSCert string `json:"tls_cert" env:"TLS_CERT"`
	TLSKey  string `json:"tls_key" env:"TLS_KEY"`
	TLSCA   string `json:"tls_ca" env:"TLS_CA"`

	// ServerURL is the companion API base used by the client.
	ServerURL string `json:"server_url" env:"SERVER_URL" validate:"omitempty,url"`
	// Command selects a one-shot client command instead of the shell.
	Command string `json:"-"`
	// Args holds the positional arguments left after the flags.
	Args []string `json:"-"`

	LogLevel string `json:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`

	// Config is the path to the config file.
	Config string `json:"-" env:"CONFIG"`
}

func defaults() *Options {
	return &Options{
		Addr:              "localhost:8443",
		Backend:           BackendSQLite,
		SQLitePath:        "gophotp.db",
		MigrationInterval: Duration(time.Minute),
		ServerURL:         "https://localhost:8443",
		LogLevel:          "info",
		Config:            "config.json",
	}
}

// ParseArgs builds the options from args, the config file and the
// environment. Later sources win: flags, then the file, then variables
// (including those loaded from a .env file).
func ParseArgs(name string, args []string) (*Options, error) {
	opts := defaults()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&opts.Addr, "a", opts.Addr, "run on ip:port server")
	fs.StringVar(&opts.Backend, "b", opts.Backend, "storage backend: postgres, sqlite, file or memory")
	fs.StringVar(&opts.DatabaseDSN, "d", opts.DatabaseDSN, "db address")
	fs.StringVar(&opts.SQLitePath, "s", opts.SQLitePath, "sqlite database path")
	fs.StringVar(&opts.FilePath, "f", opts.FilePath, "record file path")
	fs.StringVar(&opts.LegacyPath, "legacy", opts.LegacyPath, "legacy store to migrate")
	fs.StringVar(&opts.TLSCert, "cert", opts.TLSCert, "TLS certificate")
	fs.StringVar(&opts.TLSKey, "key", opts.TLSKey, "TLS private key")
	fs.StringVar(&opts.TLSCA, "ca", opts.TLSCA, "CA certificate for companion certificates")
	fs.StringVar(&opts.ServerURL, "server", opts.ServerURL, "companion API base URL")
	fs.StringVar(&opts.Command, "cmd", opts.Command, "run a single command and exit")
	fs.StringVar(&opts.LogLevel, "l", opts.LogLevel, "log level")
	fs.StringVar(&opts.Config, "config", opts.Config, "path to config file")
	fs.StringVar(&opts.Config, "c", opts.Config, "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.Args = fs.Args()

	// The .env file is optional.
	_ = godotenv.Load()

	if configPath := os.Getenv("CONFIG"); configPath != "" {
		opts.Config = configPath
	}
	if opts.Config != "" {
		if _, err := os.Stat(opts.Config); err == nil {
			data, err := os.ReadFile(opts.Config)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := json.Unmarshal(data, opts); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	if err := env.Parse(opts); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	opts.LogLevel = strings.ToLower(opts.LogLevel)
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return opts, nil
}

// Parse parses the command-line flags and environment variables to set
// configuration values. It returns a pointer to the Options struct containing
// the parsed configuration values.
func Parse() *Options {
	opts, err := ParseArgs(os.Args[0], os.Args[1:])
	if err != nil {
		log.Fatalf("error while loading config: %v", err)
	}
	return opts
}
