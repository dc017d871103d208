// Package config loads flagkit configuration from environment variables.
//
// Variables:
//   - FEATUREFLAG_STORE: MEMORY (default), FILE or POSTGRES, case-insensitive.
//   - FEATUREFLAG_FILE_PATH: definition document path, required for FILE.
//   - FEATUREFLAG_CACHE_TTL: file snapshot lifetime (default "3s", must be >= 0).
//   - FEATUREFLAG_PRESERVE_ON_ERROR: keep the last good file snapshot when a
//     reload fails (default false).
//   - FEATUREFLAG_DATABASE_URL: PostgreSQL connection string, required for POSTGRES.
//   - FEATUREFLAG_NOTIFY_CHANNEL: LISTEN channel (default "flag_definitions").
//   - FEATUREFLAG_RESYNC_INTERVAL: safety-net refresh interval for POSTGRES
//     (default "1m", must be > 0).
//   - FEATUREFLAG_LOG_LEVEL: debug, info, warn or error (default "info").
//   - FEATUREFLAG_LOG_FORMAT: json or text (default "json").
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrFilePathRequired    = errors.New("FEATUREFLAG_FILE_PATH is required when FEATUREFLAG_STORE=FILE")
	ErrDatabaseURLRequired = errors.New("FEATUREFLAG_DATABASE_URL is required when FEATUREFLAG_STORE=POSTGRES")
)

// StoreBackend selects where flag definitions come from.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "MEMORY"
	StoreFile     StoreBackend = "FILE"
	StorePostgres StoreBackend = "POSTGRES"
)

// ParseStoreBackend accepts a backend name in any case.
func ParseStoreBackend(value string) (StoreBackend, error) {
	switch backend := StoreBackend(strings.ToUpper(strings.TrimSpace(value))); backend {
	case StoreMemory, StoreFile, StorePostgres:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown store backend %q (want MEMORY, FILE or POSTGRES)", value)
	}
}

func (b *StoreBackend) UnmarshalText(text []byte) error {
	backend, err := ParseStoreBackend(string(text))
	if err != nil {
		return err
	}
	*b = backend
	return nil
}

// Config holds the runtime configuration for a flagkit client.
type Config struct {
	Store           StoreBackend  `env:"FEATUREFLAG_STORE" envDefault:"MEMORY"`
	FilePath        string        `env:"FEATUREFLAG_FILE_PATH"`
	CacheTTL        time.Duration `env:"FEATUREFLAG_CACHE_TTL" envDefault:"3s"`
	PreserveOnError bool          `env:"FEATUREFLAG_PRESERVE_ON_ERROR" envDefault:"false"`
	DatabaseURL     string        `env:"FEATUREFLAG_DATABASE_URL"`
	NotifyChannel   string        `env:"FEATUREFLAG_NOTIFY_CHANNEL" envDefault:"flag_definitions"`
	ResyncInterval  time.Duration `env:"FEATUREFLAG_RESYNC_INTERVAL" envDefault:"1m"`
	LogLevel        string        `env:"FEATUREFLAG_LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"FEATUREFLAG_LOG_FORMAT" envDefault:"json"`
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	cfg, err := LoadFromMap(nil)
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// Load reads configuration from the process environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadFromMap reads configuration from vars instead of the process
// environment.
func LoadFromMap(vars map[string]string) (Config, error) {
	if vars == nil {
		vars = map[string]string{}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadWithEnvFile loads path as a dotenv file, without overriding variables
// that are already set, then reads the process environment with overrides
// applied on top. A missing file is ignored.
func LoadWithEnvFile(path string, overrides map[string]string) (Config, error) {
	if path = strings.TrimSpace(path); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %q: %w", path, err)
		}
	}

	vars := env.ToMap(os.Environ())
	for key, value := range overrides {
		vars[key] = value
	}
	return LoadFromMap(vars)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	_, err := c.Normalize()
	return err
}

// Normalize returns c with Store in its canonical upper-case form, or the
// first invalid setting. Store selection must use the returned value.
func (c Config) Normalize() (Config, error) {
	backend, err := ParseStoreBackend(string(c.Store))
	if err != nil {
		return Config{}, err
	}
	c.Store = backend

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if c.Store == StoreFile && strings.TrimSpace(c.FilePath) == "" {
		return ErrFilePathRequired
	}
	if c.Store == StorePostgres && strings.TrimSpace(c.DatabaseURL) == "" {
		return ErrDatabaseURLRequired
	}
	if c.CacheTTL < 0 {
		return errors.New("FEATUREFLAG_CACHE_TTL must be >= 0")
	}
	if c.ResyncInterval <= 0 {
		return errors.New("FEATUREFLAG_RESYNC_INTERVAL must be > 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "json", "text":
	default:
		return fmt.Errorf("FEATUREFLAG_LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}
