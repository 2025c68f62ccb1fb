// Package config loads the ledgerkv YAML configuration.
//
// A file is decoded with yaml.v3, unified with the embedded CUE schema (which
// rejects unknown fields and supplies defaults) and decoded into Config.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/ledgerkv/internal/ledger"
)

//go:embed schema.cue
var schemaCUE string

// Ledger drivers.
const (
	DriverSQLite      = "sqlite"
	DriverLightClient = "lightclient"
)

// Config is the full configuration.
type Config struct {
	AppName     string         `json:"app_name,omitempty" yaml:"app_name,omitempty"`
	Lookback    uint64         `json:"lookback" yaml:"lookback"`
	Incremental bool           `json:"incremental" yaml:"incremental"`
	LogLevel    string         `json:"log_level" yaml:"log_level"`
	Ledger      LedgerConfig   `json:"ledger" yaml:"ledger"`
	Retry       RetryConfig    `json:"retry" yaml:"retry"`
	Scan        ScanConfig     `json:"scan" yaml:"scan"`
	Resolver    ResolverConfig `json:"resolver" yaml:"resolver"`
}

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	Driver   string            `json:"driver" yaml:"driver"`
	Path     string            `json:"path" yaml:"path"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	Apps     map[string]uint32 `json:"apps,omitempty" yaml:"apps,omitempty"`
	Timeout  string            `json:"timeout" yaml:"timeout"`

	// RateLimit caps ledger calls per second (0 = unlimited).
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
}

// RetryConfig is the per-call retry policy.
type RetryConfig struct {
	Attempts  int    `json:"attempts" yaml:"attempts"`
	BaseDelay string `json:"base_delay" yaml:"base_delay"`
	MaxDelay  string `json:"max_delay" yaml:"max_delay"`
}

// ScanConfig tunes the block range scanner.
type ScanConfig struct {
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	CacheSize   int `json:"cache_size" yaml:"cache_size"`
}

// ResolverConfig tunes app-name resolution.
type ResolverConfig struct {
	CacheTTL string `json:"cache_ttl" yaml:"cache_ttl"`
}

// ValidationError reports a config that does not satisfy the schema.
type ValidationError struct {
	Source string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %v", e.Source, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError returns true if err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	cfg, err := Parse([]byte("{}"), "defaults")
	if err != nil {
		panic(fmt.Sprintf("config: built-in defaults are invalid: %v", err))
	}
	return cfg
}

// Load reads and validates the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return Parse(data, path)
}

// Parse validates YAML data against the schema and fills in defaults.
// source names the data in error messages.
func Parse(data []byte, source string) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, &ValidationError{Source: source, Err: err}
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := def.Unify(ctx.Encode(raw))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return Config{}, &ValidationError{Source: source, Err: err}
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return Config{}, &ValidationError{Source: source, Err: err}
	}
	if err := cfg.check(); err != nil {
		return Config{}, &ValidationError{Source: source, Err: err}
	}
	return cfg, nil
}

// check validates what the schema cannot express.
func (c Config) check() error {
	for name, d := range map[string]string{
		"ledger.timeout":     c.Ledger.Timeout,
		"retry.base_delay":   c.Retry.BaseDelay,
		"retry.max_delay":    c.Retry.MaxDelay,
		"resolver.cache_ttl": c.Resolver.CacheTTL,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	// go-cache reads a zero TTL as "never expire".
	if ttl, _ := time.ParseDuration(c.Resolver.CacheTTL); ttl <= 0 {
		return fmt.Errorf("resolver.cache_ttl: must be positive, got %q", c.Resolver.CacheTTL)
	}
	if c.Ledger.Driver == DriverLightClient && c.AppName != "" {
		if _, ok := c.Ledger.Apps[c.AppName]; !ok {
			return fmt.Errorf("ledger.apps has no app id for %q", c.AppName)
		}
	}
	return nil
}

// RetryPolicy returns the configured retry policy.
func (c Config) RetryPolicy() ledger.RetryPolicy {
	return ledger.RetryPolicy{
		Attempts:  c.Retry.Attempts,
		BaseDelay: mustDuration(c.Retry.BaseDelay),
		MaxDelay:  mustDuration(c.Retry.MaxDelay),
		Timeout:   mustDuration(c.Ledger.Timeout),
	}
}

// CacheTTL returns the resolver cache TTL.
func (c Config) CacheTTL() time.Duration {
	return mustDuration(c.Resolver.CacheTTL)
}

// Level returns the slog level for LogLevel.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StaticApps returns Ledger.Apps as a resolver table.
func (c Config) StaticApps() ledger.StaticResolver {
	apps := make(ledger.StaticResolver, len(c.Ledger.Apps))
	for name, id := range c.Ledger.Apps {
		apps[name] = ledger.AppID(id)
	}
	return apps
}

// Marshal renders the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// mustDuration parses a duration already checked by Parse.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
