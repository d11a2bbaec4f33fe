package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/jhamman/ingestor/internal/archive"
	"github.com/jhamman/ingestor/pkg/ecmwf"
)

// EnvPrefix is the prefix of every environment variable read by LoadFromEnv.
const EnvPrefix = "INGESTOR_"

// Config defines configuration for the ingestor CLI.
type Config struct {
	Variables    []string
	DataDir      string
	FileTemplate string
	Format       string
	Options      map[string]string

	Time TimeConfig
	Lat  *ecmwf.Bounds
	Lon  *ecmwf.Bounds

	Concurrency int
	Stagger     time.Duration

	// Archive is either an ECMWF Web API URL (http or https) or a bucket URL
	// served by archive.Mirror. Empty means the Web API URL from the
	// credentials.
	Archive      string
	MirrorPrefix string
	Credentials  string
	PollInterval time.Duration

	Progress bool
	Retry    RetryConfig
}

// TimeConfig is the time selection, in any layout accepted by ecmwf.Plan.Select.
type TimeConfig struct {
	Start string
	Stop  string
}

// RetryConfig defines retry behavior of the Web API client.
type RetryConfig struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		DataDir:      ecmwf.DefaultDataDir,
		FileTemplate: ecmwf.DefaultFileTemplate,
		Format:       ecmwf.DefaultFormat,
		Concurrency:  ecmwf.DefaultConcurrency,
		Stagger:      ecmwf.DefaultStagger,
		PollInterval: 30 * time.Second,
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// fileConfig is the on-disk shape shared by YAML and TOML, with durations as
// strings and bounds as two-element lists.
type fileConfig struct {
	Variables    []string          `yaml:"variables" toml:"variables"`
	DataDir      string            `yaml:"data_dir" toml:"data_dir"`
	FileTemplate string            `yaml:"file_template" toml:"file_template"`
	Format       string            `yaml:"format" toml:"format"`
	Options      map[string]string `yaml:"options" toml:"options"`
	Time         struct {
		Start string `yaml:"start" toml:"start"`
		Stop  string `yaml:"stop" toml:"stop"`
	} `yaml:"time" toml:"time"`
	Lat          []float64       `yaml:"lat" toml:"lat"`
	Lon          []float64       `yaml:"lon" toml:"lon"`
	Concurrency  int             `yaml:"concurrency" toml:"concurrency"`
	Stagger      string          `yaml:"stagger" toml:"stagger"`
	Archive      string          `yaml:"archive" toml:"archive"`
	MirrorPrefix string          `yaml:"mirror_prefix" toml:"mirror_prefix"`
	Credentials  string          `yaml:"credentials" toml:"credentials"`
	PollInterval string          `yaml:"poll_interval" toml:"poll_interval"`
	Progress     bool            `yaml:"progress" toml:"progress"`
	Retry        fileRetryConfig `yaml:"retry" toml:"retry"`
}

type fileRetryConfig struct {
	Attempts   int    `yaml:"attempts" toml:"attempts"`
	Backoff    string `yaml:"backoff" toml:"backoff"`
	MaxBackoff string `yaml:"max_backoff" toml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file, or a TOML file when
// path ends in ".toml".
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	default:
		err = yaml.Unmarshal(data, &fc)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if len(fc.Variables) > 0 {
		cfg.Variables = fc.Variables
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.FileTemplate != "" {
		cfg.FileTemplate = fc.FileTemplate
	}
	if fc.Format != "" {
		cfg.Format = fc.Format
	}
	if len(fc.Options) > 0 {
		cfg.Options = fc.Options
	}
	cfg.Time = TimeConfig{Start: fc.Time.Start, Stop: fc.Time.Stop}
	if cfg.Lat, err = boundsFromList("lat", fc.Lat); err != nil {
		return Config{}, err
	}
	if cfg.Lon, err = boundsFromList("lon", fc.Lon); err != nil {
		return Config{}, err
	}
	if fc.Concurrency != 0 {
		cfg.Concurrency = fc.Concurrency
	}
	if err := parseDuration("stagger", fc.Stagger, &cfg.Stagger); err != nil {
		return Config{}, err
	}
	cfg.Archive = fc.Archive
	cfg.MirrorPrefix = fc.MirrorPrefix
	cfg.Credentials = fc.Credentials
	if err := parseDuration("poll_interval", fc.PollInterval, &cfg.PollInterval); err != nil {
		return Config{}, err
	}
	cfg.Progress = fc.Progress
	if fc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = fc.Retry.Attempts
	}
	if err := parseDuration("retry.backoff", fc.Retry.Backoff, &cfg.Retry.Backoff); err != nil {
		return Config{}, err
	}
	if err := parseDuration("retry.max_backoff", fc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func parseDuration(name, v string, dst *time.Duration) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

func boundsFromList(name string, v []float64) (*ecmwf.Bounds, error) {
	switch len(v) {
	case 0:
		return nil, nil
	case 2:
		return &ecmwf.Bounds{Start: v[0], Stop: v[1]}, nil
	default:
		return nil, fmt.Errorf("parse %s: expected [start, stop], got %d values", name, len(v))
	}
}

// ParseBounds parses "start,stop", e.g. "-20,20".
func ParseBounds(s string) (*ecmwf.Bounds, error) {
	lo, hi, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("invalid bounds %q: expected start,stop", s)
	}
	start, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid bounds %q: %w", s, err)
	}
	stop, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid bounds %q: %w", s, err)
	}
	return &ecmwf.Bounds{Start: start, Stop: stop}, nil
}

// ParseList splits a comma separated list, dropping empty items.
func ParseList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the INGESTOR_ prefix.
func (c *Config) LoadFromEnv() error {
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	if v := env("VARIABLES"); v != "" {
		c.Variables = ParseList(v)
	}
	if v := env("DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := env("FILE_TEMPLATE"); v != "" {
		c.FileTemplate = v
	}
	if v := env("FORMAT"); v != "" {
		c.Format = v
	}
	if v := env("START"); v != "" {
		c.Time.Start = v
	}
	if v := env("STOP"); v != "" {
		c.Time.Stop = v
	}
	if v := env("LAT"); v != "" {
		b, err := ParseBounds(v)
		if err != nil {
			return fmt.Errorf("parse %sLAT: %w", EnvPrefix, err)
		}
		c.Lat = b
	}
	if v := env("LON"); v != "" {
		b, err := ParseBounds(v)
		if err != nil {
			return fmt.Errorf("parse %sLON: %w", EnvPrefix, err)
		}
		c.Lon = b
	}
	if v := env("CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sCONCURRENCY: %w", EnvPrefix, err)
		}
		c.Concurrency = n
	}
	if err := parseDuration(EnvPrefix+"STAGGER", env("STAGGER"), &c.Stagger); err != nil {
		return err
	}
	if v := env("ARCHIVE"); v != "" {
		c.Archive = v
	}
	if v := env("MIRROR_PREFIX"); v != "" {
		c.MirrorPrefix = v
	}
	if v := env("CREDENTIALS"); v != "" {
		c.Credentials = v
	}
	if err := parseDuration(EnvPrefix+"POLL_INTERVAL", env("POLL_INTERVAL"), &c.PollInterval); err != nil {
		return err
	}
	if v := env("PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := env("RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sRETRY_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.Retry.Attempts = n
	}
	if err := parseDuration(EnvPrefix+"RETRY_BACKOFF", env("RETRY_BACKOFF"), &c.Retry.Backoff); err != nil {
		return err
	}
	if err := parseDuration(EnvPrefix+"RETRY_MAX_BACKOFF", env("RETRY_MAX_BACKOFF"), &c.Retry.MaxBackoff); err != nil {
		return err
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Variables) == 0 {
		return errors.New("config: at least one variable is required")
	}
	if c.FileTemplate == "" {
		return errors.New("config: file_template is required")
	}
	if (c.Time.Start == "") != (c.Time.Stop == "") {
		return errors.New("config: time start and stop must be given together")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	// LoadOptions treats a zero stagger as the 1s default, so it is not
	// accepted as "no delay".
	if c.Stagger <= 0 {
		return errors.New("config: stagger must be positive")
	}
	if c.Retry.Attempts < 0 {
		return errors.New("config: retry attempts must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored; options are merged key by key.
func (c Config) Merge(override Config) Config {
	if len(override.Variables) > 0 {
		c.Variables = override.Variables
	}
	if override.DataDir != "" {
		c.DataDir = override.DataDir
	}
	if override.FileTemplate != "" {
		c.FileTemplate = override.FileTemplate
	}
	if override.Format != "" {
		c.Format = override.Format
	}
	if len(override.Options) > 0 {
		merged := make(map[string]string, len(c.Options)+len(override.Options))
		for k, v := range c.Options {
			merged[k] = v
		}
		for k, v := range override.Options {
			merged[k] = v
		}
		c.Options = merged
	}
	if override.Time.Start != "" {
		c.Time.Start = override.Time.Start
	}
	if override.Time.Stop != "" {
		c.Time.Stop = override.Time.Stop
	}
	if override.Lat != nil {
		c.Lat = override.Lat
	}
	if override.Lon != nil {
		c.Lon = override.Lon
	}
	if override.Concurrency != 0 {
		c.Concurrency = override.Concurrency
	}
	if override.Stagger != 0 {
		c.Stagger = override.Stagger
	}
	if override.Archive != "" {
		c.Archive = override.Archive
	}
	if override.MirrorPrefix != "" {
		c.MirrorPrefix = override.MirrorPrefix
	}
	if override.Credentials != "" {
		c.Credentials = override.Credentials
	}
	if override.PollInterval != 0 {
		c.PollInterval = override.PollInterval
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	return c
}

// Plan builds the request plan described by the configuration.
func (c Config) Plan() (*ecmwf.Plan, error) {
	opts := []ecmwf.Option{
		ecmwf.WithDataDir(c.DataDir),
		ecmwf.WithFileTemplate(c.FileTemplate),
		ecmwf.WithFormat(c.Format),
	}
	if len(c.Options) > 0 {
		opts = append(opts, ecmwf.WithOptions(c.Options))
	}

	plan, err := ecmwf.New(c.Variables, opts...)
	if err != nil {
		return nil, err
	}

	var sel ecmwf.Selection
	if c.Time.Start != "" || c.Time.Stop != "" {
		sel.Time = &ecmwf.TimeRange{Start: c.Time.Start, Stop: c.Time.Stop}
	}
	sel.Lat = c.Lat
	sel.Lon = c.Lon
	return plan.Select(sel)
}

// LoadOptions returns the executor settings of the configuration.
func (c Config) LoadOptions() ecmwf.LoadOptions {
	return ecmwf.LoadOptions{
		Concurrency: c.Concurrency,
		Stagger:     c.Stagger,
	}
}

// ClientOptions returns the Web API client settings of the configuration.
func (c Config) ClientOptions() archive.Options {
	opts := archive.DefaultOptions()
	opts.RetryAttempts = c.Retry.Attempts
	opts.RetryBackoff = c.Retry.Backoff
	opts.RetryMaxBackoff = c.Retry.MaxBackoff
	if c.PollInterval > 0 {
		opts.PollInterval = c.PollInterval
	}
	return opts
}

// UsesMirror reports whether Archive names a bucket rather than a Web API URL.
func (c Config) UsesMirror() bool {
	if c.Archive == "" {
		return false
	}
	return !strings.HasPrefix(c.Archive, "http://") && !strings.HasPrefix(c.Archive, "https://")
}
