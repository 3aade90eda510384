package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables are applied on top of the file.

const (
	DefaultListen      = "127.0.0.1:8080"
	DefaultTimezone    = "Europe/Rome"
	DefaultInstitution = "Università degli Studi di Milano-Bicocca"
	DefaultClosureTag  = "chiusura_type"
	DefaultTimeout     = 10 * time.Second
	DefaultProbeCron   = "*/5 * * * *"

	defaultLessonsURL = "https://gestioneorari.didattica.unimib.it/PortaleStudentiUnimib/grid_call.php"
	defaultExamsURL   = "https://gestioneorari.didattica.unimib.it/PortaleStudentiUnimib/test_call.php"
	defaultSchool     = "ScuoladiScienze"
)

// LogConfig controls the zap-backed logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format" json:"format"`
}

// UpstreamConfig describes the scheduling portal endpoints.
type UpstreamConfig struct {
	LessonsURL string `yaml:"lessons_url" json:"lessons_url"`
	ExamsURL   string `yaml:"exams_url" json:"exams_url"`
	// School is the fixed institutional code sent as "scuola" on exam requests.
	School string `yaml:"school" json:"school"`
	// ClosureTag is the lesson "tipo" value that marks a closure/holiday cell.
	ClosureTag string `yaml:"closure_tag" json:"closure_tag"`
	// Timeout bounds a single upstream call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ProbeConfig controls the periodic upstream reachability check.
type ProbeConfig struct {
	// Cron is a standard 5-field cron expression. An explicit empty value
	// disables the probe; a missing probe section gets DefaultProbeCron.
	Cron string `yaml:"cron" json:"cron"`
}

// CalendarConfig holds the static properties of generated feeds.
type CalendarConfig struct {
	Name      string `yaml:"name" json:"name"`
	ProductID string `yaml:"product_id" json:"product_id"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the metrics and
// feed endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// SiteConfig is one entry of the site coordinate table.
type SiteConfig struct {
	Code string  `yaml:"code" json:"code"`
	Lat  float64 `yaml:"lat" json:"lat"`
	Lon  float64 `yaml:"lon" json:"lon"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the feed API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone upstream wall-clock times belong to.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Institution is embedded in every lesson location.
	Institution string `yaml:"institution" json:"institution"`

	Log      LogConfig      `yaml:"log" json:"log"`
	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`
	Probe    *ProbeConfig   `yaml:"probe" json:"probe"`
	Calendar CalendarConfig `yaml:"calendar" json:"calendar"`

	// Sites maps building codes to campus coordinates.
	Sites []SiteConfig `yaml:"sites" json:"sites"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and /ready.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// envOverrides lists the variables that take precedence over the file.
type envOverrides struct {
	Listen          string `env:"CALFEED_LISTEN"`
	LogLevel        string `env:"CALFEED_LOG_LEVEL"`
	LogFormat       string `env:"CALFEED_LOG_FORMAT"`
	LessonsURL      string `env:"CALFEED_LESSONS_URL"`
	ExamsURL        string `env:"CALFEED_EXAMS_URL"`
	UpstreamTimeout string `env:"CALFEED_UPSTREAM_TIMEOUT"`
}

// DefaultSites is the built-in campus table (Milano-Bicocca buildings).
func DefaultSites() []SiteConfig {
	return []SiteConfig{
		{Code: "U1", Lat: 45.513620, Lon: 9.211440},
		{Code: "U2", Lat: 45.513900, Lon: 9.210120},
		{Code: "U3", Lat: 45.514260, Lon: 9.211720},
		{Code: "U4", Lat: 45.514630, Lon: 9.210360},
		{Code: "U5", Lat: 45.515010, Lon: 9.211000},
		{Code: "U6", Lat: 45.518040, Lon: 9.212960},
		{Code: "U7", Lat: 45.517260, Lon: 9.213150},
		{Code: "U9", Lat: 45.512800, Lon: 9.213740},
		{Code: "U12", Lat: 45.515430, Lon: 9.207160},
		{Code: "U14", Lat: 45.523680, Lon: 9.219620},
		{Code: "U16", Lat: 45.519070, Lon: 9.216090},
		{Code: "U24", Lat: 45.511760, Lon: 9.209260},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      DefaultListen,
		Timezone:    DefaultTimezone,
		Institution: DefaultInstitution,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Upstream: UpstreamConfig{
			LessonsURL: defaultLessonsURL,
			ExamsURL:   defaultExamsURL,
			School:     defaultSchool,
			ClosureTag: DefaultClosureTag,
			Timeout:    DefaultTimeout,
		},
		Probe: &ProbeConfig{Cron: DefaultProbeCron},
		Calendar: CalendarConfig{
			Name:      "Orario lezioni",
			ProductID: "-//calfeed//orario//IT",
		},
		Sites: DefaultSites(),
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.Institution == "" {
		c.Institution = d.Institution
	}

	switch c.Log.Format {
	case "json", "console":
		// ok
	default:
		c.Log.Format = d.Log.Format
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}

	if c.Upstream.LessonsURL == "" {
		c.Upstream.LessonsURL = d.Upstream.LessonsURL
	}
	if c.Upstream.ExamsURL == "" {
		c.Upstream.ExamsURL = d.Upstream.ExamsURL
	}
	if c.Upstream.School == "" {
		c.Upstream.School = d.Upstream.School
	}
	if c.Upstream.ClosureTag == "" {
		c.Upstream.ClosureTag = d.Upstream.ClosureTag
	}
	if c.Upstream.Timeout <= 0 {
		c.Upstream.Timeout = d.Upstream.Timeout
	}

	if c.Calendar.Name == "" {
		c.Calendar.Name = d.Calendar.Name
	}
	if c.Calendar.ProductID == "" {
		c.Calendar.ProductID = d.Calendar.ProductID
	}

	// An explicit empty value disables the feature; only a missing key gets defaults.
	if c.Probe == nil {
		c.Probe = d.Probe
	}
	if c.Sites == nil {
		c.Sites = d.Sites
	}
}

// ProbeCron returns the probe schedule, empty when the probe is disabled.
func (c *Config) ProbeCron() string {
	if c.Probe == nil {
		return ""
	}
	return c.Probe.Cron
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// In both cases CALFEED_* environment variables are applied last.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			if err := cfg.applyEnv(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("error parsing environment variables %w", err)
	}

	if ov.Listen != "" {
		c.Listen = ov.Listen
	}
	if ov.LogLevel != "" {
		c.Log.Level = ov.LogLevel
	}
	if ov.LogFormat != "" {
		c.Log.Format = ov.LogFormat
	}
	if ov.LessonsURL != "" {
		c.Upstream.LessonsURL = ov.LessonsURL
	}
	if ov.ExamsURL != "" {
		c.Upstream.ExamsURL = ov.ExamsURL
	}
	if ov.UpstreamTimeout != "" {
		d, err := time.ParseDuration(ov.UpstreamTimeout)
		if err != nil {
			return fmt.Errorf("CALFEED_UPSTREAM_TIMEOUT: %w", err)
		}
		c.Upstream.Timeout = d
	}

	c.Normalize()
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calfeed-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
