package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"notifyd/internal/address"
	"notifyd/internal/lifecycle"
	"notifyd/internal/listener"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr             string          `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel         string          `json:"log_level" yaml:"log_level" toml:"log_level"`
	ProcessType      string          `json:"process_type" yaml:"process_type" toml:"process_type"`
	RunningMode      string          `json:"running_mode" yaml:"running_mode" toml:"running_mode"`
	LogNotifications bool            `json:"log_notifications" yaml:"log_notifications" toml:"log_notifications"`
	CORS             CORS            `json:"cors" yaml:"cors" toml:"cors"`
	Listeners        []listener.Spec `json:"listeners" yaml:"listeners" toml:"listeners"`
	Metrics          []Metric        `json:"metrics" yaml:"metrics" toml:"metrics"`
}

// CORS configures the opt-in CORS middleware.
type CORS struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Metric asks for an attribute to be sampled periodically. Source is an
// address in canonical form; empty or "/" is the root resource.
type Metric struct {
	Source    string   `json:"source" yaml:"source" toml:"source"`
	Attribute string   `json:"attribute" yaml:"attribute" toml:"attribute"`
	Interval  Duration `json:"interval" yaml:"interval" toml:"interval"`
}

// Address parses Source.
func (m Metric) Address() (address.Path, error) {
	p, err := address.Parse(m.Source)
	return p, errors.Trace(err)
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return errors.NotValidf("duration %q", string(b))
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.NotValidf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Trace(err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, errors.NotSupportedf("config extension %q", ext)
	}
	if err != nil {
		return cfg, errors.Annotatef(err, "parsing %s", path)
	}
	return cfg, nil
}

// Validate checks enumerations, metric addresses and intervals. Empty
// fields are accepted and defaulted elsewhere.
func (c Config) Validate() error {
	if c.ProcessType != "" {
		if _, err := lifecycle.ParseProcessType(c.ProcessType); err != nil {
			return errors.Trace(err)
		}
	}
	if c.RunningMode != "" {
		if _, err := lifecycle.ParseRunningMode(c.RunningMode); err != nil {
			return errors.Trace(err)
		}
	}
	for i, l := range c.Listeners {
		if l.Kind == "" {
			return errors.NotValidf("listener %d without kind", i)
		}
	}
	for i, m := range c.Metrics {
		src, err := m.Address()
		if err != nil {
			return errors.Annotatef(err, "metric %d", i)
		}
		if src.IsWildcard() {
			return errors.NotValidf("metric %d source %s", i, src)
		}
		if m.Attribute == "" {
			return errors.NotValidf("metric %d without attribute", i)
		}
		if m.Interval <= 0 {
			return errors.NotValidf("metric %d interval %v", i, time.Duration(m.Interval))
		}
	}
	return nil
}
