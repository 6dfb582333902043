// Package config loads the mediatorkit TOML configuration from standard
// locations and maps it onto the task manager, transport, archive, logging
// and telemetry settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/mediatorkit/logging"
	"github.com/vinayprograms/mediatorkit/taskmanager"
	"github.com/vinayprograms/mediatorkit/telemetry"
	"github.com/vinayprograms/mediatorkit/transport"
)

// Common errors.
var (
	ErrUnknownKeys = errors.New("unknown configuration keys")
	ErrInvalid     = errors.New("invalid configuration")
)

// Environment variables that override file settings.
const (
	EnvURL            = "MEDIATORKIT_URL"
	EnvDeviceID       = "MEDIATORKIT_DEVICE_ID"
	EnvArchiveBackend = "MEDIATORKIT_ARCHIVE_BACKEND"
	EnvArchivePath    = "MEDIATORKIT_ARCHIVE_PATH"
	EnvNATSURL        = "MEDIATORKIT_NATS_URL"
	EnvOTLPEndpoint   = "MEDIATORKIT_OTLP_ENDPOINT"
)

// Archive backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendNATS   = "nats"
)

// Duration is a time.Duration written as a string such as "2s" or "8m32s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
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

// Std returns the duration as time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete configuration file.
type Config struct {
	Mediator  MediatorConfig  `toml:"mediator"`
	Runner    RunnerConfig    `toml:"runner"`
	Archive   ArchiveConfig   `toml:"archive"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// MediatorConfig is the [mediator] section.
type MediatorConfig struct {
	URL              string   `toml:"url"`
	DeviceID         string   `toml:"device_id"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	IdleTimeout      Duration `toml:"idle_timeout"`
	WriteTimeout     Duration `toml:"write_timeout"`
	PingInterval     Duration `toml:"ping_interval"`
	RedialDelay      Duration `toml:"redial_delay"`
}

// RunnerConfig is the [runner] section.
type RunnerConfig struct {
	LocalMaxExecutions int      `toml:"local_max_executions"`
	ReconnectMinDelay  Duration `toml:"reconnect_min_delay"`
	ReconnectMaxDelay  Duration `toml:"reconnect_max_delay"`
	SelfHealDelay      Duration `toml:"self_heal_delay"`
	ReplayTimeout      Duration `toml:"replay_timeout"`
}

// ArchiveConfig is the [archive] section.
type ArchiveConfig struct {
	// Backend is memory, bolt or nats.
	Backend string `toml:"backend"`
	// Path of the bbolt file.
	Path string `toml:"path"`
	// NATSURL and Bucket select the JetStream key-value bucket.
	NATSURL string `toml:"nats_url"`
	Bucket  string `toml:"bucket"`
}

// LogConfig is the [log] section.
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// TelemetryConfig is the [telemetry] section. Tracing is off while Endpoint
// is empty.
type TelemetryConfig struct {
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"service_name"`
}

// Default returns the built-in configuration.
func Default() *Config {
	tm := taskmanager.DefaultConfig()
	tr := transport.DefaultConfig()
	return &Config{
		Mediator: MediatorConfig{
			HandshakeTimeout: Duration(tr.HandshakeTimeout),
			WriteTimeout:     Duration(tr.WriteTimeout),
			PingInterval:     Duration(tr.PingInterval),
			RedialDelay:      Duration(tr.RedialDelay),
		},
		Runner: RunnerConfig{
			LocalMaxExecutions: tm.LocalMaxExecutions,
			ReconnectMinDelay:  Duration(tm.ReconnectMinDelay),
			ReconnectMaxDelay:  Duration(tm.ReconnectMaxDelay),
			SelfHealDelay:      Duration(tm.SelfHealDelay),
			ReplayTimeout:      Duration(tm.ReplayTimeout),
		},
		Archive: ArchiveConfig{
			Backend: BackendMemory,
			Path:    "tasks.db",
			Bucket:  "mediatorkit-tasks",
		},
		Log: LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: telemetry.DefaultServiceName,
		},
	}
}

// StandardPaths returns the config file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"mediatorkit.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mediatorkit", "config.toml"))
	}

	paths = append(paths, filepath.Join("/etc", "mediatorkit", "config.toml"))
	return paths
}

// Load loads the first config file found in StandardPaths. Without a file
// it returns the defaults with environment overrides and an empty path.
func Load() (*Config, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return cfg, path, nil
		}
	}

	cfg := Default()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// LoadFile loads path over the defaults, applies environment overrides and
// validates the result. Keys the file sets that no section knows are an
// error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w in %s: %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, env string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	set(&c.Mediator.URL, EnvURL)
	set(&c.Mediator.DeviceID, EnvDeviceID)
	set(&c.Archive.Backend, EnvArchiveBackend)
	set(&c.Archive.Path, EnvArchivePath)
	set(&c.Archive.NATSURL, EnvNATSURL)
	set(&c.Telemetry.Endpoint, EnvOTLPEndpoint)
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.Mediator.URL != "" {
		if err := c.TransportConfig().Validate(); err != nil {
			invalid("mediator.url: %v", err)
		}
	}
	if err := c.TaskManagerConfig().Validate(); err != nil {
		invalid("runner: %v", err)
	}

	switch c.Archive.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Archive.Path == "" {
			invalid("archive.path is required for the bolt backend")
		}
	case BackendNATS:
		if c.Archive.NATSURL == "" {
			invalid("archive.nats_url is required for the nats backend")
		}
	default:
		invalid("archive.backend %q is not one of memory, bolt, nats", c.Archive.Backend)
	}

	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		invalid("log.level %q is unknown", c.Log.Level)
	}

	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		invalid("telemetry.protocol %q is not grpc or http", c.Telemetry.Protocol)
	}

	return errors.Join(errs...)
}

// TaskManagerConfig maps the [runner] section.
func (c *Config) TaskManagerConfig() taskmanager.Config {
	return taskmanager.Config{
		LocalMaxExecutions: c.Runner.LocalMaxExecutions,
		ReconnectMinDelay:  c.Runner.ReconnectMinDelay.Std(),
		ReconnectMaxDelay:  c.Runner.ReconnectMaxDelay.Std(),
		SelfHealDelay:      c.Runner.SelfHealDelay.Std(),
		ReplayTimeout:      c.Runner.ReplayTimeout.Std(),
	}
}

// TransportConfig maps the [mediator] section.
func (c *Config) TransportConfig() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.URL = c.Mediator.URL
	cfg.HandshakeTimeout = c.Mediator.HandshakeTimeout.Std()
	cfg.IdleTimeout = c.Mediator.IdleTimeout.Std()
	cfg.WriteTimeout = c.Mediator.WriteTimeout.Std()
	cfg.PingInterval = c.Mediator.PingInterval.Std()
	cfg.RedialDelay = c.Mediator.RedialDelay.Std()
	if c.Mediator.DeviceID != "" {
		cfg.Header = map[string][]string{"X-Device-Id": {c.Mediator.DeviceID}}
	}
	return cfg
}

// LoggingConfig maps the [log] section. Logging environment overrides are
// applied by the logging package itself.
func (c *Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	return logging.Config{Level: level, JSON: c.Log.JSON}
}

// TelemetryEnabled reports whether an OTLP endpoint is configured.
func (c *Config) TelemetryEnabled() bool {
	return c.Telemetry.Endpoint != ""
}

// ProviderConfig maps the [telemetry] section.
func (c *Config) ProviderConfig() telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName: c.Telemetry.ServiceName,
		Endpoint:    c.Telemetry.Endpoint,
		Protocol:    c.Telemetry.Protocol,
		Insecure:    c.Telemetry.Insecure,
	}
}
