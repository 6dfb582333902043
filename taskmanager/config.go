package taskmanager

import (
	"fmt"
	"time"

	"github.com/vinayprograms/mediatorkit/archive"
	"github.com/vinayprograms/mediatorkit/logging"
	"github.com/vinayprograms/mediatorkit/telemetry"
)

// Config holds task manager configuration.
type Config struct {
	// LocalMaxExecutions is how often a local task is attempted before it
	// fails. Default: 5
	LocalMaxExecutions int

	// ReconnectMinDelay is the first delay after a protocol violation and
	// the value the delay resets to after a task succeeds. Default: 2s
	ReconnectMinDelay time.Duration

	// ReconnectMaxDelay caps the doubling delay. Default: 512s
	ReconnectMaxDelay time.Duration

	// SelfHealDelay is how long the runner waits before restarting an
	// executor that failed unexpectedly. Default: 10s
	SelfHealDelay time.Duration

	// ReplayTimeout bounds loading the archive in New. Default: 30s
	ReplayTimeout time.Duration
}

// DefaultConfig returns configuration with the protocol's defaults.
func DefaultConfig() Config {
	return Config{
		LocalMaxExecutions: DefaultLocalMaxExecutions,
		ReconnectMinDelay:  2 * time.Second,
		ReconnectMaxDelay:  512 * time.Second,
		SelfHealDelay:      10 * time.Second,
		ReplayTimeout:      30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.LocalMaxExecutions <= 0 {
		return fmt.Errorf("local max executions must be positive")
	}
	if c.ReconnectMinDelay <= 0 {
		return fmt.Errorf("reconnect min delay must be positive")
	}
	if c.ReconnectMaxDelay < c.ReconnectMinDelay {
		return fmt.Errorf("reconnect max delay %s is below min delay %s", c.ReconnectMaxDelay, c.ReconnectMinDelay)
	}
	if c.SelfHealDelay <= 0 {
		return fmt.Errorf("self-heal delay must be positive")
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.LocalMaxExecutions == 0 {
		c.LocalMaxExecutions = def.LocalMaxExecutions
	}
	if c.ReconnectMinDelay == 0 {
		c.ReconnectMinDelay = def.ReconnectMinDelay
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.SelfHealDelay == 0 {
		c.SelfHealDelay = def.SelfHealDelay
	}
	if c.ReplayTimeout == 0 {
		c.ReplayTimeout = def.ReplayTimeout
	}
	return c
}

// Option configures a Manager.
type Option func(*Manager)

// WithArchiver sets the archive for local tasks. Default: an in-memory
// archiver.
func WithArchiver(a archive.TaskArchiver) Option {
	return func(m *Manager) { m.archiver = a }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithTracer sets the tracer. Default: the global tracer, which is a no-op
// unless a telemetry provider is installed.
func WithTracer(t *telemetry.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithTaskDecoder registers the decoder for archived tasks of kind.
func WithTaskDecoder(kind string, decoder TaskDecoder) Option {
	return func(m *Manager) { m.decoders[kind] = decoder }
}

// WithDeviceCookieManager sets the handler for device cookie change
// indications.
func WithDeviceCookieManager(d DeviceCookieManager) Option {
	return func(m *Manager) { m.cookies = d }
}
