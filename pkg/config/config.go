// Package config contains the options used to initialize the connection
// controller and the tunnel client.
package config

import (
	"time"

	"github.com/apex/log"

	"github.com/ooni/sscontrol/internal/metrics"
	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/runtimex"
	"github.com/ooni/sscontrol/internal/store"
)

const (
	// DefaultConnectedStatusCode is the numeric engine status meaning
	// "connected" (the OS VPN status enumeration value).
	DefaultConnectedStatusCode = 3

	// DefaultTickInterval is the period of the elapsed-time ticker.
	DefaultTickInterval = time.Second
)

// Config contains options to initialize the connection controller.
type Config struct {
	// logger will be used to log events.
	logger model.Logger

	// if a tracer is provided, it will be used to trace the state transitions.
	tracer model.Tracer

	// store persists the connection start time.
	store store.Store

	// metrics records prometheus metrics. Nil disables metrics.
	metrics *metrics.Recorder

	// connectedCode is the numeric engine status meaning connected.
	connectedCode int

	// tickInterval is the period of the elapsed-time ticker.
	tickInterval time.Duration

	// now returns the current time.
	now func() time.Time

	// file is the parsed config file, if any.
	file *File
}

// NewConfig returns a Config ready to initialize a controller.
func NewConfig(options ...Option) *Config {
	cfg := &Config{
		logger:        log.Log,
		tracer:        &model.DummyTracer{},
		store:         store.NewMemory(),
		connectedCode: DefaultConnectedStatusCode,
		tickInterval:  DefaultTickInterval,
		now:           time.Now,
		file:          &File{},
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// Option is an option you can pass to initialize the controller.
type Option func(config *Config)

// WithLogger configures the passed [Logger].
func WithLogger(logger model.Logger) Option {
	return func(config *Config) {
		config.logger = logger
	}
}

// Logger returns the configured logger.
func (c *Config) Logger() model.Logger {
	return c.logger
}

// WithTracer configures the passed [model.Tracer].
func WithTracer(tracer model.Tracer) Option {
	return func(config *Config) {
		config.tracer = tracer
	}
}

// Tracer returns the transition tracer.
func (c *Config) Tracer() model.Tracer {
	return c.tracer
}

// WithStore configures where the connection start time is persisted.
func WithStore(s store.Store) Option {
	return func(config *Config) {
		config.store = s
	}
}

// Store returns the configured store.
func (c *Config) Store() store.Store {
	return c.store
}

// WithMetrics configures the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(config *Config) {
		config.metrics = m
	}
}

// Metrics returns the metrics recorder, which may be nil.
func (c *Config) Metrics() *metrics.Recorder {
	return c.metrics
}

// WithConnectedStatusCode sets the numeric engine status meaning connected.
func WithConnectedStatusCode(code int) Option {
	return func(config *Config) {
		config.connectedCode = code
	}
}

// ConnectedStatusCode returns the numeric engine status meaning connected.
func (c *Config) ConnectedStatusCode() int {
	return c.connectedCode
}

// WithTickInterval sets the period of the elapsed-time ticker.
func WithTickInterval(d time.Duration) Option {
	return func(config *Config) {
		runtimex.Assert(d > 0, "tick interval must be positive")
		config.tickInterval = d
	}
}

// TickInterval returns the period of the elapsed-time ticker.
func (c *Config) TickInterval() time.Duration {
	return c.tickInterval
}

// WithClock replaces the wall clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(config *Config) {
		config.now = now
	}
}

// Now returns the current time according to the configured clock.
func (c *Config) Now() time.Time {
	return c.now()
}

// WithFile applies the settings parsed from the given YAML file. It panics
// if the file cannot be read or is invalid.
func WithFile(path string) Option {
	return func(config *Config) {
		f, err := ReadFile(path)
		runtimex.PanicOnError(err, "cannot parse config file")
		config.applyFile(f)
	}
}

// WithParsedFile is like [WithFile] for an already parsed file.
func WithParsedFile(f *File) Option {
	return func(config *Config) {
		config.applyFile(f)
	}
}

func (c *Config) applyFile(f *File) {
	c.file = f
	if f.Status.ConnectedCode != nil {
		c.connectedCode = *f.Status.ConnectedCode
	}
	if f.Status.TickInterval > 0 {
		c.tickInterval = f.Status.TickInterval
	}
}

// File returns the parsed config file. It is empty when no file was given.
func (c *Config) File() *File {
	return c.file
}
