package mpsc

import "go.opentelemetry.io/otel/metric"

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Option configures a channel created by New.
type Option func(*config)

type config struct {
	name   string
	logger Logger
	meter  metric.Meter
}

// WithName labels the channel in logs and metrics.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithLogger logs channel lifecycle events to l.
func WithLogger(l Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMeter records channel metrics on m instead of the global meter provider.
func WithMeter(m metric.Meter) Option {
	return func(c *config) {
		if m != nil {
			c.meter = m
		}
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		name:   "default",
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.meter == nil {
		c.meter = meter()
	}
	return c
}
