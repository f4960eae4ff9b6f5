package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// bridgeName is the instrumentation scope of records sent through OTel.
const bridgeName = "github.com/OCAP2/mpsc/cmd/mpscstress"

// swapped by tests to capture console output
var osStdout io.Writer = os.Stdout

// SlogManager manages slog-based logging with optional OTel integration.
// Flushing the OTel provider is left to its owner.
type SlogManager struct {
	logger *slog.Logger
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HandlerOptions returns the options shared by every handler: the given
// level and RFC3339 UTC timestamps.
func HandlerOptions(level string) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}
}

// Options configures SlogManager.Setup.
type Options struct {
	// File receives the text log. Nil logs to stdout.
	File  io.Writer
	Level string

	// Provider, when set, also ships records through the OTel log bridge.
	Provider *sdklog.LoggerProvider

	// Attrs are attached to every record, e.g. the build version.
	Attrs []slog.Attr

	// Run stamps records logged while a stress run is active.
	Run *RunContext

	// Extra handlers receive every record too (e.g. GELF).
	Extra []slog.Handler
}

// Setup (re)initializes the manager's logger from opts.
func (m *SlogManager) Setup(opts Options) {
	out := opts.File
	if out == nil {
		out = osStdout
	}
	handlers := []slog.Handler{slog.NewTextHandler(out, HandlerOptions(opts.Level))}

	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler(bridgeName, otelslog.WithLoggerProvider(opts.Provider)))
	}
	handlers = append(handlers, opts.Extra...)

	var h slog.Handler = newFanout(handlers...)
	if len(opts.Attrs) > 0 {
		h = h.WithAttrs(opts.Attrs)
	}
	if opts.Run != nil {
		h = opts.Run.Handler(h)
	}

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", opts.Level)
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}
