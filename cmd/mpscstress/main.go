// Command mpscstress runs stress scenarios against mpsc channels and
// keeps a history of the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/OCAP2/mpsc/internal/config"
	"github.com/OCAP2/mpsc/internal/logging"
	intOtel "github.com/OCAP2/mpsc/internal/otel"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"
)

const appName = "mpscstress"

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func newFlagSet(stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [throughput|closewait|dispatch|history] [flags]\n\n", appName)
		fs.PrintDefaults()
	}

	fs.String("config-dir", ".", "directory containing "+config.FileName)
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("logs-dir", "./logs", "directory for log files")
	fs.Int("producers", 4, "number of concurrent producers")
	fs.Int("messages", 10000, "messages sent by each producer")
	fs.Int("rounds", 1000, "rounds of the closewait scenario")
	fs.Duration("timeout", 2*time.Second, "how long a closewait round may stay blocked")
	fs.String("storage", "sqlite", "run history backend (sqlite, postgres)")
	fs.Int("limit", 10, "number of runs shown by history")
	return fs
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	viper.Reset()

	fs := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	command := "throughput"
	if fs.NArg() > 0 {
		command = strings.ToLower(fs.Arg(0))
	}
	if !knownCommand(command) {
		fmt.Fprintf(stderr, "unknown command %q\n", command)
		fs.Usage()
		return exitUsage
	}

	configDir, _ := fs.GetString("config-dir")
	loadErr := config.Load(configDir)
	if loadErr != nil && !config.IsNotFound(loadErr) {
		fmt.Fprintln(stderr, loadErr)
		return exitFailed
	}
	if err := config.BindFlags(fs); err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}

	a, err := newApp(stdout)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	defer a.close()

	if loadErr != nil {
		a.log.Warn("Failed to load config, using defaults!", "error", loadErr)
	} else {
		a.log.Info("Loaded config", "dir", configDir)
	}

	if command == "history" {
		limit, _ := fs.GetInt("limit")
		return a.history(limit)
	}
	return a.stress(ctx, command)
}

func knownCommand(command string) bool {
	switch command {
	case "throughput", "closewait", "dispatch", "history":
		return true
	}
	return false
}

// app holds everything a command needs once logging is up.
type app struct {
	stdout io.Writer
	start  time.Time

	slog    *logging.SlogManager
	log     *slog.Logger
	run     *logging.RunContext
	zlog    zerolog.Logger
	otel    *intOtel.Provider
	closers []io.Closer
}

func newApp(stdout io.Writer) (*app, error) {
	a := &app{
		stdout: stdout,
		start:  time.Now(),
		slog:   logging.NewSlogManager(),
		run:    logging.NewRunContext(),
	}

	level := config.GetString("logLevel")
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}

	logFile, err := a.openLog(logsDir, appName)
	if err != nil {
		return nil, err
	}

	otelCfg := config.GetOTelConfig()
	providerCfg := intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		BatchTimeout:   otelCfg.BatchTimeout,
		MetricInterval: otelCfg.MetricInterval,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
	}
	if otelCfg.Enabled {
		if providerCfg.LogWriter, err = a.openLog(logsDir, appName+".otel"); err != nil {
			a.close()
			return nil, err
		}
		if providerCfg.MetricWriter, err = a.openLog(logsDir, appName+".metrics"); err != nil {
			a.close()
			return nil, err
		}
	}
	a.otel, err = intOtel.New(providerCfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("setting up OTel: %w", err)
	}

	var extra []slog.Handler
	var gelfErr error
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, closer, err := logging.NewGELFHandler(gl.Address, gl.Facility, level)
		if err != nil {
			gelfErr = err
		} else {
			extra = append(extra, h)
			a.closers = append(a.closers, closer)
		}
	}

	a.slog.Setup(logging.Options{
		File:     logFile,
		Level:    level,
		Provider: a.otel.LoggerProvider(),
		Attrs:    []slog.Attr{slog.String("version", Version)},
		Run:      a.run,
		Extra:    extra,
	})
	a.log = a.slog.Logger()
	if gelfErr != nil {
		a.log.Warn("Graylog output disabled", "error", gelfErr)
	}
	if a.otel.Enabled() {
		a.log.Info("OTel enabled", "service", otelCfg.ServiceName, "endpoint", otelCfg.Endpoint)
	}

	// channel lifecycle events are JSON, kept apart from the text log
	eventsFile, err := a.openLog(logsDir, appName+".events")
	if err != nil {
		a.close()
		return nil, err
	}
	zlevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		zlevel = zerolog.InfoLevel
	}
	a.zlog = zerolog.New(eventsFile).Level(zlevel).With().Timestamp().Str("app", appName).Logger()

	return a, nil
}

func (a *app) openLog(dir, name string) (*os.File, error) {
	path := logging.LogFilePath(dir, name, a.start)
	f, err := os.OpenFile(filepath.Clean(path), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", path, err)
	}
	a.closers = append(a.closers, f)
	return f, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil && a.log != nil {
			a.log.Error("OTel shutdown failed", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}
