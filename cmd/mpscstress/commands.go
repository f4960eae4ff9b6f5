package main

import (
	"context"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/OCAP2/mpsc/internal/config"
	"github.com/OCAP2/mpsc/internal/influx"
	"github.com/OCAP2/mpsc/internal/logging"
	"github.com/OCAP2/mpsc/internal/storage"
	"github.com/OCAP2/mpsc/internal/stress"

	"github.com/google/uuid"
)

const meterName = "github.com/OCAP2/mpsc/cmd/mpscstress"

// stress runs one scenario, records it and reports whether it passed.
func (a *app) stress(ctx context.Context, command string) int {
	id := uuid.NewString()
	a.run.Start(id, command)
	defer a.run.Stop()

	sc := config.GetStressConfig()
	cfg := stress.Config{
		ID:        id,
		Producers: sc.Producers,
		Messages:  sc.Messages,
		Rounds:    sc.Rounds,
		Timeout:   sc.Timeout,
		Logger:    logging.NewKVLogger(a.zlog.With().Str("component", "mpsc").Str("run", id).Logger()),
		Meter:     a.otel.Meter(meterName),
	}

	// the run group from a.run carries id and mode on every record below
	a.log.Info("Starting run",
		"producers", cfg.Producers, "messages", cfg.Messages, "rounds", cfg.Rounds)

	res, err := stress.Run(ctx, stress.Mode(command), cfg)
	if err != nil {
		a.log.Error("Run failed to start", "error", err)
		return exitUsage
	}

	attrs := []any{
		"messages", res.Messages,
		"duration", res.Duration,
		"throughput", fmt.Sprintf("%.0f/s", res.Throughput),
	}
	if res.Passed {
		a.log.Info("Run passed", attrs...)
	} else {
		a.log.Error("Run failed", append(attrs, "detail", res.Detail)...)
	}
	printResult(a, res)

	a.record(ctx, res)

	if err := a.otel.Flush(ctx); err != nil {
		a.log.Warn("OTel flush failed", "error", err)
	}

	if !res.Passed {
		return exitFailed
	}
	return exitOK
}

// record stores a run in the history and, when enabled, in InfluxDB.
// Failures are logged; they never change the outcome of the run.
func (a *app) record(ctx context.Context, res stress.Result) {
	store, err := storage.Open(config.GetStorageConfig(), a.zlog)
	if err != nil {
		a.log.Warn("Run history unavailable", "error", err)
	} else {
		if err := store.SaveRun(res); err != nil {
			a.log.Error("Failed to save run", "run", res.ID, "error", err)
		}
		_ = store.Close()
	}

	ic := config.GetInfluxConfig()
	if !ic.Enabled {
		return
	}

	backup := filepath.Join(config.GetString("logsDir"), "influx_backup.lp.gz")
	rep, err := influx.New(ctx, ic, backup, a.zlog)
	if err != nil {
		a.log.Warn("InfluxDB unavailable", "error", err)
		return
	}
	defer rep.Close()

	if err := rep.EnsureBucket(ctx); err != nil {
		a.log.Warn("Failed to prepare InfluxDB bucket", "error", err)
	}
	if err := rep.Report(ctx, res); err != nil {
		a.log.Error("Failed to report run to InfluxDB", "run", res.ID, "error", err)
	}
}

// history prints the most recent runs, newest first.
func (a *app) history(limit int) int {
	store, err := storage.Open(config.GetStorageConfig(), a.zlog)
	if err != nil {
		a.log.Error("Failed to open run history", "error", err)
		return exitFailed
	}
	defer store.Close()

	runs, err := store.Recent(limit)
	if err != nil {
		a.log.Error("Failed to load run history", "error", err)
		return exitFailed
	}

	if len(runs) == 0 {
		fmt.Fprintln(a.stdout, "no runs recorded")
		return exitOK
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tMODE\tRESULT\tPRODUCERS\tMESSAGES\tDURATION\tTHROUGHPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%.0f/s\n",
			r.ID, r.Mode, verdict(r.Passed), r.Producers, r.Messages,
			r.Duration.Round(time.Microsecond), r.Throughput)
	}
	if err := tw.Flush(); err != nil {
		a.log.Error("Failed to print run history", "error", err)
		return exitFailed
	}
	return exitOK
}

func printResult(a *app, res stress.Result) {
	fmt.Fprintf(a.stdout, "%s %s run=%s producers=%d messages=%d duration=%s throughput=%.0f/s\n",
		verdict(res.Passed), res.Mode, res.ID, res.Producers, res.Messages,
		res.Duration.Round(time.Microsecond), res.Throughput)
	if res.Detail != "" {
		fmt.Fprintf(a.stdout, "  %s\n", res.Detail)
	}
}

func verdict(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}
