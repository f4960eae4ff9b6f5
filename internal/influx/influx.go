// Package influx reports stress runs to InfluxDB, falling back to a
// gzipped line protocol file when the server cannot be reached.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/OCAP2/mpsc/internal/config"
	"github.com/OCAP2/mpsc/internal/stress"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
)

// Measurement is the name every run point is written under.
const Measurement = "mpsc_run"

// retentionSeconds is how long run points are kept in a created bucket.
const retentionSeconds = 60 * 60 * 24 * 90 // 90 days

// Reporter writes run points to InfluxDB or to a backup file.
type Reporter struct {
	client     influxdb2.Client
	writer     influxdb2_api.WriteAPIBlocking
	backup     *gzip.Writer
	backupFile *os.File
	cfg        config.InfluxConfig
	log        zerolog.Logger
}

// New connects to the server in cfg. When the server does not answer a
// ping and backupPath is set, points go to backupPath instead.
func New(ctx context.Context, cfg config.InfluxConfig, backupPath string, log zerolog.Logger) (*Reporter, error) {
	if !cfg.Enabled {
		return nil, errors.New("influx.enabled is false")
	}

	r := &Reporter{
		client: influxdb2.NewClient(cfg.URL(), cfg.Token),
		cfg:    cfg,
		log:    log,
	}

	running, err := r.client.Ping(ctx)
	if err == nil && running {
		r.writer = r.client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
		log.Info().Str("url", cfg.URL()).Str("bucket", cfg.Bucket).Msg("InfluxDB client initialized")
		return r, nil
	}

	if backupPath == "" {
		r.client.Close()
		return nil, fmt.Errorf("influxdb at %s not reachable: %v", cfg.URL(), err)
	}

	log.Warn().Str("backupPath", backupPath).Msg("Failed to reach InfluxDB, writing to backup file")
	file, err := os.OpenFile(backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		r.client.Close()
		return nil, fmt.Errorf("error creating backup file: %w", err)
	}
	r.backupFile = file
	r.backup = gzip.NewWriter(file)
	return r, nil
}

// Online reports whether points go to the server rather than the backup.
func (r *Reporter) Online() bool {
	return r.writer != nil
}

// EnsureBucket creates the configured organization and bucket when they
// do not exist yet.
func (r *Reporter) EnsureBucket(ctx context.Context) error {
	if !r.Online() {
		return nil
	}

	orgs := r.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, r.cfg.Org)
	if err != nil {
		r.log.Info().Str("org", r.cfg.Org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, r.cfg.Org)
		if err != nil {
			return fmt.Errorf("creating organization %s: %w", r.cfg.Org, err)
		}
	}

	buckets := r.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, r.cfg.Bucket); err == nil {
		return nil
	}

	r.log.Info().Str("bucket", r.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, r.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retentionSeconds,
	})
	if err != nil {
		return fmt.Errorf("creating bucket %s: %w", r.cfg.Bucket, err)
	}
	return nil
}

// Report writes one run.
func (r *Reporter) Report(ctx context.Context, res stress.Result) error {
	point := NewRunPoint(res, time.Now())

	if r.writer != nil {
		if err := r.writer.WritePoint(ctx, point); err != nil {
			return fmt.Errorf("writing run %s: %w", res.ID, err)
		}
		return nil
	}

	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := r.backup.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes the backup file, if any, and closes the client.
func (r *Reporter) Close() error {
	var errs []error
	if r.backup != nil {
		errs = append(errs, r.backup.Close(), r.backupFile.Close())
	}
	r.client.Close()
	return errors.Join(errs...)
}

// NewRunPoint builds the point for one run, tagged by mode and verdict.
func NewRunPoint(res stress.Result, ts time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(Measurement,
		map[string]string{
			"mode":   string(res.Mode),
			"passed": strconv.FormatBool(res.Passed),
		},
		map[string]any{
			"run_id":      res.ID,
			"producers":   res.Producers,
			"messages":    res.Messages,
			"duration_ms": float64(res.Duration) / float64(time.Millisecond),
			"throughput":  res.Throughput,
		},
		ts,
	)
}
