// Package stress exercises mpsc channels under concurrent load and
// reports each run as a Result.
package stress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OCAP2/mpsc/pkg/mpsc"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
)

// Mode names a stress scenario.
type Mode string

const (
	ModeThroughput Mode = "throughput"
	ModeCloseWait  Mode = "closewait"
	ModeDispatch   Mode = "dispatch"
)

const (
	// maxProblems caps how many individual failures end up in Result.Detail.
	maxProblems = 5
	// producers poll for cancellation once per this many sends
	ctxCheckEvery = 1024
)

// Config holds the parameters shared by every scenario.
type Config struct {
	Producers int
	Messages  int // per producer
	Rounds    int
	Timeout   time.Duration
	Logger    mpsc.Logger

	// ID names the run; a random one is used when empty.
	ID string
	// Meter records the scenario channels' metrics. Nil uses the global
	// meter provider.
	Meter metric.Meter
}

func (c Config) withDefaults() Config {
	if c.Producers <= 0 {
		c.Producers = 1
	}
	if c.Messages < 0 {
		c.Messages = 0
	}
	if c.Rounds <= 0 {
		c.Rounds = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	return c
}

// Result describes one finished run.
type Result struct {
	ID          string
	Mode        Mode
	Producers   int
	Messages    int // total messages or rounds handled
	Duration    time.Duration
	Throughput  float64 // messages per second
	Passed      bool
	PerProducer []int
	Detail      string
}

func newResult(mode Mode, producers int, id string) Result {
	if id == "" {
		id = uuid.NewString()
	}
	return Result{
		ID:        id,
		Mode:      mode,
		Producers: producers,
	}
}

// finish fills in timing and the verdict.
func (r *Result) finish(start time.Time, p *problems) {
	r.Duration = time.Since(start)
	if secs := r.Duration.Seconds(); secs > 0 {
		r.Throughput = float64(r.Messages) / secs
	}
	r.Passed = p.count == 0
	r.Detail = p.String()
}

// Run dispatches to the scenario named by mode.
func Run(ctx context.Context, mode Mode, cfg Config) (Result, error) {
	switch mode {
	case ModeThroughput:
		return Throughput(ctx, cfg), nil
	case ModeCloseWait:
		return CloseWhileBlocked(ctx, cfg), nil
	case ModeDispatch:
		return DispatchFanIn(ctx, cfg), nil
	default:
		return Result{}, fmt.Errorf("unknown stress mode %q", mode)
	}
}

// problems collects failures, keeping only the first few messages.
type problems struct {
	count int
	msgs  []string
}

func (p *problems) addf(format string, args ...any) {
	p.count++
	if len(p.msgs) < maxProblems {
		p.msgs = append(p.msgs, fmt.Sprintf(format, args...))
	}
}

func (p *problems) String() string {
	if p.count == 0 {
		return ""
	}
	s := strings.Join(p.msgs, "; ")
	if p.count > len(p.msgs) {
		s += fmt.Sprintf(" (and %d more)", p.count-len(p.msgs))
	}
	return s
}
