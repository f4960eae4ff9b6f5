package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OCAP2/mpsc/pkg/mpsc"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrDispatcherClosed is returned when dispatching after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Event represents a named command with its arguments.
type Event struct {
	Command   string
	Args      []string
	Timestamp time.Time
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	queued bool
	logged bool
}

// Queued runs the handler on its own goroutine. Events are handed over
// through an unbounded channel and handled one at a time in the order
// they were dispatched.
func Queued() Option {
	return func(c *config) {
		c.queued = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	rejected  metric.Int64Counter

	mu     sync.RWMutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup
}

// queue is the producer side of a queued handler. pending counts events
// sent but not yet taken by the consumer.
type queue struct {
	command string
	sender  *mpsc.Sender[Event]
	pending atomic.Int64
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		queues:   make(map[string]*queue),
		logger:   logger,
	}

	m := meter()

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events waiting for a queued handler"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for cmd, q := range d.queues {
				o.ObserveInt64(d.queueSize, q.pending.Load(),
					metric.WithAttributes(attribute.String("command", cmd)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed by queued handlers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.rejected, err = m.Int64Counter(
		"dispatcher.events.rejected",
		metric.WithDescription("Total events refused because the dispatcher was closed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given command with optional configuration.
// Handlers must be registered before events are dispatched.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(command, handler)
	}

	if cfg.queued {
		// a logged handler already reports its own errors
		handler = d.withQueue(command, handler, !cfg.logged)
	}

	d.handlers[command] = handler
}

// Dispatch routes an event to its registered handler.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	h, ok := d.handlers[e.Command]
	if !ok {
		return nil, fmt.Errorf("unknown command: %s", e.Command)
	}
	return h(e)
}

// Producer is a dedicated handle onto a queued command, for a goroutine
// that sends many events. It must be closed; the dispatcher's Close waits
// for every open Producer.
type Producer struct {
	d      *Dispatcher
	q      *queue
	sender *mpsc.Sender[Event]
}

// Producer returns a new Producer for a queued command.
func (d *Dispatcher) Producer(command string) (*Producer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrDispatcherClosed
	}
	q, ok := d.queues[command]
	if !ok {
		return nil, fmt.Errorf("command %s is not queued", command)
	}
	tx, err := q.sender.Clone()
	if err != nil {
		return nil, fmt.Errorf("queue %s: %w", command, err)
	}
	return &Producer{d: d, q: q, sender: tx}, nil
}

// Send enqueues e for the command's handler.
func (p *Producer) Send(e Event) error {
	return p.d.enqueue(p.q, p.sender, e)
}

// Close releases the Producer.
func (p *Producer) Close() error {
	return p.sender.Close()
}

// Close stops accepting events and waits until every queued handler has
// drained its backlog.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var errs []error
	for cmd, q := range d.queues {
		if err := q.sender.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", cmd, err))
		}
	}
	d.mu.Unlock()

	d.wg.Wait()
	return errors.Join(errs...)
}

func (d *Dispatcher) withQueue(command string, h HandlerFunc, logErrors bool) HandlerFunc {
	tx, rx := mpsc.New[Event](
		mpsc.WithName("dispatcher/"+command),
		mpsc.WithLogger(d.logger),
	)
	q := &queue{command: command, sender: tx}

	d.mu.Lock()
	d.queues[command] = q
	d.mu.Unlock()

	cmdAttr := metric.WithAttributes(attribute.String("command", command))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer rx.Close()

		err := rx.Range(func(e Event) bool {
			q.pending.Add(-1)
			if _, err := h(e); err != nil && logErrors {
				d.logger.Error("queued event failed", "command", command, "error", err)
			}
			d.processed.Add(context.Background(), 1, cmdAttr)
			return true
		})
		if err != nil {
			d.logger.Error("queue consumer stopped", "command", command, "error", err)
		}
	}()

	return func(e Event) (any, error) {
		if err := d.enqueue(q, q.sender, e); err != nil {
			return nil, err
		}
		return "queued", nil
	}
}

// enqueue sends e through tx and keeps the pending count of q in step
// with what the consumer will take off the channel.
func (d *Dispatcher) enqueue(q *queue, tx *mpsc.Sender[Event], e Event) error {
	q.pending.Add(1)
	err := tx.Send(e)
	if err == nil {
		return nil
	}

	q.pending.Add(-1)
	d.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", q.command)))
	if errors.Is(err, mpsc.ErrHandleClosed) {
		return ErrDispatcherClosed
	}
	return fmt.Errorf("queue %s: %w", q.command, err)
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "args", len(e.Args))

		result, err := h(e)

		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		}

		return result, err
	}
}
