package mpsc

import (
	"runtime"
	"sync"

	"github.com/OCAP2/mpsc/internal/queue"
)

// shared is the state referenced by every handle of one channel.
// queue, senders, receiverAlive and poisoned are guarded by mu.
type shared[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond // signalled when a value arrives or the last sender closes

	queue         *queue.Queue[T]
	senders       int
	receiverAlive bool
	poisoned      bool

	// hook runs at the start of every critical section; nil outside tests.
	hook func(op string)

	name string
	log  Logger
	inst *instruments
}

// handle tracks whether one Sender or Receiver has been released.
// It is only read or written with the channel lock held.
type handle struct {
	closed bool
}

// New creates an unbounded channel and returns its first Sender and its
// only Receiver.
func New[T any](opts ...Option) (*Sender[T], *Receiver[T]) {
	cfg := newConfig(opts)

	s := &shared[T]{
		queue:         queue.New[T](),
		senders:       1,
		receiverAlive: true,
		name:          cfg.name,
		log:           cfg.logger,
	}
	s.cond = sync.NewCond(&s.mu)
	s.inst = newInstruments(cfg.meter, cfg.name, cfg.logger)
	s.inst.addSenders(1)

	return newSender(s), newReceiver(s)
}

// critical runs fn with the lock held. A panic escaping fn poisons the
// channel: the lock is released, a blocked receiver is woken, and the
// panic keeps unwinding. Once poisoned, critical returns ErrPoisoned
// without running fn.
func (s *shared[T]) critical(op string, fn func() error) error {
	s.mu.Lock()
	if s.poisoned {
		s.mu.Unlock()
		return ErrPoisoned
	}

	completed := false
	defer func() {
		if completed {
			s.mu.Unlock()
			return
		}
		s.poisoned = true
		s.mu.Unlock()
		s.cond.Broadcast()
		s.log.Error("channel poisoned", "channel", s.name, "op", op)
	}()

	if s.hook != nil {
		s.hook(op)
	}
	err := fn()
	completed = true
	return err
}

// releaseSender drops one sender reference. It is idempotent per handle.
func (s *shared[T]) releaseSender(h *handle) error {
	var released, last bool
	err := s.critical("close_sender", func() error {
		if h.closed {
			return nil
		}
		h.closed = true
		released = true
		s.senders--
		last = s.senders == 0
		if last && s.receiverAlive {
			s.cond.Signal()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if released {
		s.inst.addSenders(-1)
	}
	if last {
		s.log.Debug("last sender closed", "channel", s.name)
	}
	return nil
}

// releaseReceiver marks the receiver gone. Senders only observe this on
// their next Send, so nobody is woken.
func (s *shared[T]) releaseReceiver(h *handle) error {
	var released bool
	err := s.critical("close_receiver", func() error {
		if h.closed {
			return nil
		}
		h.closed = true
		s.receiverAlive = false
		released = true
		return nil
	})
	if err != nil {
		return err
	}
	if released {
		s.log.Debug("receiver closed", "channel", s.name)
	}
	return nil
}

// cleanupArg is what the runtime cleanup of a handle needs; it must not
// reference the handle wrapper itself.
type cleanupArg[T any] struct {
	shared *shared[T]
	handle *handle
}

func newSender[T any](s *shared[T]) *Sender[T] {
	tx := &Sender[T]{shared: s, handle: &handle{}}
	tx.cleanup = runtime.AddCleanup(tx, func(a cleanupArg[T]) {
		_ = a.shared.releaseSender(a.handle)
	}, cleanupArg[T]{shared: s, handle: tx.handle})
	return tx
}

func newReceiver[T any](s *shared[T]) *Receiver[T] {
	rx := &Receiver[T]{shared: s, handle: &handle{}, buffer: queue.New[T]()}
	rx.cleanup = runtime.AddCleanup(rx, func(a cleanupArg[T]) {
		_ = a.shared.releaseReceiver(a.handle)
	}, cleanupArg[T]{shared: s, handle: rx.handle})
	return rx
}
