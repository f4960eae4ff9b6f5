package mpsc

import (
	"errors"
	"runtime"

	"github.com/OCAP2/mpsc/internal/queue"
)

// Receiver takes values off a channel. It must be used by one goroutine
// at a time; its receive buffer is not synchronized.
type Receiver[T any] struct {
	shared  *shared[T]
	handle  *handle
	cleanup runtime.Cleanup

	buffer *queue.Queue[T]
	closed bool // ErrClosed has been observed
}

// Receive returns the next value, blocking while the channel is empty and
// a Sender is still open. It returns ErrClosed when every Sender has been
// closed and no values remain.
func (r *Receiver[T]) Receive() (T, error) {
	defer runtime.KeepAlive(r)

	var zero T
	if v, ok := r.buffer.Pop(); ok {
		r.shared.inst.addReceived()
		return v, nil
	}

	var (
		v     T
		batch int
	)
	err := r.shared.critical("receive", func() error {
		if r.handle.closed {
			return ErrHandleClosed
		}
		for {
			if item, ok := r.shared.queue.Pop(); ok {
				v = item
				if !r.shared.queue.Empty() {
					batch = r.shared.queue.Len()
					r.shared.queue.Swap(r.buffer)
				}
				return nil
			}
			if r.shared.senders == 0 {
				return ErrClosed
			}
			r.shared.cond.Wait()
			if r.shared.poisoned {
				return ErrPoisoned
			}
		}
	})

	switch {
	case errors.Is(err, ErrClosed):
		if !r.closed {
			r.closed = true
			r.shared.log.Debug("channel closed", "channel", r.shared.name)
		}
		return zero, err
	case err != nil:
		return zero, err
	}

	if batch > 0 {
		r.shared.inst.recordBatch(batch)
	}
	r.shared.inst.addReceived()
	return v, nil
}

// Range calls fn for each received value until the channel is closed or
// fn returns false. It returns nil in both cases and any other Receive
// error otherwise.
func (r *Receiver[T]) Range(fn func(T) bool) error {
	for {
		v, err := r.Receive()
		if errors.Is(err, ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(v) {
			return nil
		}
	}
}

// Close releases the Receiver. Later sends fail with a *SendError and
// values still buffered are dropped. Calling Close more than once is a
// no-op.
func (r *Receiver[T]) Close() error {
	r.cleanup.Stop()
	r.buffer.Clear()
	return r.shared.releaseReceiver(r.handle)
}
