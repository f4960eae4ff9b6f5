package mpsc

import "runtime"

// Sender enqueues values on a channel. A Sender may be shared between
// goroutines; Clone gives a producer a handle with its own lifetime.
type Sender[T any] struct {
	shared  *shared[T]
	handle  *handle
	cleanup runtime.Cleanup
}

// Send appends v to the channel and wakes the receiver. It never blocks
// waiting for the receiver.
//
// If the Receiver has been closed, Send returns a *SendError holding v.
func (s *Sender[T]) Send(v T) error {
	defer runtime.KeepAlive(s)

	var rejected bool
	err := s.shared.critical("send", func() error {
		if s.handle.closed {
			return ErrHandleClosed
		}
		if !s.shared.receiverAlive {
			rejected = true
			return nil
		}
		s.shared.queue.Push(v)
		return nil
	})
	if err != nil {
		return err
	}

	if rejected {
		s.shared.inst.addRejected()
		s.shared.log.Debug("send rejected, receiver closed", "channel", s.shared.name)
		return &SendError[T]{Value: v}
	}

	s.shared.cond.Signal()
	s.shared.inst.addSent()
	return nil
}

// Clone returns a new Sender on the same channel. The channel stays open
// for the receiver until every clone has been closed.
func (s *Sender[T]) Clone() (*Sender[T], error) {
	defer runtime.KeepAlive(s)

	err := s.shared.critical("clone", func() error {
		if s.handle.closed {
			return ErrHandleClosed
		}
		s.shared.senders++
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.shared.inst.addSenders(1)
	return newSender(s.shared), nil
}

// Close releases the Sender. When the last Sender is closed a receiver
// blocked in Receive wakes up and observes ErrClosed once the channel is
// drained. Calling Close more than once is a no-op.
func (s *Sender[T]) Close() error {
	s.cleanup.Stop()
	return s.shared.releaseSender(s.handle)
}
