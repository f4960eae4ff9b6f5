package mpsc

import "errors"

var (
	// ErrClosed is returned by Receive once every Sender has been closed and
	// no values remain. The channel cannot reopen.
	ErrClosed = errors.New("mpsc: channel closed")

	// ErrDisconnected is wrapped by *SendError when the Receiver is gone.
	ErrDisconnected = errors.New("mpsc: receiver disconnected")

	// ErrPoisoned is returned by every operation on a channel whose state
	// was left inconsistent by a panic inside a critical section.
	ErrPoisoned = errors.New("mpsc: channel state poisoned")

	// ErrHandleClosed is returned when a Sender or Receiver is used after
	// its own Close.
	ErrHandleClosed = errors.New("mpsc: use of closed handle")
)

// SendError is returned by Send when the value could not be delivered
// because the Receiver has been closed. Value is the value passed to Send.
type SendError[T any] struct {
	Value T
}

func (e *SendError[T]) Error() string {
	return "mpsc: send on channel with no receiver"
}

func (e *SendError[T]) Unwrap() error {
	return ErrDisconnected
}

// IsFatal reports whether err means the channel can no longer be used.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPoisoned)
}
