package mpsc

import "runtime"

// State is the lifecycle stage of a channel as seen by its receiver.
type State int

const (
	// StateOpen means at least one Sender is open.
	StateOpen State = iota
	// StateDraining means every Sender is closed but values are pending.
	StateDraining
	// StateClosed means every Sender is closed and nothing is pending.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status is a snapshot of a channel.
type Status struct {
	State         State
	Senders       int
	Pending       int // values queued or held in the receive buffer
	ReceiverAlive bool
}

// Status reports a snapshot of the channel. Like Receive, it must be
// called from the goroutine that owns the Receiver.
func (r *Receiver[T]) Status() (Status, error) {
	defer runtime.KeepAlive(r)

	var st Status
	err := r.shared.critical("status", func() error {
		st.Senders = r.shared.senders
		st.Pending = r.shared.queue.Len() + r.buffer.Len()
		st.ReceiverAlive = r.shared.receiverAlive
		return nil
	})
	if err != nil {
		return Status{}, err
	}

	switch {
	case st.Senders > 0:
		st.State = StateOpen
	case st.Pending > 0:
		st.State = StateDraining
	default:
		st.State = StateClosed
	}
	return st, nil
}
