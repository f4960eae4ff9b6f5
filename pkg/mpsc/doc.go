// Package mpsc provides an unbounded multi-producer, single-consumer channel.
//
// New returns a connected Sender and Receiver. Senders may be cloned and
// handed to any number of goroutines; exactly one goroutine owns the
// Receiver. Values are delivered in the order they were enqueued, and
// Receive blocks only while the channel is empty and at least one Sender
// is still open.
//
//	tx, rx := mpsc.New[int]()
//	go func() {
//		defer tx.Close()
//		for i := range 3 {
//			tx.Send(i)
//		}
//	}()
//	for {
//		v, err := rx.Receive()
//		if errors.Is(err, mpsc.ErrClosed) {
//			break
//		}
//		fmt.Println(v)
//	}
//
// Closing a handle releases it. Closing the last Sender closes the
// channel for the Receiver once pending values are drained; closing the
// Receiver makes every later Send fail with a *SendError that hands the
// value back. Handles that become unreachable without being closed are
// released by the runtime.
//
// The Receiver keeps a private buffer owned by the receiving goroutine.
// When it has to take the lock it moves everything queued so far into that
// buffer at once, so the consumer contends with producers once per batch
// rather than once per value.
package mpsc
