package stress

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/OCAP2/mpsc/pkg/mpsc"
)

// CloseWhileBlocked races a receiver going to sleep on an empty channel
// against the last sender closing, cfg.Rounds times. Every round must
// see the receiver return closed within cfg.Timeout; a round that hangs
// means a wakeup was lost.
func CloseWhileBlocked(ctx context.Context, cfg Config) Result {
	cfg = cfg.withDefaults()
	res := newResult(ModeCloseWait, 1, cfg.ID)
	var p problems

	start := time.Now()

	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			p.addf("run interrupted after %d rounds: %v", round, err)
			break
		}

		tx, rx := mpsc.New[int](mpsc.WithLogger(cfg.Logger), mpsc.WithMeter(cfg.Meter))
		done := make(chan error, 1)
		go func() {
			_, err := rx.Receive()
			done <- err
		}()

		// alternate between closing right away and after the receiver
		// had a chance to park
		if round%2 == 1 {
			runtime.Gosched()
		}
		if err := tx.Close(); err != nil {
			p.addf("round %d: close sender: %v", round, err)
		}

		timer := time.NewTimer(cfg.Timeout)
		select {
		case err := <-done:
			if !errors.Is(err, mpsc.ErrClosed) {
				p.addf("round %d: receive returned %v, want closed", round, err)
			}
			_ = rx.Close()
		case <-timer.C:
			// the receiver goroutine stays parked; nothing can wake it now
			p.addf("round %d: receiver still blocked after %s", round, cfg.Timeout)
		}
		timer.Stop()
		res.Messages++
	}

	res.finish(start, &p)
	return res
}
