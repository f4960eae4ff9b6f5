package stress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/OCAP2/mpsc/pkg/mpsc"
)

type message struct {
	producer int
	seq      int
}

// Throughput has cfg.Producers cloned senders each push cfg.Messages
// values at one receiver. The run passes when every value arrives, each
// producer's values arrive in send order, and the drained channel then
// reports closed.
func Throughput(ctx context.Context, cfg Config) Result {
	cfg = cfg.withDefaults()
	res := newResult(ModeThroughput, cfg.Producers, cfg.ID)
	var p problems

	tx, rx := mpsc.New[message](
		mpsc.WithName("stress-throughput"),
		mpsc.WithLogger(cfg.Logger),
		mpsc.WithMeter(cfg.Meter),
	)
	defer rx.Close()

	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Producers; i++ {
		s, err := tx.Clone()
		if err != nil {
			p.addf("clone sender %d: %v", i, err)
			break
		}
		wg.Add(1)
		go func(producer int, s *mpsc.Sender[message]) {
			defer wg.Done()
			defer s.Close()
			for seq := 0; seq < cfg.Messages; seq++ {
				if seq%ctxCheckEvery == 0 && ctx.Err() != nil {
					return
				}
				if err := s.Send(message{producer: producer, seq: seq}); err != nil {
					return
				}
			}
		}(i, s)
	}
	if err := tx.Close(); err != nil {
		p.addf("close original sender: %v", err)
	}

	received := make([]int, cfg.Producers)
	err := rx.Range(func(m message) bool {
		if m.seq != received[m.producer] {
			p.addf("producer %d: got seq %d, want %d", m.producer, m.seq, received[m.producer])
		}
		received[m.producer] = m.seq + 1
		res.Messages++
		return true
	})
	if err != nil {
		p.addf("receive: %v", err)
	}
	wg.Wait()

	if _, err := rx.Receive(); !errors.Is(err, mpsc.ErrClosed) {
		p.addf("drained channel returned %v, want closed", err)
	}
	if err := ctx.Err(); err != nil {
		p.addf("run interrupted: %v", err)
	}
	for i, n := range received {
		if n != cfg.Messages {
			p.addf("producer %d: received %d of %d", i, n, cfg.Messages)
		}
	}

	res.PerProducer = received
	res.finish(start, &p)
	return res
}
