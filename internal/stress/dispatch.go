package stress

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/OCAP2/mpsc/internal/dispatcher"
)

const fanInCommand = ":STRESS:FANIN:"

// DispatchFanIn pushes events from cfg.Producers dispatcher producers
// into one queued handler and checks that all of them are handled, in
// order per producer, before the dispatcher finishes closing.
func DispatchFanIn(ctx context.Context, cfg Config) Result {
	cfg = cfg.withDefaults()
	res := newResult(ModeDispatch, cfg.Producers, cfg.ID)
	var p problems

	logger := cfg.Logger
	if logger == nil {
		logger = discard{}
	}

	d, err := dispatcher.New(logger)
	if err != nil {
		p.addf("create dispatcher: %v", err)
		res.finish(time.Now(), &p)
		return res
	}

	var mu sync.Mutex
	received := make([]int, cfg.Producers)
	d.Register(fanInCommand, func(e dispatcher.Event) (any, error) {
		producer, _ := strconv.Atoi(e.Args[0])
		seq, _ := strconv.Atoi(e.Args[1])
		mu.Lock()
		defer mu.Unlock()
		if seq != received[producer] {
			p.addf("producer %d: got seq %d, want %d", producer, seq, received[producer])
		}
		received[producer] = seq + 1
		res.Messages++
		return nil, nil
	}, dispatcher.Queued())

	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < cfg.Producers; i++ {
		tx, err := d.Producer(fanInCommand)
		if err != nil {
			mu.Lock()
			p.addf("producer %d: %v", i, err)
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(producer int, tx *dispatcher.Producer) {
			defer wg.Done()
			defer tx.Close()
			id := strconv.Itoa(producer)
			for seq := 0; seq < cfg.Messages; seq++ {
				if seq%ctxCheckEvery == 0 && ctx.Err() != nil {
					return
				}
				e := dispatcher.Event{
					Command:   fanInCommand,
					Args:      []string{id, strconv.Itoa(seq)},
					Timestamp: time.Now(),
				}
				if err := tx.Send(e); err != nil {
					mu.Lock()
					p.addf("producer %d: send %d: %v", producer, seq, err)
					mu.Unlock()
					return
				}
			}
		}(i, tx)
	}
	wg.Wait()

	if err := d.Close(); err != nil {
		p.addf("close dispatcher: %v", err)
	}
	if err := ctx.Err(); err != nil {
		p.addf("run interrupted: %v", err)
	}
	for i, n := range received {
		if n != cfg.Messages {
			p.addf("producer %d: handled %d of %d", i, n, cfg.Messages)
		}
	}

	res.PerProducer = received
	res.finish(start, &p)
	return res
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Error(string, ...any) {}
