package worker

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Loop is one long-running worker body. It must return when ctx is done.
type Loop func(ctx context.Context, id int)

// Pool runs a fixed number of worker loops and restarts any loop that
// panics. Goroutines started by a loop must recover their own panics.
type Pool struct {
	wg     sync.WaitGroup
	n      int
	cancel context.CancelFunc
	log    *zerolog.Logger

	restartDelay time.Duration
}

func NewPool(workers int, log *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		l := zerolog.Nop()
		log = &l
	}
	return &Pool{n: workers, log: log, restartDelay: time.Second}
}

func (p *Pool) Size() int { return p.n }

// Start launches the loops. They stop when ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context, loop Loop) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for ctx.Err() == nil {
				p.runGuarded(ctx, id, loop)
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
				case <-time.After(p.restartDelay):
				}
			}
		}(i)
	}
}

func (p *Pool) runGuarded(ctx context.Context, id int, loop Loop) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().
				Int("worker", id).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("worker loop panicked; restarting")
		}
	}()
	loop(ctx, id)
}

// Stop cancels the loops and waits for them to return.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
