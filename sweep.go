package rset

import (
	"context"
	"runtime"
	"sync"

	"github.com/v2pro/plz/concurrent"
	"github.com/v2pro/plz/countlog"
)

type SweeperConfig struct {
	Workers int
}

// Sweeper fans per-chunk iteration out over worker goroutines. A chunk
// is handed to exactly one worker, so the no-two-workers-per-chunk
// rule the tables rely on holds by construction. Mutators must already
// be excluded when Sweep is called.
type Sweeper struct {
	workers int
}

func NewSweeper(config SweeperConfig) *Sweeper {
	if config.Workers == 0 {
		config.Workers = runtime.NumCPU()
	}
	return &Sweeper{workers: config.Workers}
}

// Sweep runs IterateChunk and IterateTypedChunk over every chunk that
// holds entries for the set's direction, then waits for all workers.
// Either policy may be nil to skip that table kind.
func (sweeper *Sweeper) Sweep(rs *RememberedSet, heap *Heap, policy SlotPolicy, typedPolicy TypedSlotPolicy) {
	chunks := make(chan *Chunk, sweeper.workers)
	executor := concurrent.NewUnboundedExecutor()
	var wg sync.WaitGroup
	for i := 0; i < sweeper.workers; i++ {
		wg.Add(1)
		executor.Go(func(ctx context.Context) {
			defer wg.Done()
			for chunk := range chunks {
				if policy != nil {
					rs.IterateChunk(chunk, policy)
				}
				if typedPolicy != nil {
					rs.IterateTypedChunk(chunk, typedPolicy)
				}
			}
		})
	}
	swept := 0
	rs.IterateChunks(heap, func(chunk *Chunk) {
		chunks <- chunk
		swept++
	})
	close(chunks)
	wg.Wait()
	executor.StopAndWaitForever()
	countlog.Debug("event!rset.sweep completed",
		"direction", rs.direction,
		"chunks", swept,
		"workers", sweeper.workers)
}
