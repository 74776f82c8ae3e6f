package sim

import (
	"context"
	"iter"
	"math/rand"
	"sync"
)

// PathIterator lazily produces a finite number of independent paths from a
// model. It cannot be restarted; once exhausted, Next keeps returning false.
type PathIterator struct {
	model     PathModel
	rng       *rand.Rand
	total     int
	remaining int
}

// NewPathIterator returns an iterator over n paths of model drawn from rng.
func NewPathIterator(n int, model PathModel, rng *rand.Rand) *PathIterator {
	if n < 0 {
		n = 0
	}
	return &PathIterator{model: model, rng: rng, total: n, remaining: n}
}

// Next returns the next path, or false when the iterator is exhausted. Each
// returned slice is freshly allocated and owned by the caller.
func (it *PathIterator) Next() ([]float64, bool) {
	if it.remaining <= 0 {
		return nil, false
	}
	it.remaining--
	return it.model.Simulate(it.rng, nil), true
}

// Remaining returns the number of paths not yet produced.
func (it *PathIterator) Remaining() int {
	return it.remaining
}

// All yields (index, path) pairs for the paths still remaining. Stopping the
// range loop early leaves the rest unconsumed.
func (it *PathIterator) All() iter.Seq2[int, []float64] {
	return func(yield func(int, []float64) bool) {
		for it.remaining > 0 {
			idx := it.total - it.remaining
			path, _ := it.Next()
			if !yield(idx, path) {
				return
			}
		}
	}
}

// StreamConfig controls parallel path production.
type StreamConfig struct {
	Seed   int64 // master seed for the per-shard streams
	Shards int   // parallel producers; values < 1 mean 1
	Buffer int   // channel capacity for StreamPaths
}

func (c StreamConfig) shards(n int) int {
	s := c.Shards
	if s < 1 {
		s = 1
	}
	if n > 0 && s > n {
		s = n
	}
	return s
}

// shardRange returns the [start, end) draw indices owned by shard k of s.
func shardRange(n, s, k int) (int, int) {
	base, extra := n/s, n%s
	start := k*base + min(k, extra)
	size := base
	if k < extra {
		size++
	}
	return start, start + size
}

// PathResult is one path tagged with its draw index.
type PathResult struct {
	Index int
	Path  []float64
}

// StreamPaths produces n paths on cfg.Shards goroutines and delivers them on
// the returned channel, in no particular order. The channel is closed when
// every path has been sent or ctx is done.
func StreamPaths(ctx context.Context, n int, model PathModel, cfg StreamConfig) <-chan PathResult {
	out := make(chan PathResult, max(cfg.Buffer, 0))
	if n <= 0 {
		close(out)
		return out
	}
	s := cfg.shards(n)
	rngs := NewPartitionedRNG(NewSimulationKey(cfg.Seed))

	var wg sync.WaitGroup
	for k := 0; k < s; k++ {
		start, end := shardRange(n, s, k)
		rng := rngs.ForShard(k)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := start; i < end; i++ {
				select {
				case out <- PathResult{Index: i, Path: model.Simulate(rng, nil)}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
