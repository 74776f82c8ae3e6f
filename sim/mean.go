package sim

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// MeanAccumulator keeps a running elementwise sum of equal-length paths so
// the mean path can be computed without retaining the paths themselves.
type MeanAccumulator struct {
	sum   []float64
	count int
}

// NewMeanAccumulator returns an accumulator for paths of the given length.
func NewMeanAccumulator(steps int) *MeanAccumulator {
	return &MeanAccumulator{sum: make([]float64, steps)}
}

// Add folds path into the running sum. It panics if the length differs.
func (a *MeanAccumulator) Add(path []float64) {
	floats.Add(a.sum, path)
	a.count++
}

// Merge folds another accumulator's sum into a.
func (a *MeanAccumulator) Merge(other *MeanAccumulator) {
	floats.Add(a.sum, other.sum)
	a.count += other.count
}

// Count returns the number of paths added.
func (a *MeanAccumulator) Count() int {
	return a.count
}

// Mean returns the elementwise mean of all added paths, or nil if none.
func (a *MeanAccumulator) Mean() []float64 {
	if a.count == 0 {
		return nil
	}
	mean := make([]float64, len(a.sum))
	copy(mean, a.sum)
	floats.Scale(1/float64(a.count), mean)
	return mean
}

// MeanPath simulates n independent paths of model across cfg.Shards
// goroutines and returns their elementwise mean. Each shard keeps one scratch
// path and one partial sum, so auxiliary space is O(shards x steps).
func MeanPath(ctx context.Context, n int, model PathModel, cfg StreamConfig) ([]float64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("number of simulations must be positive, got %d", n)
	}
	steps := model.Steps()
	s := cfg.shards(n)
	rngs := NewPartitionedRNG(NewSimulationKey(cfg.Seed))
	partials := make([]*MeanAccumulator, s)

	g, gctx := errgroup.WithContext(ctx)
	for k := 0; k < s; k++ {
		start, end := shardRange(n, s, k)
		rng := rngs.ForShard(k)
		acc := NewMeanAccumulator(steps)
		partials[k] = acc
		g.Go(func() error {
			scratch := make([]float64, steps)
			for i := start; i < end; i++ {
				if (i-start)%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				scratch = model.Simulate(rng, scratch)
				acc.Add(scratch)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := NewMeanAccumulator(steps)
	for _, p := range partials {
		total.Merge(p)
	}
	return total.Mean(), nil
}
