package sim

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montecarlo-sim/montecarlo-sim/sim/internal/testutil"
)

func TestMeanAccumulator_ElementwiseMean(t *testing.T) {
	acc := NewMeanAccumulator(3)
	assert.Nil(t, acc.Mean())

	acc.Add([]float64{1, 2, 3})
	acc.Add([]float64{3, 4, 5})
	assert.Equal(t, 2, acc.Count())
	assert.Equal(t, []float64{2, 3, 4}, acc.Mean())

	other := NewMeanAccumulator(3)
	other.Add([]float64{5, 6, 7})
	acc.Merge(other)
	assert.Equal(t, 3, acc.Count())
	assert.Equal(t, []float64{3, 4, 5}, acc.Mean())
}

func TestMeanAccumulator_LengthMismatchPanics(t *testing.T) {
	acc := NewMeanAccumulator(2)
	assert.Panics(t, func() { acc.Add([]float64{1, 2, 3}) })
}

func TestMeanPath_MatchesSequentialIteration(t *testing.T) {
	// GIVEN a single shard, the stream is the same as iterating its RNG directly
	g := testGBM()
	const n = 50
	got, err := MeanPath(context.Background(), n, g, StreamConfig{Seed: 5, Shards: 1})
	require.NoError(t, err)

	rng := NewPartitionedRNG(NewSimulationKey(5)).ForShard(0)
	acc := NewMeanAccumulator(g.Steps())
	it := NewPathIterator(n, g, rng)
	for _, p := range it.All() {
		acc.Add(p)
	}
	want := acc.Mean()

	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "day %d", i)
	}
}

func TestMeanPath_DeterministicForSeedAndShards(t *testing.T) {
	g := testGBM()
	cfg := StreamConfig{Seed: 11, Shards: 4}
	a, err := MeanPath(context.Background(), 500, g, cfg)
	require.NoError(t, err)
	b, err := MeanPath(context.Background(), 500, g, cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMeanPath_ZeroSigmaEqualsDeterministicPath(t *testing.T) {
	g := &GBM{StartingValue: 100, Mu: 0.1, Sigma: 0, ForecastDays: 20, TradingDays: 250}
	mean, err := MeanPath(context.Background(), 1000, g, StreamConfig{Shards: 8})
	require.NoError(t, err)
	testutil.AssertPathEqual(t, testutil.LinearPath(100, 0.1/250, 20), mean, 1e-12)
}

func TestMeanPath_ConvergesToExpectedDrift(t *testing.T) {
	// The shock has zero mean, so E[path[t]] = S0 * (1 + t*drift).
	g := &GBM{StartingValue: 100, Mu: 0.18, Sigma: 0.12, ForecastDays: 60, TradingDays: 250, AllowNegative: true}
	mean, err := MeanPath(context.Background(), 20_000, g, StreamConfig{Seed: 42, Shards: 4})
	require.NoError(t, err)

	last := g.ForecastDays
	want := 100 * (1 + float64(last)*g.DailyDrift())
	// stddev of the mean at day t is S0*vol*sqrt(t)/sqrt(N) ~= 0.026; allow 6 sigma.
	tol := 6 * 100 * g.DailyVolatility() * math.Sqrt(float64(last)) / math.Sqrt(20_000)
	assert.InDelta(t, want, mean[last], tol)
}

func TestMeanPath_Errors(t *testing.T) {
	_, err := MeanPath(context.Background(), 0, testGBM(), StreamConfig{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = MeanPath(ctx, 10, testGBM(), StreamConfig{Shards: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkMeanPath(b *testing.B) {
	g := testGBM()
	for i := 0; i < b.N; i++ {
		if _, err := MeanPath(context.Background(), 1000, g, StreamConfig{Seed: int64(i), Shards: 4}); err != nil {
			b.Fatal(err)
		}
	}
}
