package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// PathModel produces one simulated path per call. Implementations must not
// keep mutable state between calls other than what lives in rng.
type PathModel interface {
	// Steps returns the path length, including day 0.
	Steps() int
	// Simulate writes one path into dst (reallocating if it is too short)
	// and returns it.
	Simulate(rng *rand.Rand, dst []float64) []float64
}

// GBM is a geometric Brownian motion asset-price model with annualized
// drift and volatility.
type GBM struct {
	StartingValue float64
	Mu            float64 // annual drift
	Sigma         float64 // annual volatility
	ForecastDays  int
	TradingDays   int  // trading days per year
	AllowNegative bool // when false, path values <= 0 are floored to 0
}

// Validate checks that g can be simulated.
func (g *GBM) Validate() error {
	for name, v := range map[string]float64{"starting_value": g.StartingValue, "mu": g.Mu, "sigma": g.Sigma} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be a finite number, got %f", name, v)
		}
	}
	if g.StartingValue <= 0 {
		return fmt.Errorf("starting_value must be positive, got %g", g.StartingValue)
	}
	if g.Sigma < 0 {
		return fmt.Errorf("sigma must be non-negative, got %g", g.Sigma)
	}
	if g.ForecastDays <= 0 {
		return fmt.Errorf("forecast_period must be positive, got %d", g.ForecastDays)
	}
	if g.TradingDays <= 0 {
		return fmt.Errorf("num_trading_days must be positive, got %d", g.TradingDays)
	}
	return nil
}

// DailyVolatility is sigma rescaled to one trading day.
func (g *GBM) DailyVolatility() float64 {
	return g.Sigma / math.Sqrt(float64(g.TradingDays))
}

// DailyDrift is the deterministic component of each daily log-return:
// mu/td - 0.5*(sigma/sqrt(td))^2.
func (g *GBM) DailyDrift() float64 {
	dailySigma := g.DailyVolatility()
	return g.Mu/float64(g.TradingDays) - 0.5*dailySigma*dailySigma
}

func (g *GBM) Steps() int {
	return g.ForecastDays + 1
}

// Simulate draws one path. path[0] is the starting value and
// path[t] = S0 * (1 + sum of the first t daily log-returns).
func (g *GBM) Simulate(rng *rand.Rand, dst []float64) []float64 {
	n := g.Steps()
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]

	drift := g.DailyDrift()
	vol := g.DailyVolatility()
	s0 := g.StartingValue

	dst[0] = s0
	cum := 0.0
	for t := 1; t < n; t++ {
		shock := 0.0
		if vol != 0 {
			shock = rng.NormFloat64()
		}
		cum += drift + vol*shock
		dst[t] = s0 * (1 + cum)
	}
	if !g.AllowNegative {
		ClampNonPositive(dst)
	}
	return dst
}

// ClampNonPositive floors every value <= 0 in path to zero, in place.
func ClampNonPositive(path []float64) {
	for i, v := range path {
		if v <= 0 {
			path[i] = 0
		}
	}
}
