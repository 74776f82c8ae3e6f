// Package partition sizes a generation of worker units for a simulation request.
//
// A Plan is derived from the total number of requested simulations and a
// per-worker capacity ceiling. Under the default RemainderDiscard policy any
// simulations beyond a whole multiple of the capacity are not scheduled; the
// discarded count is recorded on the plan rather than silently redistributed.
package partition

import (
	"errors"
	"fmt"
	"math"
)

// DefaultCapacity is the maximum number of simulations a single worker handles.
const DefaultCapacity = 50_000

// ErrInvalidRequest is returned for requests that must be rejected before any
// backend contact.
var ErrInvalidRequest = errors.New("invalid simulation request")

// RemainderPolicy controls what happens to total % capacity simulations.
type RemainderPolicy string

const (
	// RemainderDiscard schedules floor(total/capacity) workers and drops the rest.
	RemainderDiscard RemainderPolicy = "discard"
	// RemainderRoundUp adds one extra worker that handles only the remainder.
	RemainderRoundUp RemainderPolicy = "round-up"
)

var validRemainderPolicies = map[RemainderPolicy]bool{
	RemainderDiscard: true,
	RemainderRoundUp: true,
	"":               true, // empty defaults to discard
}

// IsValidRemainderPolicy returns true if name is a recognized remainder policy.
func IsValidRemainderPolicy(name string) bool {
	return validRemainderPolicies[RemainderPolicy(name)]
}

// Plan is the sizing of one generation.
type Plan struct {
	Total                int             // simulations requested
	Capacity             int             // per-worker ceiling used for sizing
	Policy               RemainderPolicy // remainder handling applied
	WorkerCount          int             // number of units to dispatch
	PerWorkerSimulations int             // simulations given to every full worker
	Remainder            int             // total % capacity when total > capacity, else 0
	Discarded            int             // simulations not scheduled by this plan
}

// New computes a plan for total simulations at the given capacity.
func New(total, capacity int, policy RemainderPolicy) (Plan, error) {
	if total <= 0 {
		return Plan{}, fmt.Errorf("%w: total simulations must be positive, got %d", ErrInvalidRequest, total)
	}
	if capacity <= 0 {
		return Plan{}, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidRequest, capacity)
	}
	if !validRemainderPolicies[policy] {
		return Plan{}, fmt.Errorf("%w: unknown remainder policy %q; valid: discard, round-up", ErrInvalidRequest, policy)
	}
	if policy == "" {
		policy = RemainderDiscard
	}

	p := Plan{Total: total, Capacity: capacity, Policy: policy}
	if total <= capacity {
		p.WorkerCount = 1
		p.PerWorkerSimulations = total
		return p, nil
	}

	p.WorkerCount = total / capacity
	p.PerWorkerSimulations = capacity
	p.Remainder = total % capacity
	if p.Remainder > 0 {
		switch policy {
		case RemainderRoundUp:
			p.WorkerCount++
		default:
			p.Discarded = p.Remainder
		}
	}
	return p, nil
}

// SimulationsFor returns the number of simulations assigned to the unit with
// the given 1-based sequence number, or 0 if the sequence is outside the plan.
func (p Plan) SimulationsFor(sequence int) int {
	if sequence < 1 || sequence > p.WorkerCount {
		return 0
	}
	if p.Policy == RemainderRoundUp && p.Remainder > 0 && sequence == p.WorkerCount {
		return p.Remainder
	}
	return p.PerWorkerSimulations
}

// Scheduled returns the number of simulations the plan actually dispatches.
func (p Plan) Scheduled() int {
	total := 0
	for seq := 1; seq <= p.WorkerCount; seq++ {
		total += p.SimulationsFor(seq)
	}
	return total
}

func (p Plan) String() string {
	return fmt.Sprintf("%d worker(s) x %d simulations (total=%d, capacity=%d, policy=%s, discarded=%d)",
		p.WorkerCount, p.PerWorkerSimulations, p.Total, p.Capacity, p.Policy, p.Discarded)
}

// Request is a single simulation request. It is a value type and is never
// mutated once built.
type Request struct {
	TotalSimulations int
	StartingValue    float64
	Mu               float64 // annual drift
	Sigma            float64 // annual volatility
	ForecastDays     int
	TradingDays      int // trading days per year, used to annualize mu and sigma
}

// Validate reports the first problem with r, wrapped in ErrInvalidRequest.
func (r Request) Validate() error {
	if r.TotalSimulations <= 0 {
		return fmt.Errorf("%w: num_simulations must be positive, got %d", ErrInvalidRequest, r.TotalSimulations)
	}
	if err := finite("starting_value", r.StartingValue); err != nil {
		return err
	}
	if r.StartingValue <= 0 {
		return fmt.Errorf("%w: starting_value must be positive, got %g", ErrInvalidRequest, r.StartingValue)
	}
	if err := finite("mu", r.Mu); err != nil {
		return err
	}
	if err := finite("sigma", r.Sigma); err != nil {
		return err
	}
	if r.Sigma < 0 {
		return fmt.Errorf("%w: sigma must be non-negative, got %g", ErrInvalidRequest, r.Sigma)
	}
	if r.ForecastDays <= 0 {
		return fmt.Errorf("%w: forecast_period must be positive, got %d", ErrInvalidRequest, r.ForecastDays)
	}
	if r.TradingDays <= 0 {
		return fmt.Errorf("%w: num_trading_days must be positive, got %d", ErrInvalidRequest, r.TradingDays)
	}
	return nil
}

// Plan validates r and sizes it at the given capacity.
func (r Request) Plan(capacity int, policy RemainderPolicy) (Plan, error) {
	if err := r.Validate(); err != nil {
		return Plan{}, err
	}
	return New(r.TotalSimulations, capacity, policy)
}

func finite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number, got %f", ErrInvalidRequest, name, v)
	}
	return nil
}
