package lifecycle

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/montecarlo-sim/montecarlo-sim/sim/backend"
	"github.com/montecarlo-sim/montecarlo-sim/sim/partition"
)

// UnitResult is the submission result of one sequence number.
type UnitResult struct {
	Sequence    int
	Name        string
	UnitID      uuid.UUID
	Simulations int
	Handle      backend.Handle
	Err         error
	Skipped     bool // never attempted because the dispatch was cancelled
}

// Submitted reports whether the backend accepted the unit.
func (r UnitResult) Submitted() bool {
	return r.Err == nil && !r.Skipped
}

// Result returns "submitted", "failed" or "skipped".
func (r UnitResult) Result() string {
	switch {
	case r.Skipped:
		return "skipped"
	case r.Err != nil:
		return "failed"
	default:
		return "submitted"
	}
}

// PurgeReport summarizes one purge pass.
type PurgeReport struct {
	Listed      int // units returned for the workload selector
	Succeeded   int // of those, units in the Succeeded phase with matching labels
	Deleted     int
	AlreadyGone int // deletes that found nothing to delete
	Failed      int
	Errors      []error
}

// Outcome is what a caller gets back from a dispatch cycle. Partial dispatch
// is a normal outcome, not an error.
type Outcome struct {
	Generation  string
	Plan        partition.Plan
	State       State
	Planned     int
	Purged      int
	PurgeFailed int
	Submitted   int
	Failed      int
	Skipped     int
	Purge       PurgeReport
	PurgeErr    error // set when the purge could not list units at all
	Units       []UnitResult
}

func (o *Outcome) tally() {
	o.Submitted, o.Failed, o.Skipped = 0, 0, 0
	for _, u := range o.Units {
		switch {
		case u.Skipped:
			o.Skipped++
		case u.Err != nil:
			o.Failed++
		default:
			o.Submitted++
		}
	}
}

// Complete reports whether every planned unit was submitted.
func (o Outcome) Complete() bool {
	return o.Submitted == o.Planned
}

// MissingSequences returns the sequence numbers that failed or were skipped,
// in ascending order, for the caller to retry with Resubmit.
func (o Outcome) MissingSequences() []int {
	var seqs []int
	for _, u := range o.Units {
		if !u.Submitted() {
			seqs = append(seqs, u.Sequence)
		}
	}
	return seqs
}

// Err joins every per-unit failure and the purge list error, or returns nil.
func (o Outcome) Err() error {
	var errs []error
	if o.PurgeErr != nil {
		errs = append(errs, fmt.Errorf("purge: %w", o.PurgeErr))
	}
	for _, u := range o.Units {
		if u.Err != nil {
			errs = append(errs, fmt.Errorf("unit %d: %w", u.Sequence, u.Err))
		}
	}
	return errors.Join(errs...)
}
