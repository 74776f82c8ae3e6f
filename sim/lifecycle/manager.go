// Package lifecycle dispatches generations of worker units to an execution
// backend.
//
// A dispatch cycle moves Idle -> Purging -> Submitting -> Dispatched. Purge
// deletes units of this workload that the backend reports as Succeeded, then
// the new generation is submitted with bounded concurrency. The manager never
// waits for units to finish and never retries on its own; MissingSequences on
// the returned Outcome tells the caller what to pass to Resubmit.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/montecarlo-sim/montecarlo-sim/sim/backend"
	"github.com/montecarlo-sim/montecarlo-sim/sim/partition"
	"github.com/montecarlo-sim/montecarlo-sim/sim/unit"
)

// DefaultConcurrency is the number of in-flight submissions when Config leaves it unset.
const DefaultConcurrency = 8

// Config is fixed for the lifetime of a Manager.
type Config struct {
	Capacity    int                       // simulations per worker; 0 means partition.DefaultCapacity
	Remainder   partition.RemainderPolicy // "" means discard
	Image       string                    // "" means unit.DefaultImage
	NamePrefix  string                    // "" means unit.DefaultNamePrefix
	Concurrency int                       // max in-flight submissions; 0 means DefaultConcurrency
	SubmitQPS   float64                   // submissions per second; 0 means unlimited
	SubmitBurst int                       // limiter burst; 0 means 1
	Metrics     *Metrics                  // nil means unregistered collectors
}

// Manager runs dispatch cycles against one backend. It holds no per-cycle
// state, so concurrent Dispatch calls are safe; they share the submit limiter.
type Manager struct {
	backend backend.Backend
	cfg     Config
	limiter *rate.Limiter
	metrics *Metrics
	newID   func() uuid.UUID
}

// New validates cfg and returns a Manager bound to b.
func New(b backend.Backend, cfg Config) (*Manager, error) {
	if b == nil {
		return nil, errors.New("lifecycle: backend is required")
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = partition.DefaultCapacity
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("lifecycle: capacity must be positive, got %d", cfg.Capacity)
	}
	if !partition.IsValidRemainderPolicy(string(cfg.Remainder)) {
		return nil, fmt.Errorf("lifecycle: unknown remainder policy %q", cfg.Remainder)
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("lifecycle: concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.SubmitQPS < 0 || math.IsNaN(cfg.SubmitQPS) {
		return nil, fmt.Errorf("lifecycle: submit qps must be non-negative, got %f", cfg.SubmitQPS)
	}
	if cfg.SubmitBurst <= 0 {
		cfg.SubmitBurst = 1
	}

	limit := rate.Inf
	if cfg.SubmitQPS > 0 {
		limit = rate.Limit(cfg.SubmitQPS)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Manager{
		backend: b,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.SubmitBurst),
		metrics: metrics,
		newID:   uuid.New,
	}, nil
}

// Selector is the label query used to find this workload's job-level units.
func Selector() backend.Selector {
	return backend.Selector{unit.LabelName: unit.WorkloadName, unit.LabelType: unit.TypeJob}
}

// Plan sizes req with the manager's capacity and remainder policy.
func (m *Manager) Plan(req partition.Request) (partition.Plan, error) {
	return req.Plan(m.cfg.Capacity, m.cfg.Remainder)
}

// Dispatch validates and plans req, purges succeeded units from earlier
// generations, and submits the new generation. Only an invalid request
// returns an error; backend failures are reported on the Outcome.
func (m *Manager) Dispatch(ctx context.Context, req partition.Request) (Outcome, error) {
	started := time.Now()
	generation := m.newID().String()
	log := logrus.WithField("generation", generation)
	c := newCycle(log)

	plan, err := m.Plan(req)
	if err != nil {
		return Outcome{Generation: generation, State: c.state}, err
	}
	log.Infof("Dispatch will create %d worker(s) to handle %d simulations", plan.WorkerCount, req.TotalSimulations)
	if plan.Discarded > 0 {
		log.Warnf("Remainder policy %q discards %d of %d simulations", plan.Policy, plan.Discarded, plan.Total)
	}
	m.metrics.PlannedWorkers.Set(float64(plan.WorkerCount))
	m.metrics.DiscardedSimulations.Add(float64(plan.Discarded))

	c.transition(StatePurging)
	report, purgeErr := m.Purge(ctx)

	c.transition(StateSubmitting)
	out := m.submit(ctx, log, plan, req, sequenceRange(plan.WorkerCount))
	out.Generation = generation
	out.Purge = report
	out.Purged = report.Deleted
	out.PurgeFailed = report.Failed
	out.PurgeErr = purgeErr

	c.transition(StateDispatched)
	out.State = c.state
	m.metrics.DispatchDurationSec.Observe(time.Since(started).Seconds())
	log.WithFields(logrus.Fields{
		"planned":   out.Planned,
		"purged":    out.Purged,
		"submitted": out.Submitted,
		"failed":    out.Failed,
		"skipped":   out.Skipped,
	}).Info("Dispatch finished")
	return out, nil
}

// Resubmit submits only the given sequence numbers of plan, for callers
// retrying a partial dispatch. It does not purge.
func (m *Manager) Resubmit(ctx context.Context, plan partition.Plan, req partition.Request, sequences []int) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return Outcome{State: StateIdle}, err
	}
	for _, seq := range sequences {
		if seq < 1 || seq > plan.WorkerCount {
			return Outcome{State: StateIdle}, fmt.Errorf("%w: sequence %d outside plan of %d worker(s)", partition.ErrInvalidRequest, seq, plan.WorkerCount)
		}
	}
	generation := m.newID().String()
	log := logrus.WithField("generation", generation)
	c := newCycle(log)

	c.transition(StateSubmitting)
	out := m.submit(ctx, log, plan, req, sequences)
	out.Generation = generation
	c.transition(StateDispatched)
	out.State = c.state
	return out, nil
}

// Purge deletes every unit of this workload the backend reports as
// Succeeded. It always re-lists, so a delete that failed here is retried on
// the next call. The returned error is non-nil only when listing failed.
func (m *Manager) Purge(ctx context.Context) (PurgeReport, error) {
	var report PurgeReport
	selector := Selector()
	statuses, err := m.backend.List(ctx, selector)
	if err != nil {
		m.metrics.PurgeFailures.Inc()
		logrus.Warnf("Purge could not list units with %q: %v", selector.String(), err)
		return report, fmt.Errorf("listing units: %w", err)
	}
	report.Listed = len(statuses)

	for _, st := range statuses {
		// The backend filters by selector already; check again so a
		// pod-level resource can never be mistaken for a job.
		if !selector.Matches(st.Labels) || st.Phase != backend.PhaseSucceeded {
			continue
		}
		report.Succeeded++
		err := m.backend.Delete(ctx, st.Name)
		switch {
		case err == nil:
			report.Deleted++
			m.metrics.Purged.Inc()
			logrus.Debugf("Purged succeeded unit %s", st.Name)
		case errors.Is(err, backend.ErrNotFound):
			report.AlreadyGone++
		default:
			report.Failed++
			report.Errors = append(report.Errors, err)
			m.metrics.PurgeFailures.Inc()
			logrus.Warnf("Failed to purge unit %s, will retry next cycle: %v", st.Name, err)
		}
	}
	return report, nil
}

func (m *Manager) submit(ctx context.Context, log *logrus.Entry, plan partition.Plan, req partition.Request, sequences []int) Outcome {
	out := Outcome{Plan: plan, Planned: len(sequences), Units: make([]UnitResult, len(sequences))}
	opts := []unit.Option{unit.WithImage(m.cfg.Image), unit.WithNamePrefix(m.cfg.NamePrefix), unit.WithIDSource(m.newID)}

	// A plain Group: one unit's failure must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for i, seq := range sequences {
		res := &out.Units[i]
		res.Sequence = seq
		res.Simulations = plan.SimulationsFor(seq)
		if err := ctx.Err(); err != nil {
			res.Skipped, res.Err = true, err
			continue
		}
		g.Go(func() error {
			m.submitOne(ctx, log, res, unit.ParametersFor(plan, req, seq), opts)
			return nil
		})
	}
	_ = g.Wait()

	out.tally()
	for _, u := range out.Units {
		m.metrics.Units.WithLabelValues(u.Result()).Inc()
	}
	return out
}

func (m *Manager) submitOne(ctx context.Context, log *logrus.Entry, res *UnitResult, params unit.Parameters, opts []unit.Option) {
	if err := m.limiter.Wait(ctx); err != nil {
		res.Skipped, res.Err = true, err
		return
	}
	if err := ctx.Err(); err != nil {
		res.Skipped, res.Err = true, err
		return
	}
	d, err := unit.Build(res.Sequence, params, opts...)
	if err != nil {
		res.Err = err
		log.Errorf("Unit %d could not be built: %v", res.Sequence, err)
		return
	}
	res.Name, res.UnitID = d.Name, d.ID

	h, err := m.backend.Submit(ctx, backend.Submission{
		Name:        d.Name,
		JobLabels:   d.JobLabels,
		PodLabels:   d.Labels,
		Annotations: d.Annotations,
		Image:       d.Image,
		Args:        d.Args,
	})
	if err != nil {
		res.Err = err
		log.Errorf("Unit %d (%s) submission failed: %v", res.Sequence, d.Name, err)
		return
	}
	res.Handle = h
	log.Debugf("Submitted unit %d as %s", res.Sequence, h.Name)
}

func sequenceRange(n int) []int {
	seqs := make([]int, n)
	for i := range seqs {
		seqs[i] = i + 1
	}
	return seqs
}
