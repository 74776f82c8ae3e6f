// Package unit builds the identity and parameter envelope of a worker unit.
//
// The positional argument order produced by Parameters.Args is a wire
// contract with the worker container:
//
//	[num_simulations, starting_value, mu, sigma, forecast_period_days, num_trading_days]
package unit

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/montecarlo-sim/montecarlo-sim/sim/partition"
)

const (
	// DefaultNamePrefix prefixes every unit name.
	DefaultNamePrefix = "worker"
	// DefaultImage is the container image that runs the simulation kernel.
	DefaultImage = "monte-carlo-simulator:latest"

	// WorkloadName is the value of LabelName shared by all units of this workload.
	WorkloadName = "monte-carlo-simulator"

	LabelName = "name"
	LabelType = "type"

	// TypePod and TypeJob distinguish pod-level from job-level resources that
	// carry the same LabelName in one namespace.
	TypePod = "pod"
	TypeJob = "job"

	AnnotationSequence = "montecarlo-sim/sequence"
	AnnotationUnitID   = "montecarlo-sim/unit-id"
)

// NumArgs is the length of the positional argument list.
const NumArgs = 6

// ErrInvalidParameters is returned when a descriptor cannot be built or an
// argument list cannot be decoded.
var ErrInvalidParameters = errors.New("invalid unit parameters")

// Parameters is the payload handed to one worker unit.
type Parameters struct {
	NumSimulations int
	StartingValue  float64
	Mu             float64
	Sigma          float64
	ForecastDays   int
	TradingDays    int
}

// ParametersFor derives the payload of the unit at sequence in plan.
func ParametersFor(plan partition.Plan, req partition.Request, sequence int) Parameters {
	return Parameters{
		NumSimulations: plan.SimulationsFor(sequence),
		StartingValue:  req.StartingValue,
		Mu:             req.Mu,
		Sigma:          req.Sigma,
		ForecastDays:   req.ForecastDays,
		TradingDays:    req.TradingDays,
	}
}

// Args encodes p in wire order. Floats use the shortest representation that
// round-trips exactly.
func (p Parameters) Args() []string {
	return []string{
		strconv.Itoa(p.NumSimulations),
		formatFloat(p.StartingValue),
		formatFloat(p.Mu),
		formatFloat(p.Sigma),
		strconv.Itoa(p.ForecastDays),
		strconv.Itoa(p.TradingDays),
	}
}

// ParseArgs decodes a wire-order argument list.
func ParseArgs(args []string) (Parameters, error) {
	if len(args) != NumArgs {
		return Parameters{}, fmt.Errorf("%w: expected %d positional arguments, got %d", ErrInvalidParameters, NumArgs, len(args))
	}
	var (
		p   Parameters
		err error
	)
	if p.NumSimulations, err = strconv.Atoi(args[0]); err != nil {
		return Parameters{}, fmt.Errorf("%w: num_simulations: %v", ErrInvalidParameters, err)
	}
	if p.StartingValue, err = strconv.ParseFloat(args[1], 64); err != nil {
		return Parameters{}, fmt.Errorf("%w: starting_value: %v", ErrInvalidParameters, err)
	}
	if p.Mu, err = strconv.ParseFloat(args[2], 64); err != nil {
		return Parameters{}, fmt.Errorf("%w: mu: %v", ErrInvalidParameters, err)
	}
	if p.Sigma, err = strconv.ParseFloat(args[3], 64); err != nil {
		return Parameters{}, fmt.Errorf("%w: sigma: %v", ErrInvalidParameters, err)
	}
	if p.ForecastDays, err = strconv.Atoi(args[4]); err != nil {
		return Parameters{}, fmt.Errorf("%w: forecast_period: %v", ErrInvalidParameters, err)
	}
	if p.TradingDays, err = strconv.Atoi(args[5]); err != nil {
		return Parameters{}, fmt.Errorf("%w: num_trading_days: %v", ErrInvalidParameters, err)
	}
	return p, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Descriptor is one dispatched unit of work. It lives in memory for the
// duration of a submission; its name and labels persist in the backend.
type Descriptor struct {
	Sequence    int
	ID          uuid.UUID
	Name        string
	Image       string
	Params      Parameters
	Args        []string
	Labels      map[string]string // pod-level
	JobLabels   map[string]string // job-level
	Annotations map[string]string
}

type options struct {
	prefix string
	image  string
	newID  func() uuid.UUID
}

// Option customizes Build.
type Option func(*options)

// WithNamePrefix overrides DefaultNamePrefix.
func WithNamePrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithImage overrides DefaultImage.
func WithImage(image string) Option {
	return func(o *options) {
		if image != "" {
			o.image = image
		}
	}
}

// WithIDSource replaces uuid.New, for tests that need predictable names.
func WithIDSource(newID func() uuid.UUID) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

// Build creates the descriptor for the unit at sequence. It never contacts
// the backend.
func Build(sequence int, params Parameters, opts ...Option) (Descriptor, error) {
	if sequence < 1 {
		return Descriptor{}, fmt.Errorf("%w: sequence number must be >= 1, got %d", ErrInvalidParameters, sequence)
	}
	if params.NumSimulations <= 0 {
		return Descriptor{}, fmt.Errorf("%w: unit %d has no simulations", ErrInvalidParameters, sequence)
	}
	o := options{prefix: DefaultNamePrefix, image: DefaultImage, newID: uuid.New}
	for _, opt := range opts {
		opt(&o)
	}

	id := o.newID()
	return Descriptor{
		Sequence:  sequence,
		ID:        id,
		Name:      Name(o.prefix, sequence, id),
		Image:     o.image,
		Params:    params,
		Args:      params.Args(),
		Labels:    PodLabels(),
		JobLabels: JobLabels(),
		Annotations: map[string]string{
			AnnotationSequence: strconv.Itoa(sequence),
			AnnotationUnitID:   id.String(),
		},
	}, nil
}

// Name composes prefix, sequence and id so operators can map a backend unit
// back to its position in the generation.
func Name(prefix string, sequence int, id uuid.UUID) string {
	return fmt.Sprintf("%s-%d-%s", prefix, sequence, id)
}

// PodLabels returns the pod-level label set.
func PodLabels() map[string]string {
	return map[string]string{LabelName: WorkloadName, LabelType: TypePod}
}

// JobLabels returns the job-level label set.
func JobLabels() map[string]string {
	return map[string]string{LabelName: WorkloadName, LabelType: TypeJob}
}
