package lifecycle

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// State is the position of one dispatch cycle.
type State string

const (
	StateIdle       State = "Idle"
	StatePurging    State = "Purging"
	StateSubmitting State = "Submitting"
	StateDispatched State = "Dispatched"
)

// Resubmission goes straight from Idle to Submitting.
var validTransitions = map[State]map[State]bool{
	StateIdle:       {StatePurging: true, StateSubmitting: true},
	StatePurging:    {StateSubmitting: true},
	StateSubmitting: {StateDispatched: true},
	StateDispatched: {},
}

// cycle tracks the state of one generation. It is owned by a single call and
// never shared between goroutines.
type cycle struct {
	state State
	log   *logrus.Entry
}

func newCycle(log *logrus.Entry) *cycle {
	return &cycle{state: StateIdle, log: log}
}

func (c *cycle) transition(to State) {
	if !validTransitions[c.state][to] {
		panic(fmt.Sprintf("lifecycle: illegal transition %s -> %s", c.state, to))
	}
	c.log.Debugf("Lifecycle %s -> %s", c.state, to)
	c.state = to
}
