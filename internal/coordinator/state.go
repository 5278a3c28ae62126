package coordinator

import (
	"fmt"

	"go.uber.org/zap"
)

// State is the position of one submission in the dual-signature pipeline.
type State string

const (
	StateBuilt          State = "BUILT"
	StateUserSigned     State = "USER_SIGNED"
	StateAwaitingCoSign State = "AWAITING_COSIGN"
	StateCoSigned       State = "COSIGNED"
	StateSubmitted      State = "SUBMITTED"
	StateConfirmed      State = "CONFIRMED"
	StateFailed         State = "FAILED"
)

var stateTransitions = map[State]map[State]struct{}{
	StateBuilt: {
		StateUserSigned: {},
		StateFailed:     {},
	},
	StateUserSigned: {
		StateAwaitingCoSign: {},
		StateFailed:         {},
	},
	StateAwaitingCoSign: {
		StateCoSigned: {},
		// Cancellation is legal up to and including this state.
		StateFailed: {},
	},
	StateCoSigned: {
		StateSubmitted: {},
		// A stale freshness token sends the attempt back to a rebuild.
		StateBuilt:  {},
		StateFailed: {},
	},
	StateSubmitted: {
		StateConfirmed: {},
		StateFailed:    {},
	},
	StateConfirmed: {},
	StateFailed:    {},
}

// attempt tracks the state of one submission attempt and enforces legal
// transitions. An illegal transition is a bug, so it panics in tests via the
// returned error path rather than being silently absorbed.
type attempt struct {
	key   string
	state State
}

func newAttempt(key string) *attempt {
	return &attempt{key: key, state: StateBuilt}
}

func (a *attempt) advance(next State) error {
	allowed, ok := stateTransitions[a.state]
	if !ok {
		return fmt.Errorf("unknown submission state %q", a.state)
	}
	if _, ok := allowed[next]; !ok {
		return fmt.Errorf("illegal submission transition %s -> %s", a.state, next)
	}
	zap.L().Debug("submission state transition",
		zap.String("key", a.key),
		zap.String("from", string(a.state)),
		zap.String("to", string(next)),
	)
	a.state = next
	return nil
}
