package listener

import "fmt"

// MaxAttempts is the number of consecutive connection failures after which
// the listener gives up and reports ConnectionLost.
const MaxAttempts = 3

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// ConnectionLost is terminal until an explicit reconnect.
	ConnectionLost
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case ConnectionLost:
		return "ConnectionLost"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is the connection state plus the count of consecutive failures.
type Status struct {
	State    State
	Attempts int
}

// Input drives Transition.
type Input interface{ isInput() }

type (
	// ConnectRequested is an explicit connect or reconnect by the user.
	ConnectRequested struct{}
	DialSucceeded    struct{}
	DialFailed       struct{ Err error }
	// ConnLost reports that an open connection went away.
	ConnLost struct{ Err error }
	// RetryElapsed fires when a scheduled reconnect delay has passed.
	RetryElapsed   struct{}
	CloseRequested struct{}
)

func (ConnectRequested) isInput() {}
func (DialSucceeded) isInput()    {}
func (DialFailed) isInput()       {}
func (ConnLost) isInput()         {}
func (RetryElapsed) isInput()     {}
func (CloseRequested) isInput()   {}

// Effect is an action the runtime must perform after a transition.
type Effect interface{ isEffect() }

type (
	Dial struct{}
	// ScheduleRetry asks for a RetryElapsed input after a backoff delay
	// for the given attempt number.
	ScheduleRetry struct{ Attempt int }
	CloseConn     struct{}
	// SurfaceLost tells the user the connection is gone for good.
	SurfaceLost struct{ Err error }
)

func (Dial) isEffect()          {}
func (ScheduleRetry) isEffect() {}
func (CloseConn) isEffect()     {}
func (SurfaceLost) isEffect()   {}

// Transition is the connection state machine. It is pure; inputs that make
// no sense in the current state are ignored.
func Transition(s Status, in Input) (Status, []Effect) {
	switch in := in.(type) {
	case ConnectRequested:
		if s.State == Disconnected || s.State == ConnectionLost {
			return Status{State: Connecting}, []Effect{Dial{}}
		}
	case DialSucceeded:
		if s.State == Connecting {
			return Status{State: Connected}, nil
		}
	case DialFailed:
		if s.State == Connecting {
			return fail(s, in.Err, nil)
		}
	case ConnLost:
		if s.State == Connected {
			return fail(s, in.Err, []Effect{CloseConn{}})
		}
	case RetryElapsed:
		if s.State == Disconnected {
			return Status{State: Connecting, Attempts: s.Attempts}, []Effect{Dial{}}
		}
	case CloseRequested:
		var effects []Effect
		if s.State == Connected {
			effects = []Effect{CloseConn{}}
		}
		return Status{State: Disconnected}, effects
	}
	return s, nil
}

func fail(s Status, err error, effects []Effect) (Status, []Effect) {
	n := s.Attempts + 1
	if n >= MaxAttempts {
		return Status{State: ConnectionLost, Attempts: n}, append(effects, SurfaceLost{Err: err})
	}
	return Status{State: Disconnected, Attempts: n}, append(effects, ScheduleRetry{Attempt: n})
}
