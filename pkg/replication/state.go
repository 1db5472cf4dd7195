package replication

import "go.uber.org/zap"

// State is the progress of a single Replicate call.
type State int

const (
	StateIdle State = iota
	StateClockBumped
	StateMessageBuilt
	StateTargetSelected
	StateSending
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClockBumped:
		return "clock_bumped"
	case StateMessageBuilt:
		return "message_built"
	case StateTargetSelected:
		return "target_selected"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

type attempt struct {
	id     string
	key    string
	state  State
	logger *zap.Logger
}

// transition moves the attempt to a new state. Once the attempt is
// terminal further transitions are dropped.
func (a *attempt) transition(to State, fields ...zap.Field) {
	if a.state.Terminal() {
		a.logger.Warn("transition after terminal state ignored",
			zap.String("attempt_id", a.id),
			zap.Stringer("state", a.state),
			zap.Stringer("to", to))
		return
	}
	from := a.state
	a.state = to
	if ce := a.logger.Check(zap.DebugLevel, "replication state"); ce != nil {
		ce.Write(append([]zap.Field{
			zap.String("attempt_id", a.id),
			zap.String("key", a.key),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		}, fields...)...)
	}
}
