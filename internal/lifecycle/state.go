// ABOUTME: Connection states, gateway events and the pure transition table between them
// ABOUTME: Transition returns the side effects to run; the Coordinator executes them

package lifecycle

// ConnectionState is the bot's view of its gateway session.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
	StateReconnecting
	StateStopped
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification from the gateway adapter or the
// reconnect supervisor.
type Event int

const (
	EventReady Event = iota
	EventDisconnected
	EventReconnecting
	EventResumed
)

func (e Event) String() string {
	switch e {
	case EventReady:
		return "ready"
	case EventDisconnected:
		return "disconnected"
	case EventReconnecting:
		return "reconnecting"
	case EventResumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// Effect is a side effect requested by a transition.
type Effect int

const (
	EffectStartRotation Effect = iota
	EffectStopRotation
	EffectStartLiveness
	EffectStartHealth
	EffectResetReconnect
)

func (e Effect) String() string {
	switch e {
	case EffectStartRotation:
		return "start_rotation"
	case EffectStopRotation:
		return "stop_rotation"
	case EffectStartLiveness:
		return "start_liveness"
	case EffectStartHealth:
		return "start_health"
	case EffectResetReconnect:
		return "reset_reconnect"
	default:
		return "unknown"
	}
}

// Snapshot is everything Transition needs to decide on effects.
type Snapshot struct {
	State ConnectionState

	// EverReady is set by the first Ready and never cleared. The
	// heartbeat and health server start exactly once.
	EverReady bool
}

// Initial is the snapshot before the first login completes.
func Initial() Snapshot {
	return Snapshot{State: StateConnecting}
}

// Transition applies ev to s. Rotation runs exactly when the resulting
// state is Connected.
func Transition(s Snapshot, ev Event) (Snapshot, []Effect) {
	if s.State == StateStopped {
		return s, nil
	}

	next := s
	var effects []Effect

	switch ev {
	case EventReady, EventResumed:
		next.State = StateConnected
		if s.State != StateConnected {
			effects = append(effects, EffectStartRotation)
		}
		effects = append(effects, EffectResetReconnect)
		if ev == EventReady && !s.EverReady {
			next.EverReady = true
			effects = append(effects, EffectStartLiveness, EffectStartHealth)
		}

	case EventDisconnected:
		next.State = StateDisconnected
		effects = append(effects, EffectStopRotation)

	case EventReconnecting:
		// The gateway library retries on its own; rotation is already
		// stopped if a Disconnected preceded this.
		next.State = StateReconnecting
		if s.State == StateConnected {
			effects = append(effects, EffectStopRotation)
		}
	}

	return next, effects
}
