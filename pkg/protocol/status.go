package protocol

import "fmt"

// State is the lifecycle stage of a connection.
type State uint8

// State constants.
const (
	StateEstablished State = iota
	StateUpgraded
	StateConnected
	StateStopped
	StateSwitchProtocol
)

var stateNames = [...]string{
	StateEstablished:    "established",
	StateUpgraded:       "upgraded",
	StateConnected:      "connected",
	StateStopped:        "stopped",
	StateSwitchProtocol: "switch_protocol",
}

// String returns the string representation of the state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

// Status signals per-connection lifecycle outcomes between the dispatcher and
// a protocol handler. The zero value is Established. Status values are
// comparable.
type Status struct {
	state  State
	target ID
}

// Status values without a payload.
var (
	Established = Status{state: StateEstablished}
	Upgraded    = Status{state: StateUpgraded}
	Connected   = Status{state: StateConnected}
	Stopped     = Status{state: StateStopped}
)

// SwitchProtocol returns a status asking the dispatcher to hand the
// connection to the protocol registered under target.
func SwitchProtocol(target ID) Status {
	return Status{state: StateSwitchProtocol, target: target}
}

// State returns the lifecycle stage.
func (s Status) State() State { return s.state }

// FramePassed records that a frame was processed successfully. Only
// Established moves (to Connected); every other state is left as is.
func (s *Status) FramePassed() {
	if s.state == StateEstablished {
		s.state = StateConnected
	}
}

// IsConnected reports whether at least one frame passed.
func (s Status) IsConnected() bool { return s.state == StateConnected }

// IsStopped reports whether the connection ended.
func (s Status) IsStopped() bool { return s.state == StateStopped }

// IsUpgraded reports whether the connection arrived by a protocol switch.
func (s Status) IsUpgraded() bool { return s.state == StateUpgraded }

// ShouldSwitch returns the target protocol when a switch was requested.
func (s Status) ShouldSwitch() (ID, bool) {
	if s.state == StateSwitchProtocol {
		return s.target, true
	}
	return "", false
}

// String returns a readable form such as "switch_protocol(websocket)".
func (s Status) String() string {
	if s.state == StateSwitchProtocol {
		return fmt.Sprintf("%s(%s)", s.state, s.target)
	}
	return s.state.String()
}
