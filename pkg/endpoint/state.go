// Package endpoint implements one logical peer: a WebRTC peer connection,
// its data channel, its signalling state machine, and the ICE-required-candidate
// gate that decides when a responder may answer.
package endpoint

import "fmt"

// State is a position in the endpoint's signalling state machine.
type State int

const (
	StateStartup State = iota
	StateSignup
	StateOffered
	StateConnected
	StateClosed
	StateRTCError
)

func (s State) String() string {
	switch s {
	case StateStartup:
		return "STARTUP"
	case StateSignup:
		return "SIGNUP"
	case StateOffered:
		return "OFFERED"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	case StateRTCError:
		return "RTC_ERROR"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Role is which side of the SDP exchange an endpoint plays.
type Role int

const (
	// RoleInitiator offers first, as soon as a local description exists.
	RoleInitiator Role = iota
	// RoleResponder waits for an offer and answers only once the
	// required-candidate gate is satisfied.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// canTransition reports whether the state graph in the signalling design
// permits moving from 'from' to 'to'. The only back-transition to STARTUP is
// from SIGNUP, taken on a signalling-socket error.
func canTransition(from, to State) bool {
	switch from {
	case StateStartup:
		return to == StateSignup
	case StateSignup:
		return to == StateOffered || to == StateClosed || to == StateRTCError || to == StateStartup
	case StateOffered:
		return to == StateConnected || to == StateClosed || to == StateRTCError
	case StateConnected:
		return to == StateClosed || to == StateRTCError
	case StateClosed, StateRTCError:
		return false
	default:
		return false
	}
}
