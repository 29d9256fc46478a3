package peer

import (
	"time"

	"github.com/rs/zerolog"
)

// State is the negotiation lifecycle of one pairing.
type State int

const (
	// StateIdle means no remote peer is paired yet.
	StateIdle State = iota
	// StateNegotiating means an offer/answer exchange is in flight.
	StateNegotiating
	// StateConnecting means descriptions are applied and the transport is
	// still coming up.
	StateConnecting
	// StateOpen means the data channel is usable.
	StateOpen
	// StateFailed means the restart budget is spent; only an explicit
	// reconnect or a fresh peer pairing leaves this state.
	StateFailed
	// StateClosed means the session tore the pairing down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Negotiator decides how one pairing advances. It is a pure state machine:
// Step consumes an event and returns the side effects to run, and nothing
// else touches its state. The owning session serializes all calls.
type Negotiator struct {
	localID  string
	remoteID string
	offerer  bool

	state     State
	channelUp bool
	restarts  RestartPolicy

	log zerolog.Logger
}

// NewNegotiator returns a machine in StateIdle for the given local peer id.
func NewNegotiator(localID string, log zerolog.Logger) *Negotiator {
	return &Negotiator{
		localID:  localID,
		state:    StateIdle,
		restarts: NewRestartPolicy(),
		log:      log.With().Str("component", "negotiator").Logger(),
	}
}

// State returns the current lifecycle state.
func (n *Negotiator) State() State { return n.state }

// Offerer reports whether the local side initiates offers this epoch.
func (n *Negotiator) Offerer() bool { return n.offerer }

// Remote returns the paired peer id, empty when idle.
func (n *Negotiator) Remote() string { return n.remoteID }

// Restarts returns how many automatic restarts this epoch has used.
func (n *Negotiator) Restarts() int { return n.restarts.Attempts }

// Step advances the machine by one event and returns the actions the
// session must execute, in order.
func (n *Negotiator) Step(ev Event) []Action {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	before := n.state
	actions := n.step(ev)
	if n.state != before {
		n.log.Debug().
			Str("event", ev.Kind.String()).
			Str("from", before.String()).
			Str("to", n.state.String()).
			Msg("negotiation state changed")
	}
	return actions
}

func (n *Negotiator) step(ev Event) []Action {
	if n.state == StateClosed {
		return nil
	}

	switch ev.Kind {
	case EvTeardown:
		n.state = StateClosed
		n.channelUp = false
		return []Action{{Kind: ActDisarmWatchdog}, {Kind: ActResetLink}}

	case EvPeerGone:
		if n.state == StateIdle {
			return nil
		}
		n.reset()
		return []Action{{Kind: ActDisarmWatchdog}, {Kind: ActResetLink}}

	case EvPeerPresent:
		return n.onPeerPresent(ev)

	case EvOfferReceived:
		return n.onOffer(ev)

	case EvAnswerReceived:
		if n.offerer && n.state == StateNegotiating {
			n.state = StateConnecting
			return []Action{{Kind: ActApplyAnswer, SDP: ev.SDP}}
		}
		return nil

	case EvCandidateReceived:
		switch n.state {
		case StateNegotiating, StateConnecting, StateOpen:
			return []Action{{Kind: ActAddCandidate, Candidate: ev.Candidate}}
		}
		return nil

	case EvChannelOpen:
		n.channelUp = true
		if n.state == StateNegotiating || n.state == StateConnecting {
			n.state = StateOpen
			return []Action{{Kind: ActDisarmWatchdog}}
		}
		return nil

	case EvICEConnected:
		// After an ICE restart the surviving channel never re-fires its
		// open callback, so a recovered transport is the completion signal.
		if n.state == StateConnecting && n.channelUp {
			n.state = StateOpen
			return []Action{{Kind: ActDisarmWatchdog}}
		}
		return nil

	case EvChannelClosed:
		n.channelUp = false
		return n.onTransportFailed(ev.At, "channel closed")

	case EvTransportFailed, EvWatchdogFired:
		reason := ev.Reason
		if reason == "" {
			reason = "transport failed"
		}
		return n.onTransportFailed(ev.At, reason)

	case EvRestartRequested:
		// Only the offerer acts on a restart request; the answerer asked
		// for it in the first place.
		if !n.offerer || n.state == StateNegotiating {
			return nil
		}
		return n.onTransportFailed(ev.At, ev.Reason)
	}
	return nil
}

func (n *Negotiator) onPeerPresent(ev Event) []Action {
	var actions []Action
	if n.state != StateIdle {
		// Even under the same peer id, a re-announcing peer rebuilt its
		// end, so the old link is useless. Start the epoch over.
		actions = append(actions, Action{Kind: ActResetLink})
	}
	n.reset()
	n.remoteID = ev.PeerID
	n.offerer = Offerer(n.localID, ev.PeerID)
	n.state = StateNegotiating

	if n.offerer {
		actions = append(actions, Action{Kind: ActMakeOffer})
	}
	return append(actions, Action{Kind: ActArmWatchdog})
}

func (n *Negotiator) onOffer(ev Event) []Action {
	if n.offerer {
		return nil
	}
	switch n.state {
	case StateNegotiating:
		n.state = StateConnecting
		return []Action{{Kind: ActMakeAnswer, SDP: ev.SDP}}
	case StateConnecting, StateOpen:
		// A restart offer from the other side.
		n.state = StateConnecting
		return []Action{{Kind: ActMakeAnswer, SDP: ev.SDP}, {Kind: ActArmWatchdog}}
	}
	return nil
}

func (n *Negotiator) onTransportFailed(now time.Time, reason string) []Action {
	switch n.state {
	case StateNegotiating, StateConnecting, StateOpen:
	default:
		return nil
	}

	if n.restarts.Exhausted() {
		n.state = StateFailed
		return []Action{{Kind: ActDisarmWatchdog}, {Kind: ActFail, Reason: reason}}
	}
	if !n.restarts.Allow(now) {
		// Too soon after the previous attempt; the armed watchdog will
		// bring the failure back around.
		return nil
	}
	n.restarts.Note(now)

	if n.offerer {
		n.state = StateNegotiating
		return []Action{{Kind: ActMakeOffer, Restart: true}, {Kind: ActArmWatchdog}}
	}
	n.state = StateConnecting
	return []Action{{Kind: ActRequestRestart, Reason: reason}, {Kind: ActArmWatchdog}}
}

func (n *Negotiator) reset() {
	n.state = StateIdle
	n.remoteID = ""
	n.offerer = false
	n.channelUp = false
	n.restarts.Reset()
}
