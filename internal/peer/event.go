package peer

import "time"

// EventKind enumerates every input the negotiation machinery reacts to.
// Transport and relay callbacks never mutate state directly; they only
// produce events that the owning session feeds into the machine.
type EventKind int

const (
	// Relay-sourced events.
	EvPeerPresent EventKind = iota
	EvPeerGone
	EvOfferReceived
	EvAnswerReceived
	EvCandidateReceived
	EvRestartRequested

	// Link-sourced events.
	EvLocalCandidate
	EvChannelOpen
	EvChannelClosed
	EvChannelMessage
	EvICEConnected
	EvTransportFailed

	// Session-sourced events.
	EvWatchdogFired
	EvTeardown
)

func (k EventKind) String() string {
	switch k {
	case EvPeerPresent:
		return "peer-present"
	case EvPeerGone:
		return "peer-gone"
	case EvOfferReceived:
		return "offer-received"
	case EvAnswerReceived:
		return "answer-received"
	case EvCandidateReceived:
		return "candidate-received"
	case EvRestartRequested:
		return "restart-requested"
	case EvLocalCandidate:
		return "local-candidate"
	case EvChannelOpen:
		return "channel-open"
	case EvChannelClosed:
		return "channel-closed"
	case EvChannelMessage:
		return "channel-message"
	case EvICEConnected:
		return "ice-connected"
	case EvTransportFailed:
		return "transport-failed"
	case EvWatchdogFired:
		return "watchdog-fired"
	case EvTeardown:
		return "teardown"
	}
	return "unknown"
}

// Event is one input to the negotiation state machine. Link carries the
// generation of the peer link that produced a link-sourced event, so the
// session can drop callbacks from a link it already tore down.
type Event struct {
	Kind      EventKind
	At        time.Time
	Link      uint64
	PeerID    string
	SDP       string
	Candidate []byte
	Data      []byte
	Reason    string
}

// ActionKind enumerates the side effects the machine requests. The session
// executes them against the peer link and the relay.
type ActionKind int

const (
	ActMakeOffer ActionKind = iota
	ActMakeAnswer
	ActApplyAnswer
	ActAddCandidate
	ActRequestRestart
	ActArmWatchdog
	ActDisarmWatchdog
	ActResetLink
	ActFail
)

func (k ActionKind) String() string {
	switch k {
	case ActMakeOffer:
		return "make-offer"
	case ActMakeAnswer:
		return "make-answer"
	case ActApplyAnswer:
		return "apply-answer"
	case ActAddCandidate:
		return "add-candidate"
	case ActRequestRestart:
		return "request-restart"
	case ActArmWatchdog:
		return "arm-watchdog"
	case ActDisarmWatchdog:
		return "disarm-watchdog"
	case ActResetLink:
		return "reset-link"
	case ActFail:
		return "fail"
	}
	return "unknown"
}

// Action is one side effect requested by the machine.
type Action struct {
	Kind      ActionKind
	Restart   bool
	SDP       string
	Candidate []byte
	Reason    string
}
