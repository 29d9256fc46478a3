package wire

import "encoding/json"

// Message is the envelope for every frame exchanged with the rendezvous
// relay, in both directions. Fields are populated according to Type and
// omitted from the wire when empty.
type Message struct {
	Type string `json:"type"`

	// join / welcome
	Room   string   `json:"room,omitempty"`
	Peer   string   `json:"peer,omitempty"`
	Create bool     `json:"create,omitempty"`
	Peers  []string `json:"peers,omitempty"`

	// signaling relay (offer, answer, ice, restart-ice)
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Reason    string          `json:"reason,omitempty"`

	// error
	Code string `json:"code,omitempty"`

	// ping / pong, unix milliseconds
	T    int64 `json:"t,omitempty"`
	Echo int64 `json:"echo,omitempty"`
}

// Message type constants.
const (
	TypeJoin       = "join"
	TypeWelcome    = "welcome"
	TypePeerJoined = "peer-joined"
	TypePeerLeft   = "peer-left"
	TypeOffer      = "offer"
	TypeAnswer     = "answer"
	TypeICE        = "ice"
	TypeRestartICE = "restart-ice"
	TypeError      = "error"
	TypePing       = "ping"
	TypePong       = "pong"
)

// Error codes carried in error messages.
const (
	CodeRoomNotFound = "ROOM_NOT_FOUND"
	CodeRoomTaken    = "ROOM_TAKEN"
	CodeNoSuchPeer   = "NO_SUCH_PEER"
	CodeBadCode      = "BAD_CODE"
	CodeNoFreeCode   = "NO_FREE_CODE"
)

// Websocket close codes for conditions that terminate the connection.
// Oversized messages use the standard 1009 (message too big).
const (
	CloseRoomNotFound = 4001
	CloseRoomTaken    = 4002
	CloseReplaced     = 4003
	ClosePruned       = 4004
)
