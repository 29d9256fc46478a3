package channel

import (
	"fmt"

	"github.com/klauspost/compress/s2"
	"github.com/vmihailenco/msgpack/v5"
)

// ProtocolVersion is carried in init so mismatched builds fail loudly
// instead of desyncing quietly.
const ProtocolVersion = 1

// maxPayload bounds a decoded payload so a misbehaving peer cannot balloon
// memory.
const maxPayload = 1 << 20

// compressAbove is the state blob size beyond which snapshots are
// s2-compressed.
const compressAbove = 1024

// Message represents all data channel messages. Seq is a per-sender
// monotonic counter; the channel may run unordered, so receivers use it to
// discard stale frames.
type Message struct {
	Type    string             `msgpack:"type"`
	Seq     uint64             `msgpack:"seq"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Message type constants.
const (
	TypeInit     = "init"
	TypeReady    = "ready"
	TypeSnapshot = "snapshot"
	TypeInput    = "input"
	TypeBye      = "bye"
)

// InitPayload carries the host's initial world state and its role choice.
type InitPayload struct {
	ProtocolVersion int    `msgpack:"protocolVersion"`
	HostRole        string `msgpack:"hostRole"`
	State           []byte `msgpack:"state"`
}

// ReadyPayload acknowledges a successfully applied init.
type ReadyPayload struct{}

// SnapshotPayload carries one full, self-contained world state
// serialization.
type SnapshotPayload struct {
	Tick       uint64 `msgpack:"tick"`
	SentAt     int64  `msgpack:"sentAt"`
	State      []byte `msgpack:"state"`
	Compressed bool   `msgpack:"compressed"`
}

// InputPayload carries one role-tagged intent sample.
type InputPayload struct {
	Role   string `msgpack:"role"`
	SentAt int64  `msgpack:"sentAt"`
	Data   []byte `msgpack:"data"`
}

// NewMessage creates a new Message with the given type, sequence number and
// payload.
func NewMessage(t string, seq uint64, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Seq: seq, Payload: b}, nil
}

// DecodePayload decodes the message payload into the provided struct.
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// Encode serializes a message for the data channel.
func Encode(m Message) ([]byte, error) {
	return msgpack.Marshal(m)
}

// Decode parses a data channel frame and enforces the payload bound.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if len(m.Payload) > maxPayload {
		return Message{}, fmt.Errorf("payload size %d exceeds limit", len(m.Payload))
	}
	return m, nil
}

// PackSnapshotState compresses a state blob when it is large enough to be
// worth it. The returned flag goes into SnapshotPayload.Compressed.
func PackSnapshotState(state []byte) ([]byte, bool) {
	if len(state) <= compressAbove {
		return state, false
	}
	return s2.Encode(nil, state), true
}

// UnpackSnapshotState transparently undoes PackSnapshotState.
func UnpackSnapshotState(p *SnapshotPayload) ([]byte, error) {
	if !p.Compressed {
		return p.State, nil
	}
	n, err := s2.DecodedLen(p.State)
	if err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}
	if n > maxPayload {
		return nil, fmt.Errorf("snapshot state: decompressed size %d exceeds limit", n)
	}
	return s2.Decode(nil, p.State)
}
