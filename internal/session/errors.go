package session

import (
	"errors"
	"fmt"

	"github.com/softlock-games/tandem/internal/wire"
)

// Sentinel errors surfaced by session operations. Rendezvous failures are
// synchronous and recoverable with a new code or corrected input;
// ErrConnectionFailed means the automatic restart budget ran out and only
// an explicit reconnect will help.
var (
	ErrBadCode          = errors.New("malformed room code")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomTaken        = errors.New("room already taken")
	ErrNoFreeCode       = errors.New("no free room code")
	ErrNoSuchPeer       = errors.New("no such peer")
	ErrConnectionFailed = errors.New("connection failed")
	ErrClosed           = errors.New("session closed")
	ErrBadPayload       = errors.New("bad payload")
	ErrVersionMismatch  = errors.New("protocol version mismatch")
)

// Error wraps a session failure with the operation that produced it and,
// when the relay named one, the wire error code.
type Error struct {
	Op   string
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// codeErr maps a relay error code onto its sentinel.
func codeErr(code string) error {
	switch code {
	case wire.CodeBadCode:
		return ErrBadCode
	case wire.CodeRoomNotFound:
		return ErrRoomNotFound
	case wire.CodeRoomTaken:
		return ErrRoomTaken
	case wire.CodeNoFreeCode:
		return ErrNoFreeCode
	case wire.CodeNoSuchPeer:
		return ErrNoSuchPeer
	}
	return fmt.Errorf("relay error %s", code)
}
