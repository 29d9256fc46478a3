package peer

import "github.com/pion/webrtc/v4"

// CandidateBuffer holds remote ICE candidates that arrive before a remote
// description exists. Candidates are flushed exactly once, after the
// description is applied; a discarded buffer is never flushed. It is owned
// by the session loop and needs no locking.
type CandidateBuffer struct {
	held []webrtc.ICECandidateInit
}

// NewCandidateBuffer returns an empty buffer.
func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{}
}

// Hold queues a candidate for a later flush.
func (b *CandidateBuffer) Hold(c webrtc.ICECandidateInit) {
	b.held = append(b.held, c)
}

// Drain returns the held candidates and empties the buffer.
func (b *CandidateBuffer) Drain() []webrtc.ICECandidateInit {
	out := b.held
	b.held = nil
	return out
}

// Discard drops everything held without flushing.
func (b *CandidateBuffer) Discard() {
	b.held = nil
}

// Len reports how many candidates are waiting.
func (b *CandidateBuffer) Len() int {
	return len(b.held)
}
