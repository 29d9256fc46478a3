package channel

// Sequencer hands out a sender's monotonic sequence numbers. It is owned by
// the session loop and needs no synchronization.
type Sequencer struct {
	n uint64
}

// Next returns the next sequence number, starting from 1.
func (s *Sequencer) Next() uint64 {
	s.n++
	return s.n
}

// SeqFilter drops stale or duplicate sequence numbers on the receive side.
// An input message applied after a newer one would silently regress control
// state, so only strictly newer frames pass regardless of the channel's
// delivery guarantees.
type SeqFilter struct {
	last uint64
	seen bool
}

// Fresh reports whether seq is newer than anything seen so far and records
// it.
func (f *SeqFilter) Fresh(seq uint64) bool {
	if f.seen && seq <= f.last {
		return false
	}
	f.seen = true
	f.last = seq
	return true
}

// Reset clears history at the start of a new negotiation epoch.
func (f *SeqFilter) Reset() {
	f.seen = false
	f.last = 0
}
