package replication

import "time"

// DefaultFreshnessWindow is how long the inbound side may stay quiet
// before the channel is considered stalled.
const DefaultFreshnessWindow = time.Second

// ChannelState describes whether replicated state is flowing on a link.
type ChannelState int

const (
	// ChannelOpen means the data channel is up but nothing has arrived yet.
	ChannelOpen ChannelState = iota
	// ChannelActive means inbound messages arrived within the freshness
	// window.
	ChannelActive
	// ChannelStalled means the inbound side has been quiet for longer than
	// the freshness window. A stalled channel is not closed; only the
	// negotiator's own failure detection does that.
	ChannelStalled
	// ChannelClosed means the link was torn down.
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelOpen:
		return "open"
	case ChannelActive:
		return "active"
	case ChannelStalled:
		return "stalled"
	case ChannelClosed:
		return "closed"
	}
	return "unknown"
}

// Freshness tracks inbound traffic recency for one link. It is owned by
// the session loop and needs no locking.
type Freshness struct {
	window time.Duration
	last   time.Time
	state  ChannelState
}

// NewFreshness returns a monitor in ChannelOpen.
func NewFreshness(window time.Duration) *Freshness {
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return &Freshness{window: window, state: ChannelOpen}
}

// Observe records one inbound message at now.
func (f *Freshness) Observe(now time.Time) {
	if f.state == ChannelClosed {
		return
	}
	f.last = now
	f.state = ChannelActive
}

// Check demotes an active channel to stalled when the window has passed
// without traffic, and returns the current state.
func (f *Freshness) Check(now time.Time) ChannelState {
	if f.state == ChannelActive && now.Sub(f.last) > f.window {
		f.state = ChannelStalled
	}
	return f.state
}

// Close marks the channel closed. Closed is terminal; a reconnected link
// gets a fresh monitor.
func (f *Freshness) Close() {
	f.state = ChannelClosed
}

// State returns the last computed state without re-evaluating the window.
func (f *Freshness) State() ChannelState {
	return f.state
}

// Last returns when remote traffic was last observed. Zero until the first
// message arrives.
func (f *Freshness) Last() time.Time {
	return f.last
}
