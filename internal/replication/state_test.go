package replication

import (
	"testing"
	"time"
)

func TestFreshnessLifecycle(t *testing.T) {
	t0 := time.Unix(9000, 0)
	f := NewFreshness(time.Second)

	if f.State() != ChannelOpen {
		t.Fatalf("state = %v before traffic, want open", f.State())
	}
	if got := f.Check(t0.Add(time.Hour)); got != ChannelOpen {
		t.Fatalf("quiet pre-traffic channel = %v, want open", got)
	}

	f.Observe(t0)
	if f.State() != ChannelActive {
		t.Fatalf("state = %v after traffic, want active", f.State())
	}
	if got := f.Check(t0.Add(500 * time.Millisecond)); got != ChannelActive {
		t.Fatalf("state = %v inside window, want active", got)
	}
	if got := f.Check(t0.Add(1500 * time.Millisecond)); got != ChannelStalled {
		t.Fatalf("state = %v past window, want stalled", got)
	}

	// Traffic resuming revives a stalled channel.
	f.Observe(t0.Add(2 * time.Second))
	if f.State() != ChannelActive {
		t.Fatalf("state = %v after recovery, want active", f.State())
	}
}

func TestFreshnessClosedIsTerminal(t *testing.T) {
	f := NewFreshness(time.Second)
	f.Observe(time.Unix(9000, 0))
	f.Close()

	f.Observe(time.Unix(9001, 0))
	if f.State() != ChannelClosed {
		t.Fatalf("state = %v after observe on closed channel, want closed", f.State())
	}
	if got := f.Check(time.Unix(9002, 0)); got != ChannelClosed {
		t.Fatalf("Check = %v on closed channel, want closed", got)
	}
}
