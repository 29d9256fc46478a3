package peer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func kindsOf(actions []Action) []ActionKind {
	out := make([]ActionKind, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Kind)
	}
	return out
}

func wantKinds(t *testing.T, actions []Action, want ...ActionKind) {
	t.Helper()
	got := kindsOf(actions)
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("actions = %v, want %v", got, want)
		}
	}
}

func wantState(t *testing.T, n *Negotiator, want State) {
	t.Helper()
	if n.State() != want {
		t.Fatalf("state = %v, want %v", n.State(), want)
	}
}

// openedOfferer drives a fresh offering negotiator to StateOpen.
func openedOfferer(t *testing.T) *Negotiator {
	t.Helper()
	n := NewNegotiator("alpha", zerolog.Nop())
	n.Step(Event{Kind: EvPeerPresent, PeerID: "beta"})
	n.Step(Event{Kind: EvAnswerReceived, SDP: "v=0 answer"})
	n.Step(Event{Kind: EvChannelOpen})
	wantState(t, n, StateOpen)
	return n
}

func TestOffererTotalOrder(t *testing.T) {
	pairs := [][2]string{
		{"alpha", "beta"},
		{"1111", "2222"},
		{"aaaa-bbbb", "aaaa-cccc"},
	}
	for _, p := range pairs {
		if Offerer(p[0], p[1]) == Offerer(p[1], p[0]) {
			t.Fatalf("Offerer(%q, %q) and the reverse agree; exactly one side must offer", p[0], p[1])
		}
		if !Offerer(p[0], p[1]) {
			t.Fatalf("Offerer(%q, %q) = false, want the smaller id to offer", p[0], p[1])
		}
	}
}

func TestNegotiatorOffererHappyPath(t *testing.T) {
	n := NewNegotiator("alpha", zerolog.Nop())

	acts := n.Step(Event{Kind: EvPeerPresent, PeerID: "beta"})
	wantKinds(t, acts, ActMakeOffer, ActArmWatchdog)
	wantState(t, n, StateNegotiating)
	if !n.Offerer() {
		t.Fatal("alpha should offer toward beta")
	}
	if acts[0].Restart {
		t.Fatal("first offer must not be an ICE restart")
	}

	acts = n.Step(Event{Kind: EvAnswerReceived, SDP: "v=0 answer"})
	wantKinds(t, acts, ActApplyAnswer)
	if acts[0].SDP != "v=0 answer" {
		t.Fatalf("ApplyAnswer SDP = %q, want the received answer", acts[0].SDP)
	}
	wantState(t, n, StateConnecting)

	acts = n.Step(Event{Kind: EvChannelOpen})
	wantKinds(t, acts, ActDisarmWatchdog)
	wantState(t, n, StateOpen)
}

func TestNegotiatorAnswererHappyPath(t *testing.T) {
	n := NewNegotiator("zulu", zerolog.Nop())

	acts := n.Step(Event{Kind: EvPeerPresent, PeerID: "alpha"})
	wantKinds(t, acts, ActArmWatchdog)
	if n.Offerer() {
		t.Fatal("zulu should answer toward alpha")
	}

	acts = n.Step(Event{Kind: EvOfferReceived, SDP: "v=0 offer"})
	wantKinds(t, acts, ActMakeAnswer)
	if acts[0].SDP != "v=0 offer" {
		t.Fatalf("MakeAnswer SDP = %q, want the received offer", acts[0].SDP)
	}
	wantState(t, n, StateConnecting)

	acts = n.Step(Event{Kind: EvChannelOpen})
	wantKinds(t, acts, ActDisarmWatchdog)
	wantState(t, n, StateOpen)
}

func TestNegotiatorCandidateGating(t *testing.T) {
	n := NewNegotiator("alpha", zerolog.Nop())

	if acts := n.Step(Event{Kind: EvCandidateReceived, Candidate: []byte("{}")}); len(acts) != 0 {
		t.Fatalf("candidate before pairing produced %v, want nothing", kindsOf(acts))
	}

	n.Step(Event{Kind: EvPeerPresent, PeerID: "beta"})
	acts := n.Step(Event{Kind: EvCandidateReceived, Candidate: []byte(`{"candidate":"c"}`)})
	wantKinds(t, acts, ActAddCandidate)
	if string(acts[0].Candidate) != `{"candidate":"c"}` {
		t.Fatalf("AddCandidate payload = %s", acts[0].Candidate)
	}
}

func TestNegotiatorWatchdogTriggersSingleRestart(t *testing.T) {
	n := openedOfferer(t)
	t0 := time.Unix(5000, 0)

	acts := n.Step(Event{Kind: EvTransportFailed, Reason: "ice failed", At: t0})
	wantKinds(t, acts, ActMakeOffer, ActArmWatchdog)
	if !acts[0].Restart {
		t.Fatal("recovery offer must carry ICE restart")
	}
	wantState(t, n, StateNegotiating)
	if n.Restarts() != 1 {
		t.Fatalf("Restarts = %d, want 1", n.Restarts())
	}
}

func TestNegotiatorRestartPauseSwallowsRepeatFailures(t *testing.T) {
	n := openedOfferer(t)
	t0 := time.Unix(5000, 0)

	n.Step(Event{Kind: EvTransportFailed, Reason: "ice failed", At: t0})
	acts := n.Step(Event{Kind: EvTransportFailed, Reason: "ice failed", At: t0.Add(100 * time.Millisecond)})
	if len(acts) != 0 {
		t.Fatalf("failure inside the pause window produced %v, want nothing", kindsOf(acts))
	}
	if n.Restarts() != 1 {
		t.Fatalf("Restarts = %d, want 1", n.Restarts())
	}
}

func TestNegotiatorRestartBudgetExhaustion(t *testing.T) {
	n := openedOfferer(t)
	t0 := time.Unix(5000, 0)

	n.Step(Event{Kind: EvWatchdogFired, At: t0})
	n.Step(Event{Kind: EvWatchdogFired, At: t0.Add(10 * time.Second)})
	if n.Restarts() != 2 {
		t.Fatalf("Restarts = %d, want 2", n.Restarts())
	}

	acts := n.Step(Event{Kind: EvWatchdogFired, At: t0.Add(20 * time.Second)})
	wantKinds(t, acts, ActDisarmWatchdog, ActFail)
	wantState(t, n, StateFailed)

	// Failed is terminal for automatic recovery.
	if acts := n.Step(Event{Kind: EvTransportFailed, At: t0.Add(30 * time.Second)}); len(acts) != 0 {
		t.Fatalf("failed state still produced %v", kindsOf(acts))
	}
}

func TestNegotiatorAnswererRequestsRestart(t *testing.T) {
	n := NewNegotiator("zulu", zerolog.Nop())
	n.Step(Event{Kind: EvPeerPresent, PeerID: "alpha"})
	n.Step(Event{Kind: EvOfferReceived, SDP: "v=0 offer"})
	n.Step(Event{Kind: EvChannelOpen})
	wantState(t, n, StateOpen)

	t0 := time.Unix(5000, 0)
	acts := n.Step(Event{Kind: EvTransportFailed, Reason: "ice failed", At: t0})
	wantKinds(t, acts, ActRequestRestart, ActArmWatchdog)
	wantState(t, n, StateConnecting)

	// The offerer answers the request with a restart offer.
	acts = n.Step(Event{Kind: EvOfferReceived, SDP: "v=0 restart offer", At: t0.Add(time.Second)})
	wantKinds(t, acts, ActMakeAnswer, ActArmWatchdog)

	// The channel survived the restart, so a recovered transport is the
	// completion signal.
	acts = n.Step(Event{Kind: EvICEConnected, At: t0.Add(2 * time.Second)})
	wantKinds(t, acts, ActDisarmWatchdog)
	wantState(t, n, StateOpen)
}

func TestNegotiatorOffererHonorsRestartRequest(t *testing.T) {
	n := openedOfferer(t)
	t0 := time.Unix(5000, 0)

	acts := n.Step(Event{Kind: EvRestartRequested, Reason: "ice failed", At: t0})
	wantKinds(t, acts, ActMakeOffer, ActArmWatchdog)
	if !acts[0].Restart {
		t.Fatal("restart request must produce an ICE restart offer")
	}

	// A second request while the restart is already in flight is noise.
	if acts := n.Step(Event{Kind: EvRestartRequested, At: t0.Add(time.Second)}); len(acts) != 0 {
		t.Fatalf("in-flight restart still produced %v", kindsOf(acts))
	}
}

func TestNegotiatorICEConnectedAloneDoesNotOpen(t *testing.T) {
	n := NewNegotiator("alpha", zerolog.Nop())
	n.Step(Event{Kind: EvPeerPresent, PeerID: "beta"})
	n.Step(Event{Kind: EvAnswerReceived, SDP: "v=0 answer"})
	wantState(t, n, StateConnecting)

	// On first connect the data channel has not opened yet; ICE coming up
	// is necessary but not sufficient.
	if acts := n.Step(Event{Kind: EvICEConnected}); len(acts) != 0 {
		t.Fatalf("ICE connected before channel open produced %v", kindsOf(acts))
	}
	wantState(t, n, StateConnecting)
}

func TestNegotiatorPeerGoneResetsEpoch(t *testing.T) {
	n := openedOfferer(t)
	n.Step(Event{Kind: EvTransportFailed, At: time.Unix(5000, 0)})
	if n.Restarts() != 1 {
		t.Fatalf("Restarts = %d, want 1", n.Restarts())
	}

	acts := n.Step(Event{Kind: EvPeerGone})
	wantKinds(t, acts, ActDisarmWatchdog, ActResetLink)
	wantState(t, n, StateIdle)
	if n.Remote() != "" {
		t.Fatalf("Remote = %q after peer left, want empty", n.Remote())
	}

	// A fresh pairing starts with a full restart budget.
	n.Step(Event{Kind: EvPeerPresent, PeerID: "beta"})
	if n.Restarts() != 0 {
		t.Fatalf("Restarts = %d in fresh epoch, want 0", n.Restarts())
	}
}

func TestNegotiatorRepresentedPeerStartsFreshEpoch(t *testing.T) {
	n := openedOfferer(t)

	// The same peer re-announcing itself means it rebuilt its end; the
	// current link must be replaced, not patched.
	acts := n.Step(Event{Kind: EvPeerPresent, PeerID: "beta"})
	wantKinds(t, acts, ActResetLink, ActMakeOffer, ActArmWatchdog)
	wantState(t, n, StateNegotiating)
	if n.Restarts() != 0 {
		t.Fatalf("Restarts = %d in fresh epoch, want 0", n.Restarts())
	}
}

func TestNegotiatorFailedRecoversOnNewPairing(t *testing.T) {
	n := openedOfferer(t)
	t0 := time.Unix(5000, 0)
	n.Step(Event{Kind: EvWatchdogFired, At: t0})
	n.Step(Event{Kind: EvWatchdogFired, At: t0.Add(10 * time.Second)})
	n.Step(Event{Kind: EvWatchdogFired, At: t0.Add(20 * time.Second)})
	wantState(t, n, StateFailed)

	acts := n.Step(Event{Kind: EvPeerPresent, PeerID: "beta"})
	wantKinds(t, acts, ActResetLink, ActMakeOffer, ActArmWatchdog)
	wantState(t, n, StateNegotiating)
}

func TestNegotiatorTeardownIsTerminal(t *testing.T) {
	n := openedOfferer(t)

	acts := n.Step(Event{Kind: EvTeardown})
	wantKinds(t, acts, ActDisarmWatchdog, ActResetLink)
	wantState(t, n, StateClosed)

	if acts := n.Step(Event{Kind: EvPeerPresent, PeerID: "beta"}); len(acts) != 0 {
		t.Fatalf("closed machine still produced %v", kindsOf(acts))
	}
}
