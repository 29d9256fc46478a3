package sim

import (
	"math"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func steppedSim(mode Mode, role Role) (*DemoSim, time.Time) {
	s := NewDemoSim()
	s.SetMode(mode)
	s.SetRole(role)
	t0 := time.Unix(9000, 0)
	s.Step(t0) // primes the integration clock
	return s, t0
}

func TestDemoSimDriverAdvancesCar(t *testing.T) {
	s, t0 := steppedSim(ModeHost, RoleDriver)

	for i := 1; i <= 10; i++ {
		s.Step(t0.Add(time.Duration(i) * 100 * time.Millisecond))
	}

	w := s.View()
	if w.Tick != 10 {
		t.Fatalf("tick = %d after 10 steps, want 10", w.Tick)
	}
	if math.Hypot(w.Car.X, w.Car.Y) < 1 {
		t.Fatalf("car barely moved under throttle: (%v, %v)", w.Car.X, w.Car.Y)
	}
	if w.Car.Speed <= 0 {
		t.Fatalf("speed = %v, want positive", w.Car.Speed)
	}
}

func TestDemoSimFrozenWhileWaitingForPeer(t *testing.T) {
	s, t0 := steppedSim(ModeHost, RoleDriver)
	s.SetWaitForPeer(true)

	for i := 1; i <= 10; i++ {
		s.Step(t0.Add(time.Duration(i) * time.Second))
	}
	if w := s.View(); w.Tick != 0 || w.Car.X != 0 {
		t.Fatalf("frozen world advanced: tick=%d x=%v", w.Tick, w.Car.X)
	}

	// Unfreezing must not integrate the whole pause at once.
	s.SetWaitForPeer(false)
	s.Step(t0.Add(10*time.Second + 33*time.Millisecond))
	if w := s.View(); math.Abs(w.Car.X) > 1 {
		t.Fatalf("car teleported on unfreeze: x=%v", w.Car.X)
	}
}

func TestDemoSimClientNeverAdvancesWorld(t *testing.T) {
	s, t0 := steppedSim(ModeClient, RoleNavigator)
	s.Step(t0.Add(time.Second))

	if w := s.View(); w.Tick != 0 {
		t.Fatalf("client-side world self-advanced to tick %d", w.Tick)
	}
}

func TestDemoSimInitialStateRoundTrip(t *testing.T) {
	host, t0 := steppedSim(ModeHost, RoleDriver)
	for i := 1; i <= 5; i++ {
		host.Step(t0.Add(time.Duration(i) * 100 * time.Millisecond))
	}

	blob, err := host.SerializeInitialState()
	if err != nil {
		t.Fatalf("SerializeInitialState: %v", err)
	}

	client := NewDemoSim()
	client.SetMode(ModeClient)
	if err := client.ApplyInitialState(blob); err != nil {
		t.Fatalf("ApplyInitialState: %v", err)
	}

	hw, cw := host.View(), client.View()
	if cw.Tick != hw.Tick || cw.Car.X != hw.Car.X || len(cw.Drones) != len(hw.Drones) {
		t.Fatalf("client world diverges after init: host=%+v client=%+v", hw.Car, cw.Car)
	}

	if err := client.ApplyInitialState([]byte("not msgpack")); err == nil {
		t.Fatal("garbage init blob accepted")
	}
}

func TestDemoSimSnapshotSmoothingConverges(t *testing.T) {
	host, t0 := steppedSim(ModeHost, RoleDriver)
	host.clock = func() time.Time { return t0.Add(100 * time.Millisecond) }

	first, err := host.ProduceSnapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	client := NewDemoSim()
	client.SetMode(ModeClient)
	client.clock = func() time.Time { return t0 }
	if err := client.ApplySnapshot(first); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}

	for i := 2; i <= 30; i++ {
		host.Step(t0.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	host.clock = func() time.Time { return t0.Add(3100 * time.Millisecond) }
	target, err := host.ProduceSnapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	var want World
	if err := msgpack.Unmarshal(target, &want); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}

	gap := func() float64 {
		w := client.View()
		return math.Hypot(w.Car.X-want.Car.X, w.Car.Y-want.Car.Y)
	}

	before := gap()
	if err := client.ApplySnapshot(target); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	after := gap()
	if after >= before {
		t.Fatalf("one application did not close the gap: %v -> %v", before, after)
	}

	for i := 0; i < 25; i++ {
		if err := client.ApplySnapshot(target); err != nil {
			t.Fatalf("ApplySnapshot: %v", err)
		}
	}
	if g := gap(); g > 0.5 {
		t.Fatalf("gap = %v after repeated application, want under 0.5", g)
	}
}

func TestDemoSimTrustsNavigatorHits(t *testing.T) {
	s, _ := steppedSim(ModeHost, RoleDriver)

	frame := InputFrame{Role: string(RoleNavigator), Hits: []int{1, 1}}
	payload, err := msgpack.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	if err := s.ApplyRemoteInput(string(RoleNavigator), payload); err != nil {
		t.Fatalf("ApplyRemoteInput: %v", err)
	}

	w := s.View()
	if len(w.Drones) != 2 {
		t.Fatalf("drones = %d after two reported hits on drone 1, want 2", len(w.Drones))
	}
	if w.Score != 1 {
		t.Fatalf("score = %d, want 1", w.Score)
	}
}

func TestDemoSimRemoteDriverControlsCar(t *testing.T) {
	s, t0 := steppedSim(ModeHost, RoleNavigator)
	s.SetLocalIntent(InputFrame{Role: string(RoleNavigator)}) // autopilot off

	frame := InputFrame{Role: string(RoleDriver), Throttle: 1}
	payload, err := msgpack.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal input: %v", err)
	}
	if err := s.ApplyRemoteInput(string(RoleDriver), payload); err != nil {
		t.Fatalf("ApplyRemoteInput: %v", err)
	}

	for i := 1; i <= 10; i++ {
		s.Step(t0.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	if w := s.View(); w.Car.Speed <= 0 {
		t.Fatalf("remote throttle ignored, speed = %v", w.Car.Speed)
	}
}

func TestDemoSimNavigatorAutopilotScores(t *testing.T) {
	s, t0 := steppedSim(ModeHost, RoleNavigator)

	for i := 1; i <= 100; i++ {
		s.Step(t0.Add(time.Duration(i) * 100 * time.Millisecond))
	}
	if w := s.View(); w.Score < 1 {
		t.Fatalf("score = %d after 10s of autopilot fire, want at least 1", w.Score)
	}
}

func TestDemoSimTracersExpire(t *testing.T) {
	s, t0 := steppedSim(ModeHost, RoleNavigator)

	s.Step(t0.Add(100 * time.Millisecond)) // autopilot fires once
	s.SetLocalIntent(InputFrame{Role: string(RoleNavigator)})

	s.clock = func() time.Time { return t0.Add(200 * time.Millisecond) }
	if n := len(s.View().Tracers); n != 1 {
		t.Fatalf("tracers = %d right after firing, want 1", n)
	}

	s.clock = func() time.Time { return t0.Add(600 * time.Millisecond) }
	if n := len(s.View().Tracers); n != 0 {
		t.Fatalf("tracers = %d past their lifetime, want 0", n)
	}

	s.Step(t0.Add(700 * time.Millisecond))
	if n := len(s.world.Tracers); n != 0 {
		t.Fatalf("authoritative world kept %d expired tracers", n)
	}
}
