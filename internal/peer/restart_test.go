package peer

import (
	"testing"
	"time"
)

func TestRestartPolicyBudget(t *testing.T) {
	p := NewRestartPolicy()
	t0 := time.Unix(1000, 0)

	if !p.Allow(t0) {
		t.Fatal("fresh policy should allow a restart")
	}
	p.Note(t0)
	if p.Exhausted() {
		t.Fatal("one attempt should not exhaust a budget of two")
	}

	p.Note(t0.Add(2 * time.Second))
	if !p.Exhausted() {
		t.Fatal("two attempts should exhaust the budget")
	}
	if p.Allow(t0.Add(time.Hour)) {
		t.Fatal("exhausted policy must not allow restarts, ever")
	}
}

func TestRestartPolicyPause(t *testing.T) {
	p := NewRestartPolicy()
	t0 := time.Unix(1000, 0)

	p.Note(t0)
	if p.Allow(t0.Add(100 * time.Millisecond)) {
		t.Fatal("restart allowed during the pause window")
	}
	if !p.Allow(t0.Add(p.Pause)) {
		t.Fatal("restart denied after the pause window")
	}
}

func TestRestartPolicyReset(t *testing.T) {
	p := NewRestartPolicy()
	t0 := time.Unix(1000, 0)
	p.Note(t0)
	p.Note(t0.Add(time.Minute))

	p.Reset()
	if p.Attempts != 0 {
		t.Fatalf("Attempts = %d after reset, want 0", p.Attempts)
	}
	if !p.Allow(t0) {
		t.Fatal("reset policy should allow restarts again")
	}
}
