package peer

import "time"

const (
	defaultMaxRestarts  = 2
	defaultRestartPause = time.Second
)

// RestartPolicy bounds automatic ICE restarts within one negotiation
// epoch. An epoch begins when a remote peer is paired and ends when the
// pairing is torn down; the counter never resets mid-epoch.
type RestartPolicy struct {
	Attempts    int
	MaxAttempts int
	NextAllowed time.Time
	Pause       time.Duration
}

// NewRestartPolicy returns the default policy.
func NewRestartPolicy() RestartPolicy {
	return RestartPolicy{MaxAttempts: defaultMaxRestarts, Pause: defaultRestartPause}
}

// Exhausted reports whether the attempt budget is spent.
func (p *RestartPolicy) Exhausted() bool {
	return p.Attempts >= p.MaxAttempts
}

// Allow reports whether another automatic restart may begin at now.
func (p *RestartPolicy) Allow(now time.Time) bool {
	return !p.Exhausted() && !now.Before(p.NextAllowed)
}

// Note records a restart attempt started at now.
func (p *RestartPolicy) Note(now time.Time) {
	p.Attempts++
	p.NextAllowed = now.Add(p.Pause)
}

// Reset starts a fresh epoch.
func (p *RestartPolicy) Reset() {
	p.Attempts = 0
	p.NextAllowed = time.Time{}
}
