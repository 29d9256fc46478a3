package sim

// World is the full authoritative state of one run. Snapshots carry it
// whole; there are no deltas to reconcile.
type World struct {
	Tick    uint64   `msgpack:"tick"`
	Car     Car      `msgpack:"car"`
	Drones  []Drone  `msgpack:"drones"`
	Tracers []Tracer `msgpack:"tracers"`
	Score   int      `msgpack:"score"`
}

// Car is the shared vehicle. The driver steers it; the navigator's turret
// rides on top.
type Car struct {
	X       float64 `msgpack:"x"`
	Y       float64 `msgpack:"y"`
	Heading float64 `msgpack:"heading"`
	Speed   float64 `msgpack:"speed"`
	VX      float64 `msgpack:"vx"`
	VY      float64 `msgpack:"vy"`
	Turret  float64 `msgpack:"turret"`
}

// Drone is a patrol target orbiting a fixed point.
type Drone struct {
	ID      int     `msgpack:"id"`
	X       float64 `msgpack:"x"`
	Y       float64 `msgpack:"y"`
	CenterX float64 `msgpack:"cx"`
	CenterY float64 `msgpack:"cy"`
	Radius  float64 `msgpack:"radius"`
	Phase   float64 `msgpack:"phase"`
	HP      int     `msgpack:"hp"`
}

// Tracer is a transient projectile streak. Expired tracers are dropped
// locally on whichever side holds them.
type Tracer struct {
	X      float64 `msgpack:"x"`
	Y      float64 `msgpack:"y"`
	VX     float64 `msgpack:"vx"`
	VY     float64 `msgpack:"vy"`
	Expiry int64   `msgpack:"expiry"`
}

// InputFrame is one seat's intent sample. The driver fills the control
// axes; the navigator fills aim, trigger and its self-reported shot
// outcomes.
type InputFrame struct {
	Role     string   `msgpack:"role"`
	Steer    float64  `msgpack:"steer"`
	Throttle float64  `msgpack:"throttle"`
	Aim      float64  `msgpack:"aim"`
	Fire     bool     `msgpack:"fire"`
	Hits     []int    `msgpack:"hits"`
	Tracers  []Tracer `msgpack:"tracers"`
}
