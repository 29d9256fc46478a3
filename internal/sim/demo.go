package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/softlock-games/tandem/internal/replication"
)

const (
	maxStep      = 0.1 // seconds; one advance never integrates more
	maxSpeed     = 40.0
	acceleration = 25.0
	turnRate     = 2.2
	droneOrbit   = 0.8 // rad/s
	tracerSpeed  = 120.0
	tracerLife   = 400 * time.Millisecond
	fireCooldown = 300 * time.Millisecond
	hitRange     = 150.0
	hitCone      = 0.12 // rad
)

// DemoSim is the built-in two-seat combat racer: the driver steers the
// car, the navigator works the turret against patrol drones. It exists so
// the session machinery has a real game to replicate; a GUI build swaps
// in its own Simulation.
//
// The host side is authoritative and advances the world when producing
// snapshots. The client side converges its copy onto received snapshots
// and extrapolates between them.
type DemoSim struct {
	mu sync.Mutex

	mode Mode
	role Role
	wait bool

	world  World
	synced bool

	driverIntent InputFrame
	navIntent    InputFrame
	autopilot    bool

	lastFire   time.Time
	last       time.Time
	lastSnapAt time.Time

	localTracers []Tracer

	clock func() time.Time
}

// NewDemoSim returns a fresh world in offline mode.
func NewDemoSim() *DemoSim {
	return &DemoSim{
		mode:      ModeOffline,
		role:      RoleDriver,
		autopilot: true,
		world:     newWorld(),
		synced:    true,
		clock:     time.Now,
	}
}

func newWorld() World {
	return World{
		Car: Car{X: 0, Y: 0, Heading: 0},
		Drones: []Drone{
			{ID: 1, CenterX: 120, CenterY: 80, Radius: 40, Phase: 0, HP: 2},
			{ID: 2, CenterX: -100, CenterY: 140, Radius: 60, Phase: 2.1, HP: 2},
			{ID: 3, CenterX: 40, CenterY: -160, Radius: 50, Phase: 4.2, HP: 2},
		},
	}
}

// SetMode selects how this simulation participates in a run.
func (s *DemoSim) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// SetRole assigns the local seat.
func (s *DemoSim) SetRole(role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
}

// SetWaitForPeer freezes or unfreezes the world. A frozen host keeps its
// clock current so unfreezing does not integrate the whole pause at once.
func (s *DemoSim) SetWaitForPeer(wait bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wait = wait
}

// SetLocalIntent overrides the built-in autopilot with caller-supplied
// intent, for interactive builds.
func (s *DemoSim) SetLocalIntent(frame InputFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autopilot = false
	s.storeIntent(Role(frame.Role), frame)
}

// SerializeInitialState captures the whole world for the handshake.
func (s *DemoSim) SerializeInitialState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := msgpack.Marshal(s.world)
	if err != nil {
		return nil, fmt.Errorf("serialize initial state: %w", err)
	}
	return blob, nil
}

// ApplyInitialState replaces the world with the host's opening state.
func (s *DemoSim) ApplyInitialState(blob []byte) error {
	var w World
	if err := msgpack.Unmarshal(blob, &w); err != nil {
		return fmt.Errorf("apply initial state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.world = w
	s.synced = true
	s.localTracers = nil
	return nil
}

// ProduceSnapshot advances the authoritative world and serializes all of
// it. Snapshots never reference a previous tick.
func (s *DemoSim) ProduceSnapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(s.clock())
	blob, err := msgpack.Marshal(s.world)
	if err != nil {
		return nil, fmt.Errorf("produce snapshot: %w", err)
	}
	return blob, nil
}

// ApplySnapshot converges the local copy onto the received state. Pose
// closes the gap fast; velocities trail slower so they do not snap.
func (s *DemoSim) ApplySnapshot(blob []byte) error {
	var target World
	if err := msgpack.Unmarshal(blob, &target); err != nil {
		return fmt.Errorf("apply snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.synced || target.Tick < s.world.Tick {
		// First contact, or the authority restarted its run.
		s.world = target
		s.synced = true
		s.lastSnapAt = s.clock()
		return nil
	}

	cur, tgt := &s.world.Car, target.Car
	cur.X = replication.StepToward(cur.X, tgt.X, replication.PoseSmoothing)
	cur.Y = replication.StepToward(cur.Y, tgt.Y, replication.PoseSmoothing)
	cur.Heading = replication.StepAngle(cur.Heading, tgt.Heading, replication.PoseSmoothing)
	cur.Turret = replication.StepAngle(cur.Turret, tgt.Turret, replication.PoseSmoothing)
	cur.Speed = replication.StepToward(cur.Speed, tgt.Speed, replication.SecondarySmoothing)
	cur.VX = replication.StepToward(cur.VX, tgt.VX, replication.SecondarySmoothing)
	cur.VY = replication.StepToward(cur.VY, tgt.VY, replication.SecondarySmoothing)

	s.world.Tick = target.Tick
	s.world.Score = target.Score
	s.world.Drones = target.Drones
	s.world.Tracers = target.Tracers
	s.lastSnapAt = s.clock()
	return nil
}

// ReadLocalInput samples the local seat's intent. Under autopilot the
// intent is synthesized from the current world.
func (s *DemoSim) ReadLocalInput() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var frame InputFrame
	if s.autopilot {
		frame = s.botIntent(s.role)
	} else if s.role == RoleDriver {
		frame = s.driverIntent
	} else {
		frame = s.navIntent
	}
	frame.Role = string(s.role)

	if s.role == RoleNavigator {
		s.attachShotOutcome(&frame)
	}
	s.storeIntent(s.role, frame)

	blob, err := msgpack.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("read local input: %w", err)
	}
	return blob, nil
}

// ApplyRemoteInput substitutes the remote seat's intent for local input on
// that seat only. Navigator-reported hits are trusted and land
// immediately; the navigator owns its own shot outcomes even though this
// side owns the world.
func (s *DemoSim) ApplyRemoteInput(role string, payload []byte) error {
	var frame InputFrame
	if err := msgpack.Unmarshal(payload, &frame); err != nil {
		return fmt.Errorf("apply remote input: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := Role(role)
	s.storeIntent(r, frame)
	if r == RoleNavigator {
		s.applyReportedHits(frame.Hits)
		s.world.Tracers = append(s.world.Tracers, frame.Tracers...)
	}
	return nil
}

// Step advances the world outside the replication path, for offline play.
func (s *DemoSim) Step(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(now)
}

// View returns a render copy: the world plus locally rendered tracers,
// with expired transients dropped and the car extrapolated to now.
func (s *DemoSim) View() World {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.world
	if s.mode == ModeClient && !s.lastSnapAt.IsZero() {
		elapsed := s.clock().Sub(s.lastSnapAt)
		w.Car.X = replication.Extrapolate(w.Car.X, w.Car.VX, elapsed)
		w.Car.Y = replication.Extrapolate(w.Car.Y, w.Car.VY, elapsed)
	}

	nowMilli := s.clock().UnixMilli()
	merged := make([]Tracer, 0, len(w.Tracers)+len(s.localTracers))
	for _, tr := range w.Tracers {
		if tr.Expiry > nowMilli {
			merged = append(merged, tr)
		}
	}
	for _, tr := range s.localTracers {
		if tr.Expiry > nowMilli {
			merged = append(merged, tr)
		}
	}
	w.Tracers = merged

	drones := make([]Drone, len(w.Drones))
	copy(drones, w.Drones)
	w.Drones = drones
	return w
}

func (s *DemoSim) storeIntent(role Role, frame InputFrame) {
	if role == RoleNavigator {
		s.navIntent = frame
	} else {
		s.driverIntent = frame
	}
}

// advance integrates the authoritative world up to now. Only the host (or
// an offline run) calls it.
func (s *DemoSim) advance(now time.Time) {
	if s.last.IsZero() {
		s.last = now
	}
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 {
		return
	}
	if dt > maxStep {
		dt = maxStep
	}
	if s.wait || s.mode == ModeClient {
		return
	}

	s.world.Tick++

	if s.autopilot {
		intent := s.botIntent(s.role)
		intent.Role = string(s.role)
		s.storeIntent(s.role, intent)
	}

	s.stepCar(dt)
	s.stepDrones(dt)
	s.stepTurret(now)
	s.expireTracers(now)
}

func (s *DemoSim) stepCar(dt float64) {
	in := s.driverIntent
	car := &s.world.Car

	target := clamp(in.Throttle, -0.5, 1) * maxSpeed
	if car.Speed < target {
		car.Speed = math.Min(car.Speed+acceleration*dt, target)
	} else {
		car.Speed = math.Max(car.Speed-acceleration*dt, target)
	}

	// Steering authority grows with speed, up to the full turn rate.
	car.Heading += clamp(in.Steer, -1, 1) * turnRate * dt * math.Min(math.Abs(car.Speed)/maxSpeed+0.2, 1)
	car.Heading = replication.NormalizeAngle(car.Heading)

	car.VX = math.Cos(car.Heading) * car.Speed
	car.VY = math.Sin(car.Heading) * car.Speed
	car.X += car.VX * dt
	car.Y += car.VY * dt
}

func (s *DemoSim) stepDrones(dt float64) {
	for i := range s.world.Drones {
		d := &s.world.Drones[i]
		d.Phase += droneOrbit * dt
		d.X = d.CenterX + d.Radius*math.Cos(d.Phase)
		d.Y = d.CenterY + d.Radius*math.Sin(d.Phase)
	}
}

// stepTurret applies navigator intent on the authority side. When the
// navigator seat is remote its hits arrive through ApplyRemoteInput
// instead.
func (s *DemoSim) stepTurret(now time.Time) {
	in := s.navIntent
	s.world.Car.Turret = replication.NormalizeAngle(in.Aim)

	navigatorIsLocal := s.role == RoleNavigator || s.mode == ModeOffline
	if !navigatorIsLocal || !in.Fire {
		return
	}
	if !s.lastFire.IsZero() && now.Sub(s.lastFire) < fireCooldown {
		return
	}
	s.lastFire = now
	s.world.Tracers = append(s.world.Tracers, s.spawnTracer(now))
	s.applyReportedHits(s.hitsUnderAim(in.Aim))
}

func (s *DemoSim) spawnTracer(now time.Time) Tracer {
	car := s.world.Car
	aim := s.world.Car.Turret
	return Tracer{
		X:      car.X,
		Y:      car.Y,
		VX:     math.Cos(aim) * tracerSpeed,
		VY:     math.Sin(aim) * tracerSpeed,
		Expiry: now.Add(tracerLife).UnixMilli(),
	}
}

// hitsUnderAim scores a shot: every live drone inside the aim cone and
// range is hit.
func (s *DemoSim) hitsUnderAim(aim float64) []int {
	car := s.world.Car
	var hits []int
	for _, d := range s.world.Drones {
		dx, dy := d.X-car.X, d.Y-car.Y
		if math.Hypot(dx, dy) > hitRange {
			continue
		}
		if math.Abs(replication.NormalizeAngle(math.Atan2(dy, dx)-aim)) <= hitCone {
			hits = append(hits, d.ID)
		}
	}
	return hits
}

func (s *DemoSim) applyReportedHits(hits []int) {
	for _, id := range hits {
		for i := range s.world.Drones {
			d := &s.world.Drones[i]
			if d.ID != id || d.HP <= 0 {
				continue
			}
			d.HP--
			if d.HP <= 0 {
				s.world.Score++
			}
			break
		}
	}
	live := s.world.Drones[:0]
	for _, d := range s.world.Drones {
		if d.HP > 0 {
			live = append(live, d)
		}
	}
	s.world.Drones = live
}

// attachShotOutcome runs the navigator's client-side shot model: the
// navigator decides what it hit and renders its own tracers, and the
// authority takes its word for it.
func (s *DemoSim) attachShotOutcome(frame *InputFrame) {
	if !frame.Fire {
		return
	}
	now := s.clock()
	if !s.lastFire.IsZero() && now.Sub(s.lastFire) < fireCooldown {
		frame.Fire = false
		return
	}
	s.lastFire = now
	tr := s.spawnTracer(now)
	s.localTracers = append(s.localTracers, tr)
	frame.Tracers = []Tracer{tr}
	frame.Hits = s.hitsUnderAim(frame.Aim)
}

func (s *DemoSim) expireTracers(now time.Time) {
	nowMilli := now.UnixMilli()
	live := s.world.Tracers[:0]
	for _, tr := range s.world.Tracers {
		if tr.Expiry > nowMilli {
			live = append(live, tr)
		}
	}
	s.world.Tracers = live
}

// botIntent synthesizes intent for a seat so a headless run still plays.
func (s *DemoSim) botIntent(role Role) InputFrame {
	if role == RoleNavigator {
		aim, found := s.nearestDroneBearing()
		return InputFrame{Aim: aim, Fire: found}
	}
	t := float64(s.clock().UnixMilli()) / 1000
	return InputFrame{
		Steer:    math.Sin(t * 0.7),
		Throttle: 0.8,
	}
}

func (s *DemoSim) nearestDroneBearing() (float64, bool) {
	car := s.world.Car
	best, bestDist := 0.0, math.MaxFloat64
	found := false
	for _, d := range s.world.Drones {
		dx, dy := d.X-car.X, d.Y-car.Y
		if dist := math.Hypot(dx, dy); dist < bestDist {
			best, bestDist = math.Atan2(dy, dx), dist
			found = true
		}
	}
	return best, found
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
