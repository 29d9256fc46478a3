package sim

// Role is a seat in the two-player game. The driver owns the car controls;
// the navigator owns the turret.
type Role string

const (
	RoleDriver    Role = "driver"
	RoleNavigator Role = "navigator"
)

// Valid reports whether r names a known seat.
func (r Role) Valid() bool {
	return r == RoleDriver || r == RoleNavigator
}

// Complement returns the seat opposite r.
func Complement(r Role) Role {
	if r == RoleDriver {
		return RoleNavigator
	}
	return RoleDriver
}

// Mode is how a simulation participates in a run.
type Mode string

const (
	ModeOffline Mode = "offline"
	ModeHost    Mode = "host"
	ModeClient  Mode = "client"
)

// Simulation is the game the session drives. The host side is
// authoritative for world state and produces snapshots; the client side
// applies them and produces role-tagged input. All calls arrive from one
// goroutine at a time.
type Simulation interface {
	SerializeInitialState() ([]byte, error)
	ApplyInitialState(blob []byte) error

	ProduceSnapshot() ([]byte, error)
	ApplySnapshot(blob []byte) error

	ReadLocalInput() ([]byte, error)
	ApplyRemoteInput(role string, payload []byte) error

	SetMode(mode Mode)
	SetWaitForPeer(wait bool)
	SetRole(role Role)
}
