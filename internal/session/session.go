package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/softlock-games/tandem/internal/channel"
	"github.com/softlock-games/tandem/internal/config"
	"github.com/softlock-games/tandem/internal/peer"
	"github.com/softlock-games/tandem/internal/replication"
	"github.com/softlock-games/tandem/internal/signaling"
	"github.com/softlock-games/tandem/internal/sim"
	"github.com/softlock-games/tandem/internal/wire"
)

const (
	// maxHostAttempts bounds how many random codes a host tries before
	// giving up with NO_FREE_CODE.
	maxHostAttempts = 16

	initRetryEvery = time.Second
)

// Options assembles a session.
type Options struct {
	Config *config.Config
	Sim    sim.Simulation
	// Codes supplies room codes for hosting. Defaults to wire.RandomCode.
	Codes wire.CodeSource
	// HostRole is the seat the host keeps for itself. Defaults to driver.
	HostRole sim.Role
	Logger   zerolog.Logger
	// Loopback admits loopback ICE candidates so two sessions can pair
	// inside one process.
	Loopback bool
}

// Stats is a live snapshot of one session for display.
type Stats struct {
	PeerID    string
	RemoteID  string
	RoomCode  string
	Hosting   bool
	Role      string
	LinkState string
	Channel   replication.Stats
	RTT       time.Duration
	Restarts  int
	LastError string
}

// Session drives one seat of a run: rendezvous against the relay,
// peer negotiation, the application handshake and steady-state
// replication. One goroutine owns all mutable state; public methods hand
// work to it through a command channel and read published snapshots.
type Session struct {
	cfg      *config.Config
	sim      sim.Simulation
	codes    wire.CodeSource
	hostRole sim.Role
	loopback bool
	log      zerolog.Logger

	peerID string

	// Loop-owned state. Everything below is touched only by the run
	// goroutine once it starts.
	client     *signaling.Client
	negotiator *peer.Negotiator
	link       *peer.PeerLink
	linkGen    uint64
	engine     *replication.Engine
	seq        *channel.Sequencer
	events     chan peer.Event
	commands   chan func()

	hosting     bool
	roomCode    string
	role        sim.Role
	initialized bool
	readyWith   string
	linkOpen    bool
	sigDown     bool

	watchdog   *time.Timer
	tick       *time.Ticker
	freshCheck *time.Ticker
	initRetry  *time.Ticker

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	running bool
	view    Stats
	lastErr error
}

// New returns an idle session with a fresh peer id. The id survives
// reconnects so the relay can evict a stale registration in place.
func New(opts Options) *Session {
	codes := opts.Codes
	if codes == nil {
		codes = wire.RandomCode
	}
	hostRole := opts.HostRole
	if !hostRole.Valid() {
		hostRole = sim.RoleDriver
	}
	return &Session{
		cfg:      opts.Config,
		sim:      opts.Sim,
		codes:    codes,
		hostRole: hostRole,
		loopback: opts.Loopback,
		log:      opts.Logger.With().Str("component", "session").Logger(),
		peerID:   uuid.NewString(),
	}
}

// PeerID returns the stable peer identity of this session.
func (s *Session) PeerID() string {
	return s.peerID
}

// Host creates a room under a fresh random code and waits for a peer.
// Codes that collide with a live room are retried with new codes up to
// the attempt budget.
func (s *Session) Host(ctx context.Context) (string, error) {
	if err := s.ensureIdle("host"); err != nil {
		return "", err
	}
	for attempt := 0; attempt < maxHostAttempts; attempt++ {
		code := wire.NormalizeCode(s.codes())
		if err := wire.ValidateCode(code); err != nil {
			continue
		}
		cl, welcome, err := s.rendezvous(ctx, "host", code, true)
		if err != nil {
			if errors.Is(err, ErrRoomTaken) {
				s.log.Debug().Str("room", code).Int("attempt", attempt+1).Msg("code collision, retrying")
				continue
			}
			s.setErr(err)
			return "", err
		}
		s.begin(cl, welcome, code, true)
		return code, nil
	}
	err := &Error{Op: "host", Code: wire.CodeNoFreeCode, Err: ErrNoFreeCode}
	s.setErr(err)
	return "", err
}

// Join enters an existing room by code.
func (s *Session) Join(ctx context.Context, code string) error {
	if err := s.ensureIdle("join"); err != nil {
		return err
	}
	code = wire.NormalizeCode(code)
	if err := wire.ValidateCode(code); err != nil {
		err := &Error{Op: "join", Code: wire.CodeBadCode, Err: ErrBadCode}
		s.setErr(err)
		return err
	}
	cl, welcome, err := s.rendezvous(ctx, "join", code, false)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.begin(cl, welcome, code, false)
	return nil
}

// ReconnectHost re-enters the room this session last hosted. It first
// tries to resume the live room entry; if the room expired meanwhile it
// recreates it under the same code.
func (s *Session) ReconnectHost(ctx context.Context) error {
	code := s.lastCode()
	if code == "" {
		return &Error{Op: "reconnect", Err: errors.New("nothing to reconnect to")}
	}
	s.Disconnect()

	cl, welcome, err := s.rendezvous(ctx, "reconnect", code, false)
	if errors.Is(err, ErrRoomNotFound) {
		cl, welcome, err = s.rendezvous(ctx, "reconnect", code, true)
	}
	if err != nil {
		s.setErr(err)
		return err
	}
	s.begin(cl, welcome, code, true)
	return nil
}

// ReconnectClient re-joins the room this session last joined.
func (s *Session) ReconnectClient(ctx context.Context) error {
	code := s.lastCode()
	if code == "" {
		return &Error{Op: "reconnect", Err: errors.New("nothing to reconnect to")}
	}
	s.Disconnect()

	cl, welcome, err := s.rendezvous(ctx, "reconnect", code, false)
	if err != nil {
		s.setErr(err)
		return err
	}
	s.begin(cl, welcome, code, false)
	return nil
}

// Disconnect says goodbye over the data channel when it is open, then
// tears down the link, all timers and the signaling connection. The
// session keeps its room code and handshake memory for a reconnect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	ack := make(chan struct{})
	s.post(func() {
		s.sayGoodbye()
		close(ack)
	})
	select {
	case <-ack:
	case <-done:
	case <-time.After(time.Second):
	}

	cancel()
	<-done
}

// Stats returns the latest published snapshot.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// LastError returns the most recent failure, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Session) ensureIdle(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return &Error{Op: op, Err: errors.New("session already connected")}
	}
	return nil
}

func (s *Session) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.view.LastError = err.Error()
	s.mu.Unlock()
}

// post hands fn to the run loop; it is dropped if the loop is gone.
func (s *Session) post(fn func()) {
	s.mu.Lock()
	running, cmds, done := s.running, s.commands, s.done
	s.mu.Unlock()
	if !running {
		return
	}
	select {
	case cmds <- fn:
	case <-done:
	}
}

// rendezvous dials the relay and performs one join exchange. The
// connection is handed back only on a welcome; every failure closes it.
func (s *Session) rendezvous(ctx context.Context, op, code string, create bool) (*signaling.Client, *wire.Message, error) {
	cl := signaling.NewClient(s.cfg.WebSocketURL, s.log)
	if err := cl.Connect(); err != nil {
		return nil, nil, &Error{Op: op, Err: fmt.Errorf("signaling connect: %w", err)}
	}
	cl.SendMessage(&wire.Message{Type: wire.TypeJoin, Room: code, Peer: s.peerID, Create: create})

	for {
		select {
		case <-ctx.Done():
			cl.Close()
			return nil, nil, &Error{Op: op, Err: ctx.Err()}
		case msg, ok := <-cl.Incoming():
			if !ok {
				cl.Close()
				return nil, nil, &Error{Op: op, Err: fmt.Errorf("%w: relay closed the connection", ErrConnectionFailed)}
			}
			switch msg.Type {
			case wire.TypeWelcome:
				return cl, msg, nil
			case wire.TypeError:
				cl.Close()
				return nil, nil, &Error{Op: op, Code: msg.Code, Err: codeErr(msg.Code)}
			}
		}
	}
}

// begin wires up per-run state and starts the loop. Handshake memory
// (initialized, readyWith) deliberately survives so a reconnect into a
// live room can skip init/ready.
func (s *Session) begin(cl *signaling.Client, welcome *wire.Message, code string, hosting bool) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.running = true
	s.client = cl
	s.roomCode = code
	s.hosting = hosting
	s.negotiator = peer.NewNegotiator(s.peerID, s.log)
	s.seq = &channel.Sequencer{}
	s.events = make(chan peer.Event, 64)
	s.commands = make(chan func(), 16)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.lastErr = nil
	s.sigDown = false
	s.mu.Unlock()

	if hosting {
		s.role = s.hostRole
		s.sim.SetMode(sim.ModeHost)
		s.sim.SetRole(s.role)
		s.sim.SetWaitForPeer(true)
	} else {
		if !s.initialized {
			s.role = sim.Complement(s.hostRole)
		}
		s.sim.SetMode(sim.ModeClient)
		s.sim.SetRole(s.role)
	}

	s.log.Info().
		Str("room", code).
		Bool("hosting", hosting).
		Str("peer", s.peerID).
		Msg("rendezvous complete")

	go s.run(ctx, welcome)
}

func (s *Session) sayGoodbye() {
	if !s.linkOpen || s.link == nil {
		return
	}
	if err := s.sendChannel(channel.TypeBye, nil); err != nil {
		s.log.Debug().Err(err).Msg("goodbye not delivered")
	}
}
