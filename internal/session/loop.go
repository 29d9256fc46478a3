package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/softlock-games/tandem/internal/channel"
	"github.com/softlock-games/tandem/internal/peer"
	"github.com/softlock-games/tandem/internal/replication"
	"github.com/softlock-games/tandem/internal/sim"
	"github.com/softlock-games/tandem/internal/wire"
)

// run is the session's single event loop. Signaling traffic, link
// callbacks, timers and posted commands are all serialized here, so the
// state it owns needs no locks.
func (s *Session) run(ctx context.Context, welcome *wire.Message) {
	defer close(s.done)
	defer s.cleanup()

	incoming := s.client.Incoming()

	// The relay pinger's first tick is seconds out; one early ping seeds
	// the RTT estimate.
	s.client.SendMessage(&wire.Message{Type: wire.TypePing, T: time.Now().UnixMilli()})

	for _, id := range welcome.Peers {
		s.dispatch(peer.Event{Kind: peer.EvPeerPresent, PeerID: id})
	}
	s.publish()

	for {
		var tickC, freshC, initC, dogC <-chan time.Time
		if s.tick != nil {
			tickC = s.tick.C
		}
		if s.freshCheck != nil {
			freshC = s.freshCheck.C
		}
		if s.initRetry != nil {
			initC = s.initRetry.C
		}
		if s.watchdog != nil {
			dogC = s.watchdog.C
		}

		select {
		case <-ctx.Done():
			return

		case msg, ok := <-incoming:
			if !ok {
				// The relay is gone. Steady-state play continues on the
				// data channel; only a future renegotiation will miss it.
				incoming = nil
				s.sigDown = true
				s.log.Warn().Int("close_code", s.client.CloseCode()).Msg("signaling link down")
				break
			}
			s.onWire(msg)

		case ev := <-s.events:
			if ev.Link != 0 && ev.Link != s.linkGen {
				break
			}
			s.dispatch(ev)

		case fn := <-s.commands:
			fn()

		case now := <-tickC:
			if s.engine != nil {
				if err := s.engine.Tick(now); err != nil && !errors.Is(err, peer.ErrChannelNotOpen) {
					s.log.Warn().Err(err).Msg("replication tick failed")
				}
			}

		case now := <-freshC:
			if s.engine != nil {
				s.engine.CheckFreshness(now)
			}

		case <-initC:
			s.sendInit()

		case <-dogC:
			s.watchdog = nil
			s.dispatch(peer.Event{Kind: peer.EvWatchdogFired, Reason: "connect watchdog expired"})
		}

		s.publish()
	}
}

func (s *Session) cleanup() {
	s.execute(s.negotiator.Step(peer.Event{Kind: peer.EvTeardown}))
	s.disarmWatchdog()
	s.teardownLink()
	s.client.Close()
	s.publish()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// dispatch routes one event: pure side-channel events are handled here,
// everything else advances the negotiation machine.
func (s *Session) dispatch(ev peer.Event) {
	switch ev.Kind {
	case peer.EvLocalCandidate:
		if !s.sigDown {
			s.client.SendMessage(&wire.Message{
				Type:      wire.TypeICE,
				To:        s.negotiator.Remote(),
				Candidate: json.RawMessage(ev.Candidate),
			})
		}
		return
	case peer.EvChannelMessage:
		s.onChannelFrame(ev.Data)
		return
	}

	before := s.negotiator.State()
	s.execute(s.negotiator.Step(ev))
	s.onStateShift(before, s.negotiator.State())
}

func (s *Session) onStateShift(before, after peer.State) {
	if before == after {
		return
	}
	if after == peer.StateOpen {
		s.onLinkUp()
		return
	}
	if before == peer.StateOpen {
		// The link is renegotiating or gone; hold replication until it is
		// back.
		s.stopTicking()
	}
	if after == peer.StateFailed {
		if s.hosting {
			s.sim.SetWaitForPeer(true)
		}
	}
}

// onWire handles one relay message.
func (s *Session) onWire(msg *wire.Message) {
	switch msg.Type {
	case wire.TypePeerJoined:
		s.dispatch(peer.Event{Kind: peer.EvPeerPresent, PeerID: msg.Peer})

	case wire.TypePeerLeft:
		s.log.Info().Str("peer", msg.Peer).Msg("peer left the room")
		s.dispatch(peer.Event{Kind: peer.EvPeerGone, PeerID: msg.Peer})

	case wire.TypeOffer:
		if !s.fromRemote(msg.From) {
			return
		}
		s.dispatch(peer.Event{Kind: peer.EvOfferReceived, PeerID: msg.From, SDP: msg.SDP})

	case wire.TypeAnswer:
		if !s.fromRemote(msg.From) {
			return
		}
		s.dispatch(peer.Event{Kind: peer.EvAnswerReceived, PeerID: msg.From, SDP: msg.SDP})

	case wire.TypeICE:
		if !s.fromRemote(msg.From) {
			return
		}
		s.dispatch(peer.Event{Kind: peer.EvCandidateReceived, PeerID: msg.From, Candidate: msg.Candidate})

	case wire.TypeRestartICE:
		if !s.fromRemote(msg.From) {
			return
		}
		s.dispatch(peer.Event{Kind: peer.EvRestartRequested, PeerID: msg.From, Reason: msg.Reason})

	case wire.TypeError:
		s.log.Warn().Str("code", msg.Code).Str("to", msg.To).Msg("relay reported an error")
		s.setErr(&Error{Op: "relay", Code: msg.Code, Err: codeErr(msg.Code)})

	default:
		s.log.Debug().Str("type", msg.Type).Msg("unexpected relay message")
	}
}

func (s *Session) fromRemote(from string) bool {
	remote := s.negotiator.Remote()
	if remote == "" || from != remote {
		s.log.Debug().Str("from", from).Msg("signal from unknown peer dropped")
		return false
	}
	return true
}

// execute runs the machine's requested side effects. Failures inside an
// effect are folded back into the machine as transport failures.
func (s *Session) execute(actions []peer.Action) {
	var failures []string

	for _, a := range actions {
		switch a.Kind {
		case peer.ActMakeOffer:
			link, err := s.ensureLink()
			if err != nil {
				failures = append(failures, err.Error())
				continue
			}
			sdp, err := link.CreateOffer(a.Restart)
			if err != nil {
				failures = append(failures, err.Error())
				continue
			}
			s.signal(&wire.Message{Type: wire.TypeOffer, To: s.negotiator.Remote(), SDP: sdp})

		case peer.ActMakeAnswer:
			link, err := s.ensureLink()
			if err != nil {
				failures = append(failures, err.Error())
				continue
			}
			sdp, err := link.AcceptOffer(a.SDP)
			if err != nil {
				failures = append(failures, err.Error())
				continue
			}
			s.signal(&wire.Message{Type: wire.TypeAnswer, To: s.negotiator.Remote(), SDP: sdp})

		case peer.ActApplyAnswer:
			if s.link == nil {
				continue
			}
			if err := s.link.AcceptAnswer(a.SDP); err != nil {
				failures = append(failures, err.Error())
			}

		case peer.ActAddCandidate:
			link, err := s.ensureLink()
			if err != nil {
				failures = append(failures, err.Error())
				continue
			}
			if err := link.AddCandidate(a.Candidate); err != nil {
				// A single bad candidate is not fatal to the exchange.
				s.log.Debug().Err(err).Msg("candidate rejected")
			}

		case peer.ActRequestRestart:
			s.signal(&wire.Message{Type: wire.TypeRestartICE, To: s.negotiator.Remote(), Reason: a.Reason})

		case peer.ActArmWatchdog:
			s.armWatchdog()

		case peer.ActDisarmWatchdog:
			s.disarmWatchdog()

		case peer.ActResetLink:
			s.teardownLink()

		case peer.ActFail:
			err := &Error{Op: "negotiate", Err: fmt.Errorf("%w: %s", ErrConnectionFailed, a.Reason)}
			s.setErr(err)
			s.log.Error().Str("reason", a.Reason).Msg("negotiation failed; waiting for explicit reconnect")
			s.teardownLink()
		}
	}

	for _, reason := range failures {
		s.log.Warn().Str("reason", reason).Msg("negotiation side effect failed")
		s.dispatch(peer.Event{Kind: peer.EvTransportFailed, Reason: reason})
	}
}

func (s *Session) signal(msg *wire.Message) {
	if s.sigDown {
		s.log.Warn().Str("type", msg.Type).Msg("cannot signal, relay link is down")
		return
	}
	msg.From = s.peerID
	s.client.SendMessage(msg)
}

func (s *Session) ensureLink() (*peer.PeerLink, error) {
	if s.link != nil {
		return s.link, nil
	}
	s.linkGen++
	gen := s.linkGen
	emit := func(ev peer.Event) {
		ev.Link = gen
		select {
		case s.events <- ev:
		default:
			s.log.Warn().Str("event", ev.Kind.String()).Msg("link event dropped, queue full")
		}
	}
	link, err := peer.NewPeerLink(s.linkConfig(), emit)
	if err != nil {
		return nil, fmt.Errorf("build peer link: %w", err)
	}
	s.link = link
	return link, nil
}

func (s *Session) linkConfig() peer.LinkConfig {
	var ice []webrtc.ICEServer
	if stuns := s.cfg.GetSTUNServers(); len(stuns) > 0 {
		ice = append(ice, webrtc.ICEServer{URLs: stuns})
	}
	if turns := s.cfg.GetTURNServers(); len(turns) > 0 {
		user, pass := s.cfg.GetTURNCredentials()
		ice = append(ice, webrtc.ICEServer{URLs: turns, Username: user, Credential: pass})
	}
	return peer.LinkConfig{
		ICEServers: ice,
		ForceRelay: s.cfg.ForceRelay,
		Ordered:    s.cfg.Ordered,
		Loopback:   s.loopback,
		Logger:     s.log,
	}
}

// teardownLink closes the link wholesale and silences replication. The
// negotiator decides separately what happens next.
func (s *Session) teardownLink() {
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}
	if s.engine != nil {
		s.engine.Close()
		s.engine = nil
	}
	s.stopTicking()
	s.linkOpen = false
	if s.hosting {
		s.sim.SetWaitForPeer(true)
	}
}

func (s *Session) armWatchdog() {
	s.disarmWatchdog()
	d := s.cfg.Watchdog
	if d <= 0 {
		d = 8 * time.Second
	}
	s.watchdog = time.NewTimer(d)
}

func (s *Session) disarmWatchdog() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

// onLinkUp runs when negotiation reaches the open state, on first connect
// and after every recovered restart.
func (s *Session) onLinkUp() {
	s.linkOpen = true

	if s.hosting {
		if s.readyWith != "" && s.readyWith == s.negotiator.Remote() {
			// Both sides reported steady state before; re-running the
			// handshake would reset the client mid-run.
			s.sim.SetWaitForPeer(false)
			s.startTicking()
			return
		}
		s.sendInit()
		if s.initRetry == nil {
			s.initRetry = time.NewTicker(initRetryEvery)
		}
		return
	}

	if s.initialized && s.readyWith != "" && s.readyWith == s.negotiator.Remote() {
		s.startTicking()
	}
	// Otherwise wait for init.
}

func (s *Session) startTicking() {
	if s.engine == nil {
		s.engine = replication.NewEngine(replication.Config{
			Host:       s.hosting,
			Role:       string(s.role),
			RemoteRole: string(sim.Complement(s.role)),
			Window:     s.cfg.Freshness,
			Sim:        s.sim,
			Send:       func(data []byte) error { return s.link.Send(data) },
			Seq:        s.seq,
			Logger:     s.log,
		})
	}
	if s.tick == nil {
		rate := s.cfg.TickRate
		if rate <= 0 {
			rate = replication.DefaultTickRate
		}
		s.tick = time.NewTicker(time.Second / time.Duration(rate))
	}
	if s.freshCheck == nil {
		window := s.cfg.Freshness
		if window <= 0 {
			window = replication.DefaultFreshnessWindow
		}
		s.freshCheck = time.NewTicker(window / 2)
	}
}

func (s *Session) stopTicking() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
	if s.freshCheck != nil {
		s.freshCheck.Stop()
		s.freshCheck = nil
	}
	if s.initRetry != nil {
		s.initRetry.Stop()
		s.initRetry = nil
	}
}

func (s *Session) sendChannel(msgType string, payload any) error {
	if s.link == nil {
		return peer.ErrChannelNotOpen
	}
	msg, err := channel.NewMessage(msgType, s.seq.Next(), payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	data, err := channel.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	return s.link.Send(data)
}

// sendInit ships the opening world state. It is retried on a timer until
// ready arrives; the client applies every copy, so duplicates are safe.
func (s *Session) sendInit() {
	blob, err := s.sim.SerializeInitialState()
	if err != nil {
		s.setErr(&Error{Op: "handshake", Err: err})
		s.log.Error().Err(err).Msg("cannot serialize initial state")
		return
	}
	err = s.sendChannel(channel.TypeInit, channel.InitPayload{
		ProtocolVersion: channel.ProtocolVersion,
		HostRole:        string(s.role),
		State:           blob,
	})
	if err != nil && !errors.Is(err, peer.ErrChannelNotOpen) {
		s.log.Warn().Err(err).Msg("init not delivered")
	}
}

// onChannelFrame handles one raw data-channel frame.
func (s *Session) onChannelFrame(data []byte) {
	msg, err := channel.Decode(data)
	if err != nil {
		s.log.Debug().Err(err).Msg("undecodable channel frame dropped")
		return
	}

	switch msg.Type {
	case channel.TypeInit:
		s.onInit(msg)
	case channel.TypeReady:
		s.onReady()
	case channel.TypeBye:
		s.log.Info().Msg("peer said goodbye")
		s.dispatch(peer.Event{Kind: peer.EvPeerGone, PeerID: s.negotiator.Remote()})
	default:
		if s.engine == nil {
			s.log.Debug().Str("type", msg.Type).Msg("replication frame before handshake dropped")
			return
		}
		if err := s.engine.Receive(msg, time.Now()); err != nil {
			s.log.Warn().Err(err).Msg("inbound frame rejected")
		}
	}
}

// onInit applies the host's opening state and acknowledges it. A failed
// application surfaces as a bad-payload error and ready is withheld.
func (s *Session) onInit(msg channel.Message) {
	if s.hosting {
		s.log.Debug().Msg("init frame on the hosting side dropped")
		return
	}

	var p channel.InitPayload
	if err := msg.DecodePayload(&p); err != nil {
		s.setErr(&Error{Op: "handshake", Err: fmt.Errorf("%w: %v", ErrBadPayload, err)})
		return
	}
	if p.ProtocolVersion != channel.ProtocolVersion {
		s.setErr(&Error{Op: "handshake", Err: fmt.Errorf("%w: got %d, want %d",
			ErrVersionMismatch, p.ProtocolVersion, channel.ProtocolVersion)})
		return
	}
	hostRole := sim.Role(p.HostRole)
	if !hostRole.Valid() {
		s.setErr(&Error{Op: "handshake", Err: fmt.Errorf("%w: unknown host role %q", ErrBadPayload, p.HostRole)})
		return
	}
	if err := s.sim.ApplyInitialState(p.State); err != nil {
		s.setErr(&Error{Op: "handshake", Err: fmt.Errorf("%w: %v", ErrBadPayload, err)})
		return
	}

	s.role = sim.Complement(hostRole)
	s.sim.SetRole(s.role)
	s.initialized = true
	s.readyWith = s.negotiator.Remote()

	if err := s.sendChannel(channel.TypeReady, channel.ReadyPayload{}); err != nil {
		s.log.Warn().Err(err).Msg("ready not delivered")
		return
	}
	s.startTicking()
}

// onReady releases the frozen host simulation.
func (s *Session) onReady() {
	if !s.hosting {
		s.log.Debug().Msg("ready frame on the client side dropped")
		return
	}
	s.readyWith = s.negotiator.Remote()
	if s.initRetry != nil {
		s.initRetry.Stop()
		s.initRetry = nil
	}
	s.sim.SetWaitForPeer(false)
	s.startTicking()
}

// publish refreshes the snapshot served to Stats callers.
func (s *Session) publish() {
	stats := Stats{
		PeerID:    s.peerID,
		RemoteID:  s.negotiator.Remote(),
		RoomCode:  s.roomCode,
		Hosting:   s.hosting,
		Role:      string(s.role),
		LinkState: s.negotiator.State().String(),
		Restarts:  s.negotiator.Restarts(),
		RTT:       s.client.RTT(),
	}
	if s.engine != nil {
		stats.Channel = s.engine.Stats()
	} else {
		stats.Channel.State = replication.ChannelClosed.String()
	}

	s.mu.Lock()
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	s.view = stats
	s.mu.Unlock()
}
