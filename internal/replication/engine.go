package replication

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/softlock-games/tandem/internal/channel"
)

// DefaultTickRate is the snapshot and input cadence in ticks per second.
const DefaultTickRate = 30

// Simulation is the collaborator whose state the engine replicates. All
// calls happen on the session loop.
type Simulation interface {
	ProduceSnapshot() ([]byte, error)
	ApplySnapshot(blob []byte) error
	ReadLocalInput() ([]byte, error)
	ApplyRemoteInput(role string, payload []byte) error
}

// Stats is a point-in-time sample of replication counters.
type Stats struct {
	State         string
	Tick          uint64
	Sent          uint64
	Received      uint64
	Stale         uint64
	Dropped       uint64
	BytesSent     uint64
	BytesReceived uint64
	LastInbound   time.Time
}

// Config assembles an engine for one link.
type Config struct {
	// Host selects the snapshot-producing side; the other side produces
	// input frames.
	Host bool
	// Role is the local participant's role, stamped on outbound input.
	Role string
	// RemoteRole is the only role accepted on inbound input frames.
	RemoteRole string
	Window     time.Duration
	Sim        Simulation
	Send       func([]byte) error
	// Seq may be shared with the session so handshake frames and
	// replication frames draw from one counter.
	Seq    *channel.Sequencer
	Logger zerolog.Logger
}

// Engine pumps full snapshots one way and input frames the other, and
// tracks whether the inbound side is fresh. It is owned by the session
// loop; nothing here locks.
type Engine struct {
	host       bool
	role       string
	remoteRole string

	sim    Simulation
	send   func([]byte) error
	seq    *channel.Sequencer
	filter channel.SeqFilter
	fresh  *Freshness

	tick  uint64
	stats Stats

	log zerolog.Logger
}

// NewEngine returns an engine in ChannelOpen.
func NewEngine(cfg Config) *Engine {
	seq := cfg.Seq
	if seq == nil {
		seq = &channel.Sequencer{}
	}
	return &Engine{
		host:       cfg.Host,
		role:       cfg.Role,
		remoteRole: cfg.RemoteRole,
		sim:        cfg.Sim,
		send:       cfg.Send,
		seq:        seq,
		fresh:      NewFreshness(cfg.Window),
		log:        cfg.Logger.With().Str("component", "replication").Logger(),
	}
}

// Tick runs one send cycle for whichever side this engine drives.
func (e *Engine) Tick(now time.Time) error {
	if e.fresh.State() == ChannelClosed {
		return nil
	}
	if e.host {
		return e.hostTick(now)
	}
	return e.clientTick(now)
}

// hostTick serializes the full world state into one snapshot. Snapshots
// are always self-contained; a lost one is simply overtaken by the next.
func (e *Engine) hostTick(now time.Time) error {
	blob, err := e.sim.ProduceSnapshot()
	if err != nil {
		return fmt.Errorf("produce snapshot: %w", err)
	}
	packed, compressed := channel.PackSnapshotState(blob)
	e.tick++
	msg, err := channel.NewMessage(channel.TypeSnapshot, e.seq.Next(), channel.SnapshotPayload{
		Tick:       e.tick,
		SentAt:     now.UnixMilli(),
		State:      packed,
		Compressed: compressed,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return e.ship(msg)
}

// clientTick serializes the local role's intent into one input frame.
func (e *Engine) clientTick(now time.Time) error {
	data, err := e.sim.ReadLocalInput()
	if err != nil {
		return fmt.Errorf("read local input: %w", err)
	}
	e.tick++
	msg, err := channel.NewMessage(channel.TypeInput, e.seq.Next(), channel.InputPayload{
		Role:   e.role,
		SentAt: now.UnixMilli(),
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	return e.ship(msg)
}

func (e *Engine) ship(msg channel.Message) error {
	data, err := channel.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := e.send(data); err != nil {
		return err
	}
	e.stats.Sent++
	e.stats.BytesSent += uint64(len(data))
	return nil
}

// Receive applies one decoded inbound frame. Frames with stale sequence
// numbers are counted and discarded; the channel is unordered, so an old
// frame arriving after a newer one must never win.
func (e *Engine) Receive(msg channel.Message, now time.Time) error {
	switch msg.Type {
	case channel.TypeSnapshot:
		if e.host {
			e.drop("snapshot on host side")
			return nil
		}
		if !e.filter.Fresh(msg.Seq) {
			e.stats.Stale++
			return nil
		}
		var p channel.SnapshotPayload
		if err := msg.DecodePayload(&p); err != nil {
			e.drop("undecodable snapshot")
			return nil
		}
		blob, err := channel.UnpackSnapshotState(&p)
		if err != nil {
			e.drop("corrupt snapshot state")
			return nil
		}
		if err := e.sim.ApplySnapshot(blob); err != nil {
			return fmt.Errorf("apply snapshot: %w", err)
		}
		e.observe(now, msg)
		return nil

	case channel.TypeInput:
		if !e.host {
			e.drop("input on client side")
			return nil
		}
		if !e.filter.Fresh(msg.Seq) {
			e.stats.Stale++
			return nil
		}
		var p channel.InputPayload
		if err := msg.DecodePayload(&p); err != nil {
			e.drop("undecodable input")
			return nil
		}
		if p.Role != e.remoteRole {
			e.drop("input for wrong role")
			return nil
		}
		if err := e.sim.ApplyRemoteInput(p.Role, p.Data); err != nil {
			return fmt.Errorf("apply remote input: %w", err)
		}
		e.observe(now, msg)
		return nil
	}

	e.drop("unexpected frame type " + msg.Type)
	return nil
}

func (e *Engine) observe(now time.Time, msg channel.Message) {
	e.fresh.Observe(now)
	e.stats.Received++
	e.stats.BytesReceived += uint64(len(msg.Payload))
}

func (e *Engine) drop(reason string) {
	e.stats.Dropped++
	e.log.Debug().Str("reason", reason).Msg("frame dropped")
}

// CheckFreshness re-evaluates the freshness window at now.
func (e *Engine) CheckFreshness(now time.Time) ChannelState {
	return e.fresh.Check(now)
}

// Close marks the channel closed. The caller clears its own timers.
func (e *Engine) Close() {
	e.fresh.Close()
}

// State returns the channel state as last evaluated.
func (e *Engine) State() ChannelState {
	return e.fresh.State()
}

// Stats samples the counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.State = e.fresh.State().String()
	s.Tick = e.tick
	s.LastInbound = e.fresh.Last()
	return s
}
