package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/softlock-games/tandem/internal/wire"
)

const (
	defaultRoomTTL        = 5 * time.Minute
	defaultPruneInterval  = 10 * time.Second
	defaultMaxMessageSize = 64 * 1024
)

// frame pairs an inbound message with the connection it arrived on.
type frame struct {
	client *Client
	msg    *wire.Message
}

// Config carries the hub's tunables. Zero values fall back to defaults.
type Config struct {
	Logger         zerolog.Logger
	RoomTTL        time.Duration
	PruneInterval  time.Duration
	MaxMessageSize int64
	Metrics        *Metrics
}

// Hub owns the room registry. All room and membership mutation happens on
// the single goroutine running Run, fed by the register, unregister and
// frames channels, so no locking is needed anywhere in this package.
type Hub struct {
	log     zerolog.Logger
	metrics *Metrics

	rooms map[string]*Room

	register   chan *Client
	unregister chan *Client
	frames     chan frame

	roomTTL        time.Duration
	pruneInterval  time.Duration
	maxMessageSize int64
}

// NewHub creates a hub with an empty room registry.
func NewHub(cfg Config) *Hub {
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = defaultRoomTTL
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Hub{
		log:            cfg.Logger.With().Str("component", "hub").Logger(),
		metrics:        cfg.Metrics,
		rooms:          make(map[string]*Room),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		frames:         make(chan frame),
		roomTTL:        cfg.RoomTTL,
		pruneInterval:  cfg.PruneInterval,
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// Admit attaches a freshly upgraded connection to the hub and starts its
// read and write pumps.
func (h *Hub) Admit(conn *websocket.Conn) {
	client := newClient(h, conn)
	h.register <- client
	go client.writePump()
	go client.readPump()
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			client.log.Debug().Msg("client connected")

		case client := <-h.unregister:
			client.log.Debug().Msg("client disconnected")
			h.drop(client, true)
			close(client.send)

		case fr := <-h.frames:
			h.handle(fr.client, fr.msg)

		case <-ticker.C:
			h.prune()
		}
	}
}

// handle dispatches one inbound frame. Runs on the hub goroutine.
func (h *Hub) handle(c *Client, msg *wire.Message) {
	if msg.Type == wire.TypeJoin {
		h.join(c, msg)
		return
	}

	if c.room == "" {
		// Frames before a successful join carry no routable context.
		h.metrics.dropped.WithLabelValues("unjoined").Inc()
		return
	}
	room, ok := h.rooms[c.room]
	if !ok {
		return
	}

	c.lastSeen = time.Now()

	if msg.Type == wire.TypePing {
		// Answered directly, never relayed into the room.
		c.deliver(&wire.Message{Type: wire.TypePong, Echo: msg.T, T: time.Now().UnixMilli()})
		return
	}

	h.relay(room, c, msg)
}

func (h *Hub) join(c *Client, msg *wire.Message) {
	code := wire.NormalizeCode(msg.Room)
	if err := wire.ValidateCode(code); err != nil || msg.Peer == "" {
		h.metrics.joins.WithLabelValues("bad_code").Inc()
		c.deliver(&wire.Message{Type: wire.TypeError, Code: wire.CodeBadCode})
		return
	}

	room, exists := h.rooms[code]

	if msg.Create && exists {
		h.metrics.joins.WithLabelValues("room_taken").Inc()
		c.deliver(&wire.Message{Type: wire.TypeError, Code: wire.CodeRoomTaken})
		c.dismiss(wire.CloseRoomTaken, "room taken")
		return
	}
	if !msg.Create && !exists {
		h.metrics.joins.WithLabelValues("room_not_found").Inc()
		c.deliver(&wire.Message{Type: wire.TypeError, Code: wire.CodeRoomNotFound})
		c.dismiss(wire.CloseRoomNotFound, "room not found")
		return
	}

	if exists {
		if prior, ok := room.Members[msg.Peer]; ok {
			// A rejoin under the same peer id replaces the previous
			// connection. The room stays alive through the swap; the
			// other member sees a fresh peer-joined but no peer-left.
			delete(room.Members, msg.Peer)
			h.metrics.clients.Dec()
			prior.room = ""
			prior.peer = ""
			prior.dismiss(wire.CloseReplaced, "replaced by reconnect")
			prior.log.Info().Str("room", code).Str("peer", msg.Peer).Msg("replaced by reconnect")
		} else if len(room.Members) >= maxSeats {
			h.metrics.joins.WithLabelValues("room_taken").Inc()
			c.deliver(&wire.Message{Type: wire.TypeError, Code: wire.CodeRoomTaken})
			c.dismiss(wire.CloseRoomTaken, "room occupied")
			return
		}
	} else {
		room = newRoom(code, time.Now())
		h.rooms[code] = room
		h.metrics.rooms.Inc()
		h.log.Info().Str("room", code).Msg("room created")
	}

	room.Members[msg.Peer] = c
	c.room = code
	c.peer = msg.Peer
	c.lastSeen = time.Now()
	h.metrics.clients.Inc()
	h.metrics.joins.WithLabelValues("ok").Inc()

	h.log.Info().Str("room", code).Str("peer", msg.Peer).Bool("create", msg.Create).Msg("peer joined")

	c.deliver(&wire.Message{
		Type:  wire.TypeWelcome,
		Room:  code,
		Peer:  msg.Peer,
		Peers: room.peerIDs(msg.Peer),
	})
	for _, other := range room.others(msg.Peer) {
		other.deliver(&wire.Message{Type: wire.TypePeerJoined, Peer: msg.Peer})
	}
}

// relay forwards a message to its addressee, or to every other room member
// when no addressee is named. The sender's peer id is stamped into From so
// it cannot be spoofed.
func (h *Hub) relay(room *Room, from *Client, msg *wire.Message) {
	msg.From = from.peer

	if msg.To != "" {
		target, ok := room.Members[msg.To]
		if !ok {
			h.metrics.dropped.WithLabelValues("no_such_peer").Inc()
			from.deliver(&wire.Message{Type: wire.TypeError, Code: wire.CodeNoSuchPeer, To: msg.To})
			return
		}
		target.deliver(msg)
		h.metrics.relayed.Inc()
		return
	}

	for _, other := range room.others(from.peer) {
		other.deliver(msg)
		h.metrics.relayed.Inc()
	}
}

// drop removes a client from its room, optionally notifying the remaining
// members, and deletes the room once it empties. Safe to call for clients
// that were never joined or were already removed.
func (h *Hub) drop(c *Client, notify bool) {
	if c.room == "" {
		return
	}
	if room, ok := h.rooms[c.room]; ok {
		delete(room.Members, c.peer)
		h.metrics.clients.Dec()
		if len(room.Members) == 0 {
			delete(h.rooms, room.Code)
			h.metrics.rooms.Dec()
			h.log.Info().Str("room", room.Code).Msg("room deleted")
		} else if notify {
			for _, other := range room.others(c.peer) {
				other.deliver(&wire.Message{Type: wire.TypePeerLeft, Peer: c.peer})
			}
		}
	}
	c.room = ""
	c.peer = ""
}

// prune force-closes clients idle longer than the room TTL.
func (h *Hub) prune() {
	now := time.Now()
	for _, room := range h.rooms {
		for id, member := range room.Members {
			if now.Sub(member.lastSeen) <= h.roomTTL {
				continue
			}
			h.log.Info().Str("room", room.Code).Str("peer", id).Msg("pruning stale peer")
			h.metrics.pruned.Inc()
			member.dismiss(wire.ClosePruned, "pruned after idle timeout")
			h.drop(member, true)
		}
	}
}
