package relay

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/softlock-games/tandem/internal/wire"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// outbound is one entry in a client's write queue: either a message or a
// close frame. Keeping both in one queue preserves ordering, so an error
// message queued before a close frame is written first.
type outbound struct {
	msg   *wire.Message
	close *closeFrame
}

type closeFrame struct {
	code   int
	reason string
}

// Client wraps a single websocket connection from one peer.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	log  zerolog.Logger

	// room, peer and lastSeen are owned by the hub goroutine. room is
	// empty until a join is accepted.
	room     string
	peer     string
	lastSeen time.Time

	send chan outbound
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		log:  hub.log.With().Str("addr", conn.RemoteAddr().String()).Logger(),
		send: make(chan outbound, 64),
	}
}

// deliver queues an outbound message. A full queue means the peer has
// stopped draining; the message is dropped rather than stalling the hub.
func (c *Client) deliver(msg *wire.Message) {
	select {
	case c.send <- outbound{msg: msg}:
	default:
		c.log.Warn().Str("type", msg.Type).Msg("send queue full, dropping message")
	}
}

// dismiss queues a close frame with the given code. The write pump exits
// after writing it.
func (c *Client) dismiss(code int, reason string) {
	select {
	case c.send <- outbound{close: &closeFrame{code: code, reason: reason}}:
	default:
		c.log.Warn().Int("code", code).Msg("send queue full, dropping close frame")
	}
}

// readPump pumps frames from the websocket connection to the hub.
//
// It runs in a per-connection goroutine; all reads happen here. Frames that
// fail to decode are dropped without feedback. Oversized frames trip the
// read limit and gorilla terminates the connection with close code 1009.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.hub.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.metrics.dropped.WithLabelValues("malformed").Inc()
			continue
		}

		c.hub.frames <- frame{client: c, msg: &msg}
	}
}

// writePump pumps messages from the hub to the websocket connection and
// sends periodic pings.
//
// It runs in a per-connection goroutine; all writes happen here.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case out, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the queue.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if out.close != nil {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(out.close.code, out.close.reason))
				return
			}
			if err := c.conn.WriteJSON(out.msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
