package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/softlock-games/tandem/internal/dns"
	"github.com/softlock-games/tandem/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// Application-level ping cadence for the relay RTT estimate.
	rttPeriod = 2 * time.Second

	// EWMA weight of a new RTT sample.
	rttAlpha = 0.2
)

// Client manages the WebSocket connection to the rendezvous relay.
//
// Incoming frames surface on one ordered channel. Pong frames are consumed
// internally to keep the RTT estimate, which is tracked independently of
// data channel health.
type Client struct {
	conn      *websocket.Conn
	serverURL string
	log       zerolog.Logger

	incoming chan *wire.Message
	outgoing chan *wire.Message
	done     chan struct{}
	closed   bool

	rttMicros atomic.Int64
	closeCode atomic.Int32
}

// NewClient creates a new signaling client for the given relay URL.
func NewClient(serverURL string, log zerolog.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		log:       log.With().Str("component", "signaling").Logger(),
		incoming:  make(chan *wire.Message, 32),
		outgoing:  make(chan *wire.Message, 32),
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the pumps.
func (c *Client) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}

	// Copy the default dialer and plug in the fallback-capable resolver.
	dialer := *websocket.DefaultDialer
	dialer.NetDial = func(network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ip, err := dns.Default.Lookup(context.Background(), host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		return net.Dial(network, net.JoinHostPort(ip, port))
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// readPump reads frames from the WebSocket connection. On exit it records
// the close code, if any, and closes the incoming channel.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg wire.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.closeCode.Store(int32(ce.Code))
			}
			return
		}

		if msg.Type == wire.TypePong {
			c.observePong(&msg)
			continue
		}

		c.incoming <- &msg
	}
}

// writePump writes outbound frames and drives both keepalive pings and the
// application-level RTT pings.
func (c *Client) writePump() {
	keepalive := time.NewTicker(pingPeriod)
	rtt := time.NewTicker(rttPeriod)

	defer func() {
		keepalive.Stop()
		rtt.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-rtt.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			ping := &wire.Message{Type: wire.TypePing, T: time.Now().UnixMilli()}
			if err := c.conn.WriteJSON(ping); err != nil {
				return
			}

		case <-keepalive.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// observePong folds a pong into the RTT estimate.
func (c *Client) observePong(msg *wire.Message) {
	if msg.Echo == 0 {
		return
	}
	sample := time.Since(time.UnixMilli(msg.Echo))
	if sample < 0 {
		return
	}
	prev := c.rttMicros.Load()
	if prev == 0 {
		c.rttMicros.Store(sample.Microseconds())
		return
	}
	next := int64(float64(prev)*(1-rttAlpha) + float64(sample.Microseconds())*rttAlpha)
	c.rttMicros.Store(next)
}

// RTT returns the smoothed relay round-trip estimate, zero before the
// first pong arrives.
func (c *Client) RTT() time.Duration {
	return time.Duration(c.rttMicros.Load()) * time.Microsecond
}

// CloseCode returns the websocket close code observed when the link ended,
// or zero while the link is up or after an abnormal end.
func (c *Client) CloseCode() int {
	return int(c.closeCode.Load())
}

// SendMessage queues a message for the relay.
func (c *Client) SendMessage(msg *wire.Message) {
	select {
	case c.outgoing <- msg:
	case <-c.done:
	}
}

// Incoming returns the channel of relay frames. It is closed when the link
// ends.
func (c *Client) Incoming() <-chan *wire.Message {
	return c.incoming
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}
