package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/softlock-games/tandem/internal/config"
	"github.com/softlock-games/tandem/internal/relay"
	"github.com/softlock-games/tandem/internal/sim"
	"github.com/softlock-games/tandem/internal/wire"
)

func startRelay(t *testing.T) string {
	t.Helper()
	hub := relay.NewHub(relay.Config{Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Admit(conn)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func testConfig(wsURL string) *config.Config {
	return &config.Config{
		Domain:       "test.invalid",
		WebSocketURL: wsURL,
		TickRate:     30,
		Watchdog:     8 * time.Second,
		Freshness:    time.Second,
	}
}

// countingSim counts handshake applications on top of the demo game.
type countingSim struct {
	*sim.DemoSim
	mu    sync.Mutex
	inits int
}

func (c *countingSim) ApplyInitialState(blob []byte) error {
	c.mu.Lock()
	c.inits++
	c.mu.Unlock()
	return c.DemoSim.ApplyInitialState(blob)
}

func (c *countingSim) initCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inits
}

func newSession(t *testing.T, wsURL string, game sim.Simulation, codes wire.CodeSource) *Session {
	t.Helper()
	s := New(Options{
		Config:   testConfig(wsURL),
		Sim:      game,
		Codes:    codes,
		Logger:   zerolog.Nop(),
		Loopback: true,
	})
	t.Cleanup(s.Disconnect)
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHostJoinReplicate(t *testing.T) {
	url := startRelay(t)
	ctx := testContext(t)

	hostSim := sim.NewDemoSim()
	clientSim := sim.NewDemoSim()
	host := newSession(t, url, hostSim, nil)
	client := newSession(t, url, clientSim, nil)

	code, err := host.Host(ctx)
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	if err := wire.ValidateCode(code); err != nil {
		t.Fatalf("Host returned code %q: %v", code, err)
	}

	if err := client.Join(ctx, code); err != nil {
		t.Fatalf("Join: %v", err)
	}

	waitFor(t, "both links open", func() bool {
		return host.Stats().LinkState == "open" && client.Stats().LinkState == "open"
	})
	waitFor(t, "replication active both ways", func() bool {
		return host.Stats().Channel.State == "active" && client.Stats().Channel.State == "active"
	})

	if got := host.Stats().Role; got != string(sim.RoleDriver) {
		t.Fatalf("host role = %q, want driver", got)
	}
	waitFor(t, "client role assignment", func() bool {
		return client.Stats().Role == string(sim.RoleNavigator)
	})

	// The host must be unfrozen and the client must be receiving its
	// world.
	waitFor(t, "host world advancing", func() bool {
		return hostSim.View().Tick > 5
	})
	waitFor(t, "client world tracking host", func() bool {
		return clientSim.View().Tick > 5
	})

	if rtt := host.Stats().RTT; rtt <= 0 {
		t.Fatalf("host RTT = %v, want a positive sample", rtt)
	}
}

func TestSnapshotCadence(t *testing.T) {
	url := startRelay(t)
	ctx := testContext(t)

	host := newSession(t, url, sim.NewDemoSim(), nil)
	client := newSession(t, url, sim.NewDemoSim(), nil)

	code, err := host.Host(ctx)
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	if err := client.Join(ctx, code); err != nil {
		t.Fatalf("Join: %v", err)
	}
	waitFor(t, "replication active", func() bool {
		return client.Stats().Channel.State == "active"
	})

	base := client.Stats().Channel.Received
	time.Sleep(2 * time.Second)
	got := client.Stats().Channel.Received - base

	// 30 Hz over two seconds, with slack for scheduler jitter.
	if got < 48 || got > 78 {
		t.Fatalf("received %d snapshots in 2s, want about 60", got)
	}
}

func TestJoinRoomNotFound(t *testing.T) {
	url := startRelay(t)

	client := newSession(t, url, sim.NewDemoSim(), nil)
	err := client.Join(testContext(t), "0000")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Join error = %v, want ErrRoomNotFound", err)
	}

	var sessErr *Error
	if !errors.As(err, &sessErr) {
		t.Fatalf("Join error %T does not carry an operation", err)
	}
	if sessErr.Code != wire.CodeRoomNotFound {
		t.Fatalf("error code = %q, want %q", sessErr.Code, wire.CodeRoomNotFound)
	}
}

func TestJoinRejectsMalformedCodeLocally(t *testing.T) {
	client := newSession(t, "ws://127.0.0.1:1/ws", sim.NewDemoSim(), nil)
	err := client.Join(testContext(t), "12")
	if !errors.Is(err, ErrBadCode) {
		t.Fatalf("Join error = %v, want ErrBadCode", err)
	}
}

func TestHostRetriesTakenCode(t *testing.T) {
	url := startRelay(t)
	ctx := testContext(t)

	squatter := newSession(t, url, sim.NewDemoSim(), func() string { return "1111" })
	if _, err := squatter.Host(ctx); err != nil {
		t.Fatalf("squatter Host: %v", err)
	}

	codes := []string{"1111", "2222"}
	var idx int
	source := func() string {
		code := codes[idx%len(codes)]
		idx++
		return code
	}

	host := newSession(t, url, sim.NewDemoSim(), source)
	code, err := host.Host(ctx)
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	if code != "2222" {
		t.Fatalf("Host settled on %q, want the retry code 2222", code)
	}
}

func TestHostGivesUpWithNoFreeCode(t *testing.T) {
	url := startRelay(t)
	ctx := testContext(t)

	squatter := newSession(t, url, sim.NewDemoSim(), func() string { return "3333" })
	if _, err := squatter.Host(ctx); err != nil {
		t.Fatalf("squatter Host: %v", err)
	}

	host := newSession(t, url, sim.NewDemoSim(), func() string { return "3333" })
	_, err := host.Host(ctx)
	if !errors.Is(err, ErrNoFreeCode) {
		t.Fatalf("Host error = %v, want ErrNoFreeCode", err)
	}
}

func TestReconnectClientSkipsHandshake(t *testing.T) {
	url := startRelay(t)
	ctx := testContext(t)

	hostSim := sim.NewDemoSim()
	clientSim := &countingSim{DemoSim: sim.NewDemoSim()}
	host := newSession(t, url, hostSim, nil)
	client := newSession(t, url, clientSim, nil)

	code, err := host.Host(ctx)
	if err != nil {
		t.Fatalf("Host: %v", err)
	}
	if err := client.Join(ctx, code); err != nil {
		t.Fatalf("Join: %v", err)
	}
	waitFor(t, "first pairing active", func() bool {
		return host.Stats().Channel.State == "active" && client.Stats().Channel.State == "active"
	})
	if got := clientSim.initCount(); got != 1 {
		t.Fatalf("init applied %d times on first pairing, want 1", got)
	}

	client.Disconnect()
	waitFor(t, "host back to waiting", func() bool {
		return host.Stats().LinkState == "idle"
	})

	if err := client.ReconnectClient(ctx); err != nil {
		t.Fatalf("ReconnectClient: %v", err)
	}
	waitFor(t, "second pairing active", func() bool {
		return host.Stats().Channel.State == "active" && client.Stats().Channel.State == "active"
	})

	// Both sides were already steady, so the handshake must not rerun.
	if got := clientSim.initCount(); got != 1 {
		t.Fatalf("init applied %d times after reconnect, want still 1", got)
	}
}

func TestDisconnectClosesEverything(t *testing.T) {
	url := startRelay(t)
	ctx := testContext(t)

	host := newSession(t, url, sim.NewDemoSim(), nil)
	if _, err := host.Host(ctx); err != nil {
		t.Fatalf("Host: %v", err)
	}

	host.Disconnect()
	stats := host.Stats()
	if stats.LinkState != "closed" {
		t.Fatalf("link state = %q after disconnect, want closed", stats.LinkState)
	}
	if stats.Channel.State != "closed" {
		t.Fatalf("channel state = %q after disconnect, want closed", stats.Channel.State)
	}

	// The room code survives for a reconnect attempt.
	if stats.RoomCode == "" {
		t.Fatal("room code cleared by disconnect")
	}
}

func TestHostSecondCallRejected(t *testing.T) {
	url := startRelay(t)
	ctx := testContext(t)

	host := newSession(t, url, sim.NewDemoSim(), nil)
	if _, err := host.Host(ctx); err != nil {
		t.Fatalf("Host: %v", err)
	}
	if _, err := host.Host(ctx); err == nil {
		t.Fatal("second Host on a live session succeeded")
	}
}
