package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/softlock-games/tandem/internal/relay"
	"github.com/softlock-games/tandem/internal/wire"
)

func startServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Hub == nil {
		cfg.Hub = relay.NewHub(relay.Config{
			Logger:  zerolog.Nop(),
			Metrics: relay.NewMetrics(cfg.Registry),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go cfg.Hub.Run(ctx)

	srv := NewServer(cfg)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealth(t *testing.T) {
	ts := startServer(t, Config{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("get /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q, want ok", body)
	}
}

func TestTURNCredentialsDisabledWithoutSecret(t *testing.T) {
	ts := startServer(t, Config{})

	resp, err := http.Get(ts.URL + "/turn-credentials?id=peer-x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestTURNCredentials(t *testing.T) {
	ts := startServer(t, Config{
		TURNSecret: "shared-secret",
		TURNTTL:    time.Hour,
		ICEServers: []string{"turn:relay.example.com:3478?transport=udp"},
	})

	resp, err := http.Get(ts.URL + "/turn-credentials?id=peer-x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var creds relay.Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasSuffix(creds.Username, ":peer-x") {
		t.Errorf("username = %q, want expiry:peer-x form", creds.Username)
	}
	if creds.Credential == "" {
		t.Error("credential is empty")
	}
	if creds.TTL != 3600 {
		t.Errorf("ttl = %d, want 3600", creds.TTL)
	}
	if len(creds.URLs) != 1 {
		t.Errorf("urls = %v, want the configured list", creds.URLs)
	}
}

func TestTURNCredentialsRequireID(t *testing.T) {
	ts := startServer(t, Config{TURNSecret: "shared-secret"})

	resp, err := http.Get(ts.URL + "/turn-credentials")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMetricsExposed(t *testing.T) {
	ts := startServer(t, Config{})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "tandem_relay_rooms") {
		t.Fatal("metrics output does not include relay collectors")
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	ts := startServer(t, Config{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(&wire.Message{Type: wire.TypeJoin, Room: "1234", Peer: "p1", Create: true}); err != nil {
		t.Fatalf("write join: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg wire.Message
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != wire.TypeWelcome || msg.Room != "1234" {
		t.Fatalf("reply = %+v, want welcome for room 1234", msg)
	}
}
