package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/softlock-games/tandem/internal/relay"
)

const defaultShutdownDeadline = 10 * time.Second

var ErrUnexpected = errors.New("unexpected server error")

// Configure the websocket upgrader. Peers connect from browsers served by
// a different origin, so the origin check stays open.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Config carries the HTTP server's dependencies.
type Config struct {
	Logger     zerolog.Logger
	Hub        *relay.Hub
	ListenAddr string
	Registry   *prometheus.Registry

	// TURN credential issuance. Disabled when Secret is empty.
	TURNSecret string
	TURNTTL    time.Duration
	ICEServers []string
}

// Server exposes the relay over HTTP: the websocket endpoint itself plus
// health, metrics and TURN credential issuance.
type Server struct {
	log zerolog.Logger
	hub *relay.Hub

	turnSecret string
	turnTTL    time.Duration
	iceServers []string

	*http.Server
}

// NewServer wires the routes and returns a server ready to Run.
func NewServer(cfg Config) *Server {
	srv := &Server{
		log:        cfg.Logger.With().Str("component", "server").Logger(),
		hub:        cfg.Hub,
		turnSecret: cfg.TURNSecret,
		turnTTL:    cfg.TURNTTL,
		iceServers: cfg.ICEServers,
	}
	if srv.turnTTL <= 0 {
		srv.turnTTL = 6 * time.Hour
	}

	r := http.NewServeMux()
	r.HandleFunc("/ws", srv.serveWs)
	r.HandleFunc("GET /health", srv.health)
	r.HandleFunc("GET /turn-credentials", srv.turnCredentials)
	if cfg.Registry != nil {
		r.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

// serveWs upgrades the HTTP connection and hands it to the hub.
func (srv *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	srv.hub.Admit(conn)
}

func (srv *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// turnCredentials issues a time-boxed TURN credential pair for the
// requesting peer.
func (srv *Server) turnCredentials(w http.ResponseWriter, r *http.Request) {
	if srv.turnSecret == "" {
		http.NotFound(w, r)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	creds := relay.MintCredentials(srv.turnSecret, id, srv.turnTTL, srv.iceServers, time.Now())
	b, err := json.Marshal(creds)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBytes(srv.log, w, http.StatusOK, b)
}

func writeBytes(log zerolog.Logger, w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.log.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.log.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.log.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
