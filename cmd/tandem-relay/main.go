package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/softlock-games/tandem/internal/config"
	"github.com/softlock-games/tandem/internal/relay"
	"github.com/softlock-games/tandem/internal/server"
	"github.com/softlock-games/tandem/internal/version"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		configPath = fs.StringP("config", "c", "", "path to YAML config file")
		listenAddr = fs.StringP("listen", "a", "", "listen address (overrides config)")
		turnSecret = fs.String("turn-secret", "", "TURN shared secret (overrides config)")
		roomTTL    = fs.Int("room-ttl", 0, "room idle TTL in seconds (overrides config)")
		logLevel   = fs.StringP("log-level", "l", "", "log level (overrides config)")
		showVer    = fs.BoolP("version", "v", false, "print version and exit")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}
	if *showVer {
		logger.Info().Str("version", version.Version).Msg("tandem-relay")
		return
	}

	cfg, err := config.LoadRelay(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *turnSecret != "" {
		cfg.TURNSecret = *turnSecret
	}
	if *roomTTL > 0 {
		cfg.RoomTTLSeconds = *roomTTL
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	registry := prometheus.NewRegistry()

	hub := relay.NewHub(relay.Config{
		Logger:         logger,
		RoomTTL:        cfg.RoomTTL(),
		PruneInterval:  cfg.PruneInterval(),
		MaxMessageSize: cfg.MaxMessageSize,
		Metrics:        relay.NewMetrics(registry),
	})
	srv := server.NewServer(server.Config{
		Logger:     logger,
		Hub:        hub,
		ListenAddr: cfg.ListenAddr,
		Registry:   registry,
		TURNSecret: cfg.TURNSecret,
		TURNTTL:    cfg.TURNTTL(),
		ICEServers: cfg.ICEServers,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go hub.Run(ctx)

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 1)
	)
	wg.Add(1)
	go srv.Run(ctx, wg, errc)

	logger.Info().Str("version", version.Version).Str("addr", cfg.ListenAddr).Msg("relay starting")

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
