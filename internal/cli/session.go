package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/softlock-games/tandem/internal/config"
	"github.com/softlock-games/tandem/internal/session"
	"github.com/softlock-games/tandem/internal/sim"
	"github.com/softlock-games/tandem/internal/ui"
)

// LoadConfig resolves the client configuration from flags, environment
// and defaults, and sanity-checks the relay combination.
func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// runSession drives an established session until the player leaves, then
// disconnects and prints the end-of-run summary.
func runSession(ctx context.Context, sess *session.Session, game *sim.DemoSim, headless bool, log zerolog.Logger) error {
	start := time.Now()
	poll := func() ui.SessionStatus { return statusOf(sess, game) }

	var err error
	if headless {
		err = headlessLoop(ctx, poll, log)
	} else {
		err = ui.RunStatus(poll)
	}

	final := poll()
	sess.Disconnect()

	fmt.Println()
	ui.RenderSessionSummary(final, time.Since(start))
	return err
}

// headlessLoop samples the session into the log until the context is
// cancelled. Used by soak scripts, where a terminal UI is just noise.
func headlessLoop(ctx context.Context, poll func() ui.SessionStatus, log zerolog.Logger) error {
	sample := time.NewTicker(5 * time.Second)
	defer sample.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sample.C:
			s := poll()
			log.Info().
				Str("link", s.LinkState).
				Str("channel", s.Channel).
				Uint64("sent", s.Sent).
				Uint64("received", s.Received).
				Uint64("stale", s.Stale).
				Dur("rtt", s.RTT).
				Int("restarts", s.Restarts).
				Uint64("tick", s.WorldTick).
				Int("score", s.Score).
				Msg("session status")
		}
	}
}

// statusOf shapes the session and world state for display.
func statusOf(sess *session.Session, game *sim.DemoSim) ui.SessionStatus {
	st := sess.Stats()
	w := game.View()

	drones := 0
	for _, d := range w.Drones {
		if d.HP > 0 {
			drones++
		}
	}

	return ui.SessionStatus{
		RoomCode:      st.RoomCode,
		Hosting:       st.Hosting,
		Role:          st.Role,
		RemoteID:      st.RemoteID,
		LinkState:     st.LinkState,
		Channel:       st.Channel.State,
		RTT:           st.RTT,
		Restarts:      st.Restarts,
		Sent:          st.Channel.Sent,
		Received:      st.Channel.Received,
		Stale:         st.Channel.Stale,
		Dropped:       st.Channel.Dropped,
		BytesSent:     st.Channel.BytesSent,
		BytesReceived: st.Channel.BytesReceived,
		LastInbound:   st.Channel.LastInbound,
		WorldTick:     w.Tick,
		Speed:         w.Car.Speed,
		Score:         w.Score,
		Drones:        drones,
		LastError:     st.LastError,
	}
}
