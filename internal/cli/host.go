package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/softlock-games/tandem/internal/config"
	"github.com/softlock-games/tandem/internal/session"
	"github.com/softlock-games/tandem/internal/sim"
	"github.com/softlock-games/tandem/internal/ui"
)

var (
	flagDomain   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagOrdered  bool
	flagTickRate int
	flagRole     string
	flagHeadless bool
)

var hostCmd = &cobra.Command{
	Use:     "host",
	Aliases: []string{"h"},
	Short:   "Host a run and wait for a partner",
	Long: `Host a run: register a fresh room code with the relay and wait for
a partner to join. The hosting side simulates the world and streams it;
the joining side takes the other seat.

Examples:
  tandem host
  tandem host --role navigator
  tandem host --domain relay.example.com --relay`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostRun()
	},
}

func hostRun() error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	role := sim.Role(flagRole)
	if !role.Valid() {
		return fmt.Errorf("invalid role %q (driver or navigator)", flagRole)
	}

	cfg, err := LoadConfig(config.Options{
		Domain:     flagDomain,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		Ordered:    flagOrdered,
		TickRate:   flagTickRate,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	game := sim.NewDemoSim()
	sess := session.New(session.Options{
		Config:   cfg,
		Sim:      game,
		HostRole: role,
		Logger:   log,
	})

	fmt.Println()
	stopSpinner := ui.RunConnectSpinner("Connecting to relay...")
	defer stopSpinner()

	hostCtx, hostCancel := context.WithTimeout(ctx, 30*time.Second)
	defer hostCancel()
	code, err := sess.Host(hostCtx)
	if err != nil {
		return err
	}
	stopSpinner()

	fmt.Println()
	ui.RenderRoomCode(code)
	fmt.Println()

	return runSession(ctx, sess, game, flagHeadless, log)
}

func init() {
	rootCmd.AddCommand(hostCmd)

	hostCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom relay domain")
	hostCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	hostCmd.Flags().StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	hostCmd.Flags().StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	hostCmd.Flags().StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	hostCmd.Flags().BoolVarP(&flagRelay, "relay", "r", false, "Force relayed (TURN) transport")
	hostCmd.Flags().BoolVar(&flagOrdered, "ordered", false, "Use an ordered data channel")
	hostCmd.Flags().IntVar(&flagTickRate, "tick-rate", 0, "Snapshot rate in Hz (default 30)")
	hostCmd.Flags().StringVar(&flagRole, "role", string(sim.RoleDriver), "Seat to keep for yourself (driver or navigator)")
	hostCmd.Flags().BoolVar(&flagHeadless, "headless", false, "Run without the terminal UI")
}
