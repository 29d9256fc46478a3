package cli

import (
	"context"
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
	flagJoinDomain   string
	flagJoinSTUN     string
	flagJoinTURN     string
	flagJoinTURNUser string
	flagJoinTURNPass string
	flagJoinRelay    bool
	flagJoinOrdered  bool
	flagJoinHeadless bool
)

var joinCmd = &cobra.Command{
	Use:     "join <code>",
	Aliases: []string{"j"},
	Short:   "Join a hosted run by room code",
	Long: `Join a run that a partner is hosting. The host tells you the
four-digit room code; the relay introduces the two of you and the game
then runs peer to peer.

Examples:
  tandem join 4217
  tandem join 4217 --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRun(args[0])
	},
}

func joinRun(code string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}

	cfg, err := LoadConfig(config.Options{
		Domain:     flagJoinDomain,
		STUNServer: flagJoinSTUN,
		TURNServer: flagJoinTURN,
		TURNUser:   flagJoinTURNUser,
		TURNPass:   flagJoinTURNPass,
		ForceRelay: flagJoinRelay,
		Ordered:    flagJoinOrdered,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	game := sim.NewDemoSim()
	sess := session.New(session.Options{
		Config: cfg,
		Sim:    game,
		Logger: log,
	})

	stopSpinner := ui.RunConnectSpinner("Joining room " + code + "...")
	defer stopSpinner()

	joinCtx, joinCancel := context.WithTimeout(ctx, 30*time.Second)
	defer joinCancel()
	if err := sess.Join(joinCtx, code); err != nil {
		return err
	}
	stopSpinner()
	ui.PrintSuccessf("Joined room %s", code)

	return runSession(ctx, sess, game, flagJoinHeadless, log)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagJoinDomain, "domain", "", "Custom relay domain")
	joinCmd.Flags().StringVarP(&flagJoinSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagJoinTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVarP(&flagJoinRelay, "relay", "r", false, "Force relayed (TURN) transport")
	joinCmd.Flags().BoolVar(&flagJoinOrdered, "ordered", false, "Use an ordered data channel")
	joinCmd.Flags().BoolVar(&flagJoinHeadless, "headless", false, "Run without the terminal UI")
}
