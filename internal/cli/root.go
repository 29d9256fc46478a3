package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/softlock-games/tandem/internal/ui"
	"github.com/softlock-games/tandem/internal/version"
)

var flagLogLevel string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "tandem",
	Short:   "Two-player co-op driving sessions over WebRTC",
	Long: `Tandem pairs a driver and a navigator over a direct WebRTC data
channel. One player hosts a run and shares a four-digit room code; the
other joins with it. A small rendezvous relay brokers the introduction,
after which all game traffic flows peer to peer.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

// newLogger builds the console logger from the --log-level flag. The
// default is warn so the live status view stays clean.
func newLogger() (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", flagLogLevel, err)
	}
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (trace|debug|info|warn|error)")
}
