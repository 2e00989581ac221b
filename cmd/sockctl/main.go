package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/sockframe/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sockctl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "sockctl",
		Short: "Run sockframe tables, bots and relays",
		Long: `sockctl drives sockframe endpoints over tcp, tcp-raw or ws.

  serve        host an authoritative UNO table
  play         join a table as a bot player
  relay        run or talk to the text relay
  config       write or check a config file`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if logLevel == "" {
				return nil
			}
			level, ok := logging.ParseLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (trace, debug, info, warn, error)")

	root.AddCommand(
		serveCmd(),
		playCmd(),
		relayCmd(),
		configCmd(),
	)
	return root
}
