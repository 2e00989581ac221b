package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/sockframe/internal/socket"
	"github.com/danmuck/sockframe/internal/statesync"
	"github.com/danmuck/sockframe/internal/uno"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errTableClosed = errors.New("sockctl: table closed before the game ended")

const retryDelay = 500 * time.Millisecond

func playCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		delay      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a table as a bot player",
		Long: `Join a table as a bot player.

The bot keeps a local replica of its redacted view, plays the first legal
card it holds (naming its most common color for wilds) and draws otherwise.

Examples:
  sockctl play
  sockctl play --addr 127.0.0.1:1019 --delay 250ms`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Socket.Addr = addr
			}
			ccfg := cfg.clientConfig("bot")
			winner, me, err := runBot(cmd.Context(), ccfg, delay)
			if err != nil {
				return err
			}
			if winner == me {
				fmt.Fprintln(cmd.OutOrStdout(), "I won!")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Player %d won\n", winner)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "Table address")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Pause before each move")
	return cmd
}

// runBot plays one game and returns the winner and this bot's seat.
func runBot(ctx context.Context, cfg socket.ClientConfig, delay time.Duration) (winner, seat int, err error) {
	logger := log.With().Str("component", "sockctl.play").Logger()

	client := socket.NewClient(cfg)
	replica := statesync.NewReplica[uno.View](uno.PredictMove)
	replica.Attach(client, func(_ int, code uint64, text string) {
		logger.Info().Uint64("code", code).Str("text", text).Msg("server message")
	})
	if err := client.Connect(ctx); err != nil {
		return -1, -1, err
	}
	defer client.Stop()

	if err := replica.RequestState(); err != nil {
		return -1, -1, err
	}

	moves := 0
	for {
		select {
		case <-ctx.Done():
			return -1, -1, ctx.Err()
		case <-client.Done():
			if v, ok := replica.View(); ok && v.Winner != nil {
				return *v.Winner, v.PlayerID, nil
			}
			return -1, -1, errTableClosed
		case reason := <-replica.Rejections():
			logger.Debug().Str("reason", reason).Msg("retrying")
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return -1, -1, ctx.Err()
			}
			if err := replica.RequestState(); err != nil {
				return -1, -1, err
			}
		case v := <-replica.Updates():
			if v.Winner != nil {
				return *v.Winner, v.PlayerID, nil
			}
			if !v.MyTurn() {
				continue
			}
			moves++
			if delay > 0 {
				time.Sleep(delay)
			}
			move := v.SuggestMove()
			logger.Debug().Int("move", moves).Int("slot", move.Slot).Str("choice", move.Choice).Str("view", v.String()).Msg("proposing")
			if err := replica.Propose(move); err != nil {
				return -1, -1, err
			}
		}
	}
}
